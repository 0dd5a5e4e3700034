package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/meigma/codondb"
	"github.com/meigma/codondb/internal/config"
	"github.com/meigma/codondb/store"
)

// app is the composition root shared by every subcommand. The session is
// created once in PersistentPreRunE and closed by run.
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *slog.Logger
	session *codondb.Session
	store   store.Store
}

// run executes the command line in args and releases the session.
func run(ctx context.Context, args []string) error {
	a := &app{}
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "codondb",
		Short:         "Query the codon usage database",
		Long:          `codondb downloads the codon usage snapshot once, caches it locally, and runs read-only SQL against it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("CODONDB_CONFIG"), "path to a TOML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newWarmCmd(a),
		newQueryCmd(a),
		newUsageCmd(a),
		newSpeciesCmd(a),
		newServeCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), level)

	opts, st, err := cfg.SessionOptions(a.logger)
	if err != nil {
		return err
	}
	s, err := codondb.New(opts...)
	if err != nil {
		return err
	}
	a.session = s
	a.store = st
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}
