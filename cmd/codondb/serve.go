package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/meigma/codondb/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP",
		Long: `serve starts loading the snapshot in the background and serves the HTTP API
immediately. Queries return 409 until the snapshot is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = a.cfg.Listen
			}
			a.session.Start()

			srv := &nethttp.Server{
				Addr:              listen,
				Handler:           api.New(a.session, a.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("serving", "addr", listen)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}
			a.logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, nethttp.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (defaults to the configured listen)")
	return cmd
}
