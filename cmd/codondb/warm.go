package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meigma/codondb"
)

func newWarmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Download and cache the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.initWithProgress(cmd.Context()); err != nil {
				return err
			}
			d := a.session.Diagnostics()
			pterm.Success.Println(warmSummary(d))
			if d.PersistErr != nil {
				pterm.Warning.Printf("snapshot could not be cached: %v\n", d.PersistErr)
			}
			return nil
		},
	}
}

// initWithProgress initializes the session, drawing a progress bar on
// stdout while the snapshot loads.
func (a *app) initWithProgress(ctx context.Context) error {
	events, cancel := a.session.Subscribe()
	defer cancel()

	bar, err := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle("Loading codon database").
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		return a.session.Init(ctx)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		shown := 0
		for ev := range events {
			pct := int(math.Round(ev.Fraction * 100))
			if pct > shown {
				bar.Add(pct - shown)
				shown = pct
			}
			bar.UpdateTitle(stageTitle(ev.Stage))
		}
	}()

	initErr := a.session.Init(ctx)
	if initErr == nil || a.session.State().Terminal() {
		<-done
	}
	_, _ = bar.Stop()
	if initErr != nil {
		pterm.Error.Println(codondb.Message(initErr))
	}
	return initErr
}

func stageTitle(s codondb.ProgressStage) string {
	switch s {
	case codondb.StageLookup:
		return "Checking cache"
	case codondb.StageDownloading:
		return "Downloading codon database"
	case codondb.StageBuilding:
		return "Opening database"
	default:
		return "Loading codon database"
	}
}

func warmSummary(d codondb.Diagnostics) string {
	source := "downloaded"
	if d.FromCache {
		source = "loaded from cache"
	}
	return fmt.Sprintf("codon database %s (%s in %s)",
		source, humanize.IBytes(uint64(max(d.Bytes, 0))), d.Duration.Round(time.Millisecond))
}
