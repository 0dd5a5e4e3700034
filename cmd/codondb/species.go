package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meigma/codondb/usage"
)

func newSpeciesCmd(*app) *cobra.Command {
	return &cobra.Command{
		Use:   "species",
		Short: "List well-known organisms and their ids",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			data := pterm.TableData{{"Org ID", "Species"}}
			for _, s := range usage.KnownSpecies {
				data = append(data, []string{s.OrgID, s.Label})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
}
