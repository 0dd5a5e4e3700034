package main

import (
	"fmt"
	"slices"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meigma/codondb/usage"
)

func newUsageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <org-id>",
		Short: "Show the codon usage table of an organism",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org := args[0]
			if err := a.initWithProgress(cmd.Context()); err != nil {
				return err
			}
			o, err := usage.LookupOrganism(cmd.Context(), a.session, org)
			if err != nil {
				return err
			}
			u, err := usage.ForOrganism(cmd.Context(), a.session, org)
			if err != nil {
				return err
			}

			pterm.DefaultSection.Printf("%s (org %d, taxid %d)", o.Species, o.OrgID, o.TaxID)
			pterm.Printf("%d CDS, %d codons, GC %.2f%%\n\n", o.NumCDS, o.NumCodons, o.GCPerc)

			freqs := u.Frequencies()
			aminos := make([]rune, 0, len(freqs))
			for aa := range freqs {
				aminos = append(aminos, aa)
			}
			slices.Sort(aminos)

			data := pterm.TableData{{"AA", "Codon", "Count", "Fraction"}}
			for _, aa := range aminos {
				for _, codon := range usage.CodonTable[aa] {
					data = append(data, []string{
						string(aa), codon,
						fmt.Sprint(u[codon]),
						fmt.Sprintf("%.3f", freqs[aa][codon]),
					})
				}
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
}
