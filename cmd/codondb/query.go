package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meigma/codondb"
)

func newQueryCmd(a *app) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SQL statement",
		Example: `  codondb query "select TTT, TTC from codon_usage where org_id = :org" --param :org=16815
  codondb query "select count(*) from organisms"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bound, err := parseParams(params)
			if err != nil {
				return err
			}
			if err := a.initWithProgress(cmd.Context()); err != nil {
				return err
			}
			res, err := a.session.Query(cmd.Context(), args[0], bound)
			if err != nil {
				return err
			}
			return renderResult(res)
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "named parameter as NAME=VALUE, e.g. :org=16815 (repeatable)")
	return cmd
}

// parseParams turns NAME=VALUE pairs into bound parameters. Values that
// parse as integers or floats are bound as numbers.
func parseParams(pairs []string) (codondb.Params, error) {
	params := make(codondb.Params, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q: want NAME=VALUE", pair)
		}
		if _, dup := params[name]; dup {
			return nil, fmt.Errorf("parameter %s given twice", name)
		}
		params[name] = parseValue(value)
	}
	return params, nil
}

func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func renderResult(res *codondb.Result) error {
	if res == nil {
		pterm.Info.Println("statement returned no result set")
		return nil
	}
	data := pterm.TableData{res.Columns}
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		data = append(data, cells)
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Printf("%d row(s)\n", len(res.Rows))
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(x))
	default:
		return fmt.Sprint(x)
	}
}
