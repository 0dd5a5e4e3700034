package usage

import (
	"context"
	"fmt"

	"github.com/meigma/codondb/engine"
)

// Organism describes one entry of the organisms table.
type Organism struct {
	OrgID            int64   `json:"org_id"`
	Division         string  `json:"division"`
	Assembly         string  `json:"assembly"`
	TaxID            int64   `json:"taxid"`
	Species          string  `json:"species"`
	Organelle        string  `json:"organelle"`
	TranslationTable int64   `json:"translation_table"`
	NumCDS           int64   `json:"num_cds"`
	NumCodons        int64   `json:"num_codons"`
	GCPerc           float64 `json:"gc_perc"`
	GC1Perc          float64 `json:"gc1_perc"`
	GC2Perc          float64 `json:"gc2_perc"`
	GC3Perc          float64 `json:"gc3_perc"`
}

const organismQuery = `select org_id, division, assembly, taxid, species, organelle,
	translation_table, num_cds, num_codons, gc_perc, gc1_perc, gc2_perc, gc3_perc
	from organisms where org_id = :org`

// LookupOrganism returns the organism metadata for orgID.
func LookupOrganism(ctx context.Context, q Querier, orgID string) (*Organism, error) {
	res, err := q.Query(ctx, organismQuery, engine.Params{":org": orgID})
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrOrganismNotFound, orgID)
	}
	r := res.Rows[0]
	if len(r) != 13 {
		return nil, fmt.Errorf("organisms row has %d columns, want 13", len(r))
	}

	o := Organism{
		Division:  toString(r[1]),
		Assembly:  toString(r[2]),
		Species:   toString(r[4]),
		Organelle: toString(r[5]),
		GCPerc:    toFloat(r[9]),
		GC1Perc:   toFloat(r[10]),
		GC2Perc:   toFloat(r[11]),
		GC3Perc:   toFloat(r[12]),
	}
	ints := map[int]*int64{0: &o.OrgID, 3: &o.TaxID, 6: &o.TranslationTable, 7: &o.NumCDS, 8: &o.NumCodons}
	for i, dst := range ints {
		n, err := toInt(r[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", res.Columns[i], err)
		}
		*dst = n
	}
	return &o, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func toFloat(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	default:
		return 0
	}
}
