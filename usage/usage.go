// Package usage reads codon-usage tables and organism metadata from a
// codon snapshot.
//
// Every lookup goes through a [Querier], so the same code runs against a
// [codondb.Session] or a bare engine.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/meigma/codondb/engine"
)

// ErrOrganismNotFound is returned when no row matches an organism id.
var ErrOrganismNotFound = errors.New("usage: organism not found")

// Querier executes a parameterized statement.
type Querier interface {
	Query(ctx context.Context, sql string, params engine.Params) (*engine.Result, error)
}

// Codons lists the 64 codon columns of the codon_usage table in the order
// they are selected.
var Codons = [64]string{
	"TTT", "TTC", "TTA", "TTG", "CTT", "CTC", "CTA", "CTG",
	"ATT", "ATC", "ATA", "ATG", "GTT", "GTC", "GTA", "GTG",
	"TAT", "TAC", "TAA", "TAG", "CAT", "CAC", "CAA", "CAG",
	"AAT", "AAC", "AAA", "AAG", "GAT", "GAC", "GAA", "GAG",
	"TCT", "TCC", "TCA", "TCG", "CCT", "CCC", "CCA", "CCG",
	"ACT", "ACC", "ACA", "ACG", "GCT", "GCC", "GCA", "GCG",
	"TGT", "TGC", "TGA", "TGG", "CGT", "CGC", "CGA", "CGG",
	"AGT", "AGC", "AGA", "AGG", "GGT", "GGC", "GGA", "GGG",
}

// CodonTable maps each amino acid (one-letter code, '*' for stop) to its
// synonymous codons.
var CodonTable = map[rune][]string{
	'A': {"GCT", "GCC", "GCA", "GCG"},
	'R': {"CGT", "CGC", "CGA", "CGG", "AGA", "AGG"},
	'N': {"AAT", "AAC"},
	'D': {"GAT", "GAC"},
	'C': {"TGT", "TGC"},
	'Q': {"CAA", "CAG"},
	'E': {"GAA", "GAG"},
	'G': {"GGT", "GGC", "GGA", "GGG"},
	'H': {"CAT", "CAC"},
	'I': {"ATT", "ATC", "ATA"},
	'L': {"TTA", "TTG", "CTT", "CTC", "CTA", "CTG"},
	'K': {"AAA", "AAG"},
	'M': {"ATG"},
	'F': {"TTT", "TTC"},
	'P': {"CCT", "CCC", "CCA", "CCG"},
	'S': {"TCT", "TCC", "TCA", "TCG", "AGT", "AGC"},
	'T': {"ACT", "ACC", "ACA", "ACG"},
	'W': {"TGG"},
	'Y': {"TAT", "TAC"},
	'V': {"GTT", "GTC", "GTA", "GTG"},
	'*': {"TAA", "TAG", "TGA"},
}

var usageQuery = "select " + strings.Join(Codons[:], ",") + " from codon_usage where org_id = :org"

// CodonUsage holds raw codon counts for one organism.
type CodonUsage map[string]int64

// Frequencies returns, for each amino acid, the share of each synonymous
// codon among all its codons. Amino acids with no observed codons are
// omitted.
func (u CodonUsage) Frequencies() map[rune]map[string]float64 {
	out := make(map[rune]map[string]float64, len(CodonTable))
	for aa, codons := range CodonTable {
		var total int64
		for _, c := range codons {
			total += u[c]
		}
		if total == 0 {
			continue
		}
		freq := make(map[string]float64, len(codons))
		for _, c := range codons {
			freq[c] = float64(u[c]) / float64(total)
		}
		out[aa] = freq
	}
	return out
}

// ForOrganism returns the codon counts recorded for orgID.
func ForOrganism(ctx context.Context, q Querier, orgID string) (CodonUsage, error) {
	res, err := q.Query(ctx, usageQuery, engine.Params{":org": orgID})
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrOrganismNotFound, orgID)
	}
	row := res.Rows[0]
	out := make(CodonUsage, len(res.Columns))
	for i, col := range res.Columns {
		n, err := toInt(row[i])
		if err != nil {
			return nil, fmt.Errorf("codon %s: %w", col, err)
		}
		out[col] = n
	}
	return out, nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected value %T", v)
	}
}
