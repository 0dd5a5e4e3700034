package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/meigma/codondb/usage"
)

// Snapshot builds a SQLite database by running stmts and returns its bytes.
func Snapshot(tb testing.TB, stmts ...string) []byte {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "snapshot.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatalf("open fixture db: %v", err)
	}
	for _, stmt := range stmts {
		if _, err := sqlDB.Exec(stmt); err != nil {
			_ = sqlDB.Close()
			tb.Fatalf("exec %q: %v", stmt, err)
		}
	}
	if err := sqlDB.Close(); err != nil {
		tb.Fatalf("close fixture db: %v", err)
	}
	data, err := os.ReadFile(path) //nolint:gosec // test fixture path
	if err != nil {
		tb.Fatalf("read fixture db: %v", err)
	}
	return data
}

// CodonRow is one codon_usage fixture row. Codons not listed count zero.
type CodonRow struct {
	OrgID  int64
	Counts map[string]int64
}

// CodonSnapshot builds a snapshot with codon_usage and organisms tables.
// Every codon row also gets a matching organisms row.
func CodonSnapshot(tb testing.TB, rows ...CodonRow) []byte {
	tb.Helper()

	cols := make([]string, 0, len(usage.Codons))
	for _, c := range usage.Codons {
		cols = append(cols, c+" INTEGER NOT NULL DEFAULT 0")
	}
	stmts := []string{
		"CREATE TABLE codon_usage (org_id INTEGER PRIMARY KEY, " + strings.Join(cols, ", ") + ")",
		`CREATE TABLE organisms (
			org_id INTEGER PRIMARY KEY, division TEXT, assembly TEXT, taxid INTEGER,
			species TEXT, organelle TEXT, translation_table INTEGER, num_cds INTEGER,
			num_codons INTEGER, gc_perc REAL, gc1_perc REAL, gc2_perc REAL, gc3_perc REAL)`,
	}
	for _, r := range rows {
		names := []string{"org_id"}
		values := []string{fmt.Sprint(r.OrgID)}
		for codon, n := range r.Counts {
			names = append(names, codon)
			values = append(values, fmt.Sprint(n))
		}
		stmts = append(stmts,
			fmt.Sprintf("INSERT INTO codon_usage (%s) VALUES (%s)", strings.Join(names, ", "), strings.Join(values, ", ")),
			fmt.Sprintf(`INSERT INTO organisms VALUES (%d, 'refseq', 'GCF_%06d.1', %d, 'Organism %d', 'genomic', 11, 1710, 543072, 32.14, 43.53, 32.58, 20.32)`,
				r.OrgID, r.OrgID, r.OrgID+1000, r.OrgID),
		)
	}
	return Snapshot(tb, stmts...)
}
