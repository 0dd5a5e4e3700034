package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{name: "none", sql: "select 1", want: nil},
		{name: "single", sql: "select * from t where org_id = :org", want: []string{":org"}},
		{name: "repeated", sql: "select :a, @b, :a, $c", want: []string{":a", "@b", "$c"}},
		{name: "inside string literal", sql: "select ':org', 'it''s :x' where a = :y", want: []string{":y"}},
		{name: "inside quoted identifier", sql: `select "a:b", [c:d], ` + "`e:f`" + ` from t`, want: nil},
		{name: "inside comments", sql: "select 1 -- :hidden\n, /* @also */ :shown", want: []string{":shown"}},
		{name: "lone prefix", sql: "select ':' || :x, 1 : 2", want: []string{":x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Placeholders(tt.sql))
		})
	}
}

func TestBindRewrites(t *testing.T) {
	t.Parallel()

	stmt, err := Bind("select :b, :a, :b, 'x:b'", Params{":a": 1, ":b": "two"})
	require.NoError(t, err)
	assert.Equal(t, "select ?1, ?2, ?1, 'x:b'", stmt.SQL)
	assert.Equal(t, []any{"two", 1}, stmt.Args)
	assert.Equal(t, []string{":b", ":a"}, stmt.Placeholders)
}

func TestBindNoParams(t *testing.T) {
	t.Parallel()

	stmt, err := Bind("select 1", nil)
	require.NoError(t, err)
	assert.Equal(t, "select 1", stmt.SQL)
	assert.Empty(t, stmt.Args)
}

func TestBindMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sql    string
		params Params
		want   ParamError
	}{
		{
			name:   "missing",
			sql:    "select :a, :b",
			params: Params{":a": 1},
			want:   ParamError{Missing: []string{":b"}},
		},
		{
			name:   "unexpected",
			sql:    "select :a",
			params: Params{":a": 1, ":z": 2},
			want:   ParamError{Unexpected: []string{":z"}},
		},
		{
			name:   "unprefixed",
			sql:    "select :org",
			params: Params{":org": 1, "org": 1},
			want:   ParamError{Invalid: []string{"org"}},
		},
		{
			name:   "prefix must match exactly",
			sql:    "select :org",
			params: Params{"@org": 1},
			want:   ParamError{Missing: []string{":org"}, Unexpected: []string{"@org"}},
		},
		{
			name: "positional",
			sql:  "select ?",
			want: ParamError{Positional: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Bind(tt.sql, tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrQuery)

			var perr *ParamError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.want, *perr)
		})
	}
}
