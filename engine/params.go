package engine

import (
	"slices"
	"strconv"
	"strings"
)

// Params binds values to named placeholders. Keys carry the placeholder
// prefix exactly as it appears in the statement, e.g. ":org".
type Params map[string]any

// Statement is a query rewritten to numbered positional parameters.
type Statement struct {
	SQL          string
	Args         []any
	Placeholders []string // distinct names in order of first appearance
}

// Placeholders returns the distinct named placeholders in query, in order
// of first appearance. String literals, quoted identifiers and comments
// are skipped.
func Placeholders(query string) []string {
	var names []string
	scan(query, func(name string) string {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
		return name
	}, nil)
	return names
}

// Bind validates params against the placeholders in query and rewrites
// each named placeholder to a numbered parameter, so a repeated name binds
// a single value.
func Bind(query string, params Params) (*Statement, error) {
	perr := &ParamError{}
	for name := range params {
		if !isPrefix(name) {
			perr.Invalid = append(perr.Invalid, name)
		}
	}

	stmt := &Statement{}
	index := map[string]int{}
	rewritten := scan(query, func(name string) string {
		i, ok := index[name]
		if !ok {
			value, bound := params[name]
			if !bound {
				if !slices.Contains(perr.Missing, name) {
					perr.Missing = append(perr.Missing, name)
				}
				return name
			}
			stmt.Placeholders = append(stmt.Placeholders, name)
			stmt.Args = append(stmt.Args, value)
			i = len(stmt.Args)
			index[name] = i
		}
		return "?" + strconv.Itoa(i)
	}, func() { perr.Positional = true })

	for name := range params {
		if _, used := index[name]; !used && isPrefix(name) {
			perr.Unexpected = append(perr.Unexpected, name)
		}
	}
	if perr.Positional || len(perr.Missing) > 0 || len(perr.Unexpected) > 0 || len(perr.Invalid) > 0 {
		slices.Sort(perr.Unexpected)
		slices.Sort(perr.Invalid)
		return nil, perr
	}
	stmt.SQL = rewritten
	return stmt, nil
}

func isPrefix(name string) bool {
	return len(name) > 1 && (name[0] == ':' || name[0] == '@' || name[0] == '$') && isIdent(name[1:])
}

func isIdent(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return s != ""
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// scan walks query, calling named for each named placeholder and
// positional for each '?', and returns query with every named placeholder
// replaced by named's result.
func scan(query string, named func(string) string, positional func()) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := skipQuoted(query, i, c)
			b.WriteString(query[i:j])
			i = j
		case c == '[':
			j := strings.IndexByte(query[i:], ']')
			if j < 0 {
				j = len(query) - i - 1
			}
			b.WriteString(query[i : i+j+1])
			i += j + 1
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				j = len(query) - i
			}
			b.WriteString(query[i : i+j])
			i += j
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			j := strings.Index(query[i+2:], "*/")
			end := len(query)
			if j >= 0 {
				end = i + 2 + j + 2
			}
			b.WriteString(query[i:end])
			i = end
		case c == '?':
			if positional != nil {
				positional()
			}
			b.WriteByte(c)
			i++
		case (c == ':' || c == '@' || c == '$') && i+1 < len(query) && isIdentByte(query[i+1]):
			j := i + 1
			for j < len(query) && isIdentByte(query[j]) {
				j++
			}
			b.WriteString(named(query[i:j]))
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// skipQuoted returns the index just past the quoted run starting at i.
// A doubled quote character is an escaped quote.
func skipQuoted(query string, i int, quote byte) int {
	j := i + 1
	for j < len(query) {
		if query[j] == quote {
			if j+1 < len(query) && query[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(query)
}
