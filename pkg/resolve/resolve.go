// Package resolve maps the column names of an export onto canonical fields.
//
// Exports of the same report drift between spellings ("מס' מכשיר", "מספר מכשיר",
// "Device Number"), carry invisible bidi marks, and mix Hebrew geresh with ASCII
// quotes. Resolution runs three passes, each over every unresolved field:
// exact candidate names, normalized candidate names, then keyword sets.
package resolve

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

// Field is a canonical semantic field.
type Field string

const (
	FieldEntity    Field = "entity"
	FieldTimestamp Field = "timestamp"
	FieldKind      Field = "kind"
	FieldSecondary Field = "secondary"
	FieldScope     Field = "scope"
	FieldReference Field = "reference"
)

// FieldSpec describes how to find one field.
type FieldSpec struct {
	Field Field `yaml:"field" json:"field"`

	// Candidates are exact column names in order of preference.
	Candidates []string `yaml:"candidates" json:"candidates"`

	// Keywords are token sets; a column matches a set when its normalized
	// name contains every token of it.
	Keywords [][]string `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	Required bool `yaml:"required" json:"required"`
}

// Pass records which pass resolved a field.
type Pass uint8

const (
	PassOverride Pass = iota
	PassExact
	PassNormalized
	PassKeyword
)

// String returns the pass name.
func (p Pass) String() string {
	switch p {
	case PassOverride:
		return "override"
	case PassExact:
		return "exact"
	case PassNormalized:
		return "normalized"
	case PassKeyword:
		return "keyword"
	default:
		return "unknown"
	}
}

// Match is one resolved field.
type Match struct {
	Field  Field
	Column string
	Pass   Pass
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Matches []Match

	// Unresolved lists fields with no column, required or not.
	Unresolved []Field

	// Ambiguous lists keyword matches that hit several columns.
	Ambiguous map[Field][]string

	byField map[Field]string
}

// Column returns the column resolved for f.
func (r *Resolution) Column(f Field) (string, bool) {
	if r == nil {
		return "", false
	}
	c, ok := r.byField[f]
	return c, ok
}

// Has reports whether f was resolved.
func (r *Resolution) Has(f Field) bool {
	_, ok := r.Column(f)
	return ok
}

// Mapping returns a copy of the field->column map.
func (r *Resolution) Mapping() map[Field]string {
	out := make(map[Field]string, len(r.byField))
	for k, v := range r.byField {
		out[k] = v
	}
	return out
}

// Resolve maps specs onto columns. Overrides name a column directly and are
// applied first; an override naming an absent column fails the field.
// A MissingField error lists every unresolved required field.
func Resolve(columns []string, specs []FieldSpec, overrides map[Field]string) (*Resolution, error) {
	res := &Resolution{
		Ambiguous: make(map[Field][]string),
		byField:   make(map[Field]string),
	}

	present := make(map[string]bool, len(columns))
	normalized := make([]string, len(columns))
	for i, c := range columns {
		present[c] = true
		normalized[i] = Normalize(c)
	}

	claimed := make(map[string]bool)
	failed := make(map[Field]bool)
	assign := func(f Field, column string, pass Pass) {
		res.byField[f] = column
		res.Matches = append(res.Matches, Match{Field: f, Column: column, Pass: pass})
		claimed[column] = true
	}

	for _, spec := range specs {
		col, ok := overrides[spec.Field]
		if !ok || col == "" {
			continue
		}
		if present[col] {
			assign(spec.Field, col, PassOverride)
		} else {
			failed[spec.Field] = true
		}
	}

	pending := func(f Field) bool {
		_, done := res.byField[f]
		return !done && !failed[f]
	}

	// Pass 1: exact.
	for _, spec := range specs {
		if !pending(spec.Field) {
			continue
		}
		for _, cand := range spec.Candidates {
			if present[cand] && !claimed[cand] {
				assign(spec.Field, cand, PassExact)
				break
			}
		}
	}

	// Pass 2: normalized.
	for _, spec := range specs {
		if !pending(spec.Field) {
			continue
		}
	candidates:
		for _, cand := range spec.Candidates {
			nc := Normalize(cand)
			if nc == "" {
				continue
			}
			for i, col := range columns {
				if normalized[i] == nc && !claimed[col] {
					assign(spec.Field, col, PassNormalized)
					break candidates
				}
			}
		}
	}

	// Pass 3: keywords.
	for _, spec := range specs {
		if !pending(spec.Field) {
			continue
		}
		for _, set := range spec.Keywords {
			hits := keywordHits(columns, normalized, set, claimed)
			if len(hits) == 1 {
				assign(spec.Field, hits[0], PassKeyword)
				break
			}
			if len(hits) > 1 {
				res.Ambiguous[spec.Field] = hits
			}
		}
		if !pending(spec.Field) {
			delete(res.Ambiguous, spec.Field)
		}
	}

	var missing []string
	for _, spec := range specs {
		if _, ok := res.byField[spec.Field]; ok {
			continue
		}
		res.Unresolved = append(res.Unresolved, spec.Field)
		if spec.Required || failed[spec.Field] {
			missing = append(missing, string(spec.Field))
		}
	}

	if len(missing) > 0 {
		err := svcerr.MissingField(missing, columns)
		if len(res.Ambiguous) > 0 {
			err = err.WithContext("ambiguous", ambiguousSummary(res.Ambiguous))
		}
		return res, err
	}
	return res, nil
}

func keywordHits(columns, normalized []string, set []string, claimed map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(set))
	for _, tok := range set {
		if nt := Normalize(tok); nt != "" {
			tokens = append(tokens, nt)
		}
	}
	if len(tokens) == 0 {
		return nil
	}

	var hits []string
	for i, col := range columns {
		if claimed[col] {
			continue
		}
		all := true
		for _, tok := range tokens {
			if !strings.Contains(normalized[i], tok) {
				all = false
				break
			}
		}
		if all {
			hits = append(hits, col)
		}
	}
	return hits
}

func ambiguousSummary(amb map[Field][]string) []string {
	out := make([]string, 0, len(amb))
	for f, cols := range amb {
		out = append(out, string(f)+"="+strings.Join(cols, "|"))
	}
	sort.Strings(out)
	return out
}

// quoteFold maps quote and abbreviation-mark variants onto one mark. Hebrew
// exports use geresh, gershayim, apostrophes and double quotes interchangeably
// in abbreviations such as מק"ט.
var quoteFold = map[rune]rune{
	'\'':     '"',
	'`':      '"',
	'\u05f3': '"', // geresh
	'\u05f4': '"', // gershayim
	'\u2018': '"',
	'\u2019': '"',
	'\u201b': '"',
	'\u201c': '"',
	'\u201d': '"',
	'\u201e': '"',
}

// Normalize folds a column name for comparison: NFKC, format characters
// (bidi marks, zero-width) and whitespace removed, quote variants folded,
// lower-cased.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Cf, r) || unicode.IsSpace(r) {
			continue
		}
		if q, ok := quoteFold[r]; ok {
			r = q
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
