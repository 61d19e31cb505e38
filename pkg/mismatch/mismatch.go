// Package mismatch finds entities whose rows disagree on attributes that
// should be fixed per entity, such as the item type of one RFID tag.
package mismatch

import (
	"context"
	"sort"
	"strings"

	"github.com/logflow/svctools/pkg/aggregate"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/table"
)

// Params configures a mismatch analysis.
type Params struct {
	// Entity describes the entity column.
	Entity resolve.FieldSpec

	// Attributes are the column names that must agree per entity.
	Attributes []string
}

// DefaultParams checks item type and sub type per RFID.
func DefaultParams() Params {
	return Params{
		Entity: resolve.FieldSpec{
			Field:      resolve.FieldEntity,
			Candidates: []string{"RFID", "RFID Tag"},
			Keywords:   [][]string{{"rfid"}},
			Required:   true,
		},
		Attributes: []string{"Item Type Name", "Item Sub Type Name"},
	}
}

// Entity is one entity with conflicting attribute values.
type Entity struct {
	EntityID string `json:"entity"`

	// Values lists the distinct non-empty values per conflicting attribute.
	Values map[string][]string `json:"values"`

	// Rows are the table rows of the entity, in table order.
	Rows []int `json:"rows"`
}

// Result summarizes a mismatch analysis.
type Result struct {
	TotalRows  int      `json:"total_rows"`
	Mismatched int      `json:"mismatched_entities"`
	Percentage float64  `json:"percentage"`
	Entities   []Entity `json:"entities"`
}

// Analyze groups rows by entity and reports entities with more than one
// distinct non-empty value in any attribute. Percentage is mismatched
// entities over total rows.
func Analyze(ctx context.Context, tbl *table.Table, p Params) (*Result, error) {
	if len(p.Attributes) == 0 {
		return nil, svcerr.InvalidParams("no attributes to compare")
	}

	res, err := resolve.Resolve(tbl.Columns, []resolve.FieldSpec{p.Entity}, nil)
	if err != nil {
		return nil, err
	}
	entityCol := tbl.Index(columnOf(res, resolve.FieldEntity))

	attrCols := make([]int, len(p.Attributes))
	var missing []string
	for i, a := range p.Attributes {
		attrCols[i] = tbl.Index(a)
		if attrCols[i] < 0 {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return nil, svcerr.MissingField(missing, tbl.Columns)
	}

	type group struct {
		rows   []int
		values []map[string]struct{}
	}
	groups := make(map[string]*group)
	for r := 0; r < tbl.Len(); r++ {
		if r%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, svcerr.ContextCanceled("mismatch", err)
			}
		}
		id := normalize.CleanKey(tbl.Cell(r, entityCol))
		if id == "" {
			continue
		}
		g, ok := groups[id]
		if !ok {
			g = &group{values: make([]map[string]struct{}, len(attrCols))}
			for i := range g.values {
				g.values[i] = make(map[string]struct{})
			}
			groups[id] = g
		}
		g.rows = append(g.rows, r)
		for i, c := range attrCols {
			if v := strings.TrimSpace(tbl.Cell(r, c)); v != "" {
				g.values[i][v] = struct{}{}
			}
		}
	}

	out := &Result{TotalRows: tbl.Len(), Entities: []Entity{}}
	for id, g := range groups {
		var conflicts map[string][]string
		for i, vals := range g.values {
			if len(vals) < 2 {
				continue
			}
			if conflicts == nil {
				conflicts = make(map[string][]string)
			}
			conflicts[p.Attributes[i]] = sortedKeys(vals)
		}
		if conflicts != nil {
			out.Entities = append(out.Entities, Entity{EntityID: id, Values: conflicts, Rows: g.rows})
		}
	}
	sort.Slice(out.Entities, func(i, j int) bool {
		return out.Entities[i].EntityID < out.Entities[j].EntityID
	})
	out.Mismatched = len(out.Entities)
	out.Percentage = aggregate.Percentage(out.Mismatched, out.TotalRows)
	return out, nil
}

// Table returns the mismatched rows as a table with the source columns.
func (r *Result) Table(src *table.Table) *table.Table {
	var rows [][]string
	for _, e := range r.Entities {
		for _, row := range e.Rows {
			rows = append(rows, append([]string(nil), src.Rows[row]...))
		}
	}
	return table.New("Mismatched Data", src.Columns, rows)
}

func columnOf(res *resolve.Resolution, f resolve.Field) string {
	c, _ := res.Column(f)
	return c
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
