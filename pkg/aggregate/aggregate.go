// Package aggregate counts classified events per group.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/window"
)

// Unspecified is the display key of the bucket for events with an empty
// grouping value. The bucket is told apart by Summary.Unspecified, not by
// its key, so a real value "unspecified" gets its own row.
const Unspecified = "unspecified"

// OverallKey is the key of the global summary.
const OverallKey = "overall"

// By selects the grouping dimension.
type By string

const (
	BySecondary By = "secondary"
	ByEntity    By = "entity"
)

// Summary is one aggregate row. Summaries are built once and not modified.
type Summary struct {
	Key string `json:"key"`

	// Sub is the second grouping value of a breakdown row.
	Sub string `json:"sub,omitempty"`

	// Unspecified marks the bucket of events with an empty grouping value.
	Unspecified bool `json:"unspecified,omitempty"`

	// Events counts every event in the group; Total only the counted ones.
	Events     int                 `json:"events"`
	Total      int                 `json:"total"`
	Matching   int                 `json:"matching"`
	Percentage float64             `json:"percentage"`
	Labels     map[model.Label]int `json:"labels"`

	// First and Last bound the group's events; LifecycleDays is the whole-day
	// span between them.
	First         time.Time `json:"first"`
	Last          time.Time `json:"last"`
	LifecycleDays int       `json:"lifecycle_days"`
}

// Percentage returns matching/total*100 rounded to two decimals, 0 when
// total is 0.
func Percentage(matching, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(matching)/float64(total)*100*100) / 100
}

// counts reports whether an event counts toward the total and the matching
// count. Same-kind runs count every event and match repeats; complementary
// runs count dispenses and match unreturned ones.
func counts(mode window.Mode, e model.Event, c model.Classification) (total, matching bool) {
	if mode == window.ModeComplementary {
		return e.Kind == model.KindDispense, c.Label == model.LabelUnreturned
	}
	return true, c.Label.IsRepeat()
}

type acc struct {
	events, total, matching int
	labels                  map[model.Label]int
	first, last             time.Time
}

func (a *acc) add(mode window.Mode, e model.Event, c model.Classification) {
	if a.labels == nil {
		a.labels = make(map[model.Label]int)
	}
	a.labels[c.Label]++
	if a.events == 0 || e.Timestamp.Before(a.first) {
		a.first = e.Timestamp
	}
	if a.events == 0 || e.Timestamp.After(a.last) {
		a.last = e.Timestamp
	}
	a.events++

	t, m := counts(mode, e, c)
	if t {
		a.total++
	}
	if t && m {
		a.matching++
	}
}

func (a *acc) summary(k groupKey) Summary {
	labels := a.labels
	if labels == nil {
		labels = map[model.Label]int{}
	}
	s := Summary{
		Key:         k.value,
		Sub:         k.sub,
		Unspecified: k.unspecified,
		Events:      a.events,
		Total:       a.total,
		Matching:    a.matching,
		Percentage:  Percentage(a.matching, a.total),
		Labels:      labels,
		First:       a.first,
		Last:        a.last,
	}
	if k.unspecified {
		s.Key = Unspecified
	}
	if a.events > 0 {
		s.LifecycleDays = window.DayGap(a.first, a.last)
	}
	return s
}

type groupKey struct {
	value       string
	sub         string
	unspecified bool
}

// grouper accumulates events under keys in first-seen order.
type grouper struct {
	mode   window.Mode
	groups map[groupKey]*acc
	keys   []groupKey
}

func newGrouper(mode window.Mode) *grouper {
	return &grouper{mode: mode, groups: make(map[groupKey]*acc)}
}

func (g *grouper) add(k groupKey, e model.Event, c model.Classification) {
	a, ok := g.groups[k]
	if !ok {
		a = &acc{}
		g.groups[k] = a
		g.keys = append(g.keys, k)
	}
	a.add(g.mode, e, c)
}

func (g *grouper) summaries() []Summary {
	out := make([]Summary, 0, len(g.keys))
	for _, k := range g.keys {
		out = append(out, g.groups[k].summary(k))
	}
	return out
}

func keyOf(value string) groupKey {
	return groupKey{value: value, unspecified: value == ""}
}

// Group builds one summary per distinct grouping value, ordered by key with
// the unspecified bucket last. cls must be parallel to ev.Items.
func Group(ev *normalize.Events, cls []model.Classification, mode window.Mode, by By) []Summary {
	g := newGrouper(mode)
	for _, c := range cls {
		e := ev.Items[c.Event]
		value := e.Secondary
		if by == ByEntity {
			value = e.EntityID
		}
		g.add(keyOf(value), e, c)
	}

	out := g.summaries()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unspecified != out[j].Unspecified {
			return out[j].Unspecified
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Breakdown groups by the secondary key and a second value read from each
// event, such as product and fault code. Rows are ordered by matching count,
// highest first, then by key and sub value.
func Breakdown(ev *normalize.Events, cls []model.Classification, mode window.Mode, sub func(model.Event) string) []Summary {
	g := newGrouper(mode)
	for _, c := range cls {
		e := ev.Items[c.Event]
		k := keyOf(e.Secondary)
		k.sub = sub(e)
		g.add(k, e, c)
	}

	out := g.summaries()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Matching != b.Matching:
			return a.Matching > b.Matching
		case a.Unspecified != b.Unspecified:
			return b.Unspecified
		case a.Key != b.Key:
			return a.Key < b.Key
		}
		return a.Sub < b.Sub
	})
	return out
}

// Lifecycle returns the summaries with more than one event, in input order.
func Lifecycle(rows []Summary) []Summary {
	out := make([]Summary, 0, len(rows))
	for _, s := range rows {
		if s.Events > 1 {
			out = append(out, s)
		}
	}
	return out
}

// Overall builds the global summary.
func Overall(ev *normalize.Events, cls []model.Classification, mode window.Mode) Summary {
	var a acc
	for _, c := range cls {
		a.add(mode, ev.Items[c.Event], c)
	}
	return a.summary(groupKey{value: OverallKey})
}

// Index maps summaries by key. The unspecified bucket is indexed under "".
func Index(rows []Summary) map[string]Summary {
	out := make(map[string]Summary, len(rows))
	for _, r := range rows {
		if r.Unspecified {
			out[""] = r
			continue
		}
		out[r.Key] = r
	}
	return out
}
