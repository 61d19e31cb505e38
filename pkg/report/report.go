// Package report packages one run's classified events and aggregates.
//
// A Result is what writers and the terminal summary consume. It holds no
// sheet names or cell coordinates; those belong to the writers.
package report

import (
	"time"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/aggregate"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/table"
	"github.com/logflow/svctools/pkg/window"
)

// RunInfo records the parameters a run used.
type RunInfo struct {
	Preset      string                   `json:"preset,omitempty"`
	Mode        window.Mode              `json:"mode"`
	WindowDays  int                      `json:"window_days"`
	RepeatLabel model.Label              `json:"repeat_label,omitempty"`
	Now         time.Time                `json:"now,omitempty"`
	From        time.Time                `json:"from,omitempty"`
	To          time.Time                `json:"to,omitempty"`
	ScopeMatch  bool                     `json:"scope_match,omitempty"`
	LatestOnly  bool                     `json:"latest_only,omitempty"`
	Breakdown   string                   `json:"breakdown,omitempty"`
	DateOrder   normalize.DateOrder      `json:"date_order"`
	Columns     map[resolve.Field]string `json:"columns"`
}

// ClassifiedEvent is one event with its label. Row and RefRow index the
// source table; RefRow is model.NoRef when there is no partner.
type ClassifiedEvent struct {
	Row       int         `json:"row"`
	EntityID  string      `json:"entity"`
	Timestamp time.Time   `json:"timestamp"`
	Secondary string      `json:"secondary,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Scope     string      `json:"scope,omitempty"`
	Reference string      `json:"reference,omitempty"`
	Label     model.Label `json:"label"`
	RefRow    int         `json:"ref_row"`
	GapDays   int         `json:"gap_days"`
}

// Pair lists a repeat next to the event it repeats.
type Pair struct {
	EntityID        string    `json:"entity"`
	Secondary       string    `json:"secondary,omitempty"`
	FirstRow        int       `json:"first_row"`
	FirstTime       time.Time `json:"first_time"`
	FirstReference  string    `json:"first_reference,omitempty"`
	RepeatRow       int       `json:"repeat_row"`
	RepeatTime      time.Time `json:"repeat_time"`
	RepeatReference string    `json:"repeat_reference,omitempty"`
	GapDays         int       `json:"gap_days"`
}

// Overall is the global summary plus what normalization excluded.
type Overall struct {
	aggregate.Summary

	Rows     int             `json:"rows"`
	Excluded int             `json:"excluded"`
	Stats    normalize.Stats `json:"stats"`

	// Empty is set when the run produced no classified events.
	Empty bool `json:"empty"`
}

// Result is the complete outcome of one run.
type Result struct {
	RunID            string              `json:"run_id"`
	Info             RunInfo             `json:"params"`
	ClassifiedEvents []ClassifiedEvent   `json:"classified_events"`
	GroupSummaries   []aggregate.Summary `json:"group_summaries"`
	EntitySummaries  []aggregate.Summary `json:"entity_summaries"`
	Breakdown        []aggregate.Summary `json:"breakdown,omitempty"`
	Overall          Overall             `json:"overall"`
	Pairs            []Pair              `json:"pairs"`

	// Source is the input table, for writers that echo the original row.
	Source *table.Table `json:"-"`

	groups map[string]aggregate.Summary
}

// Group returns the summary of one group key.
func (r *Result) Group(key string) (aggregate.Summary, bool) {
	if r.groups == nil {
		r.groups = aggregate.Index(r.GroupSummaries)
	}
	s, ok := r.groups[key]
	return s, ok
}

// Lifecycle returns the entity summaries with more than one event.
func (r *Result) Lifecycle() []aggregate.Summary {
	return aggregate.Lifecycle(r.EntitySummaries)
}

// LabelCount returns how many events carry label l.
func (r *Result) LabelCount(l model.Label) int {
	return r.Overall.Labels[l]
}

// Input is everything Assemble packages.
type Input struct {
	RunID           string
	Info            RunInfo
	Source          *table.Table
	Events          *normalize.Events
	Classifications []model.Classification
	Stats           normalize.Stats
	Groups          []aggregate.Summary
	Entities        []aggregate.Summary
	Breakdown       []aggregate.Summary
	Overall         aggregate.Summary
}

// Assemble builds a Result. Classified events keep the sorted event order.
func Assemble(in Input) *Result {
	var items []model.Event
	if in.Events != nil {
		items = in.Events.Items
	}

	res := &Result{
		RunID:            in.RunID,
		Info:             in.Info,
		ClassifiedEvents: make([]ClassifiedEvent, 0, len(in.Classifications)),
		GroupSummaries:   in.Groups,
		EntitySummaries:  in.Entities,
		Breakdown:        in.Breakdown,
		Pairs:            []Pair{},
		Source:           in.Source,
		Overall: Overall{
			Summary:  in.Overall,
			Rows:     in.Stats.Rows,
			Excluded: in.Stats.Excluded(),
			Stats:    in.Stats,
			Empty:    len(in.Classifications) == 0,
		},
	}
	if res.GroupSummaries == nil {
		res.GroupSummaries = []aggregate.Summary{}
	}
	if res.EntitySummaries == nil {
		res.EntitySummaries = []aggregate.Summary{}
	}
	res.groups = aggregate.Index(res.GroupSummaries)

	for _, c := range in.Classifications {
		e := items[c.Event]
		ce := ClassifiedEvent{
			Row:       e.Row,
			EntityID:  e.EntityID,
			Timestamp: e.Timestamp,
			Secondary: e.Secondary,
			Kind:      e.KindRaw,
			Scope:     e.Scope,
			Reference: e.Reference,
			Label:     c.Label,
			RefRow:    model.NoRef,
			GapDays:   c.GapDays,
		}
		if c.HasRef() {
			ce.RefRow = items[c.Ref].Row
		}
		res.ClassifiedEvents = append(res.ClassifiedEvents, ce)

		if c.Label.IsRepeat() && c.HasRef() {
			p := items[c.Ref]
			res.Pairs = append(res.Pairs, Pair{
				EntityID:        e.EntityID,
				Secondary:       e.Secondary,
				FirstRow:        p.Row,
				FirstTime:       p.Timestamp,
				FirstReference:  p.Reference,
				RepeatRow:       e.Row,
				RepeatTime:      e.Timestamp,
				RepeatReference: e.Reference,
				GapDays:         c.GapDays,
			})
		}
	}
	return res
}
