// Package normalize turns resolved table rows into ordered events.
//
// Rows whose entity, timestamp or required numeric fields cannot be read are
// excluded and counted, never fatal. The result is sorted by entity and time
// and split into per-entity timelines.
package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/table"
)

// autoSampleSize bounds how many timestamp cells the date-order detector reads.
const autoSampleSize = 500

// KindAliases maps raw kind text onto dispense and return. Matching is
// case-insensitive on trimmed text.
type KindAliases struct {
	Dispense []string `yaml:"dispense" json:"dispense"`
	Return   []string `yaml:"return" json:"return"`
}

// DefaultKindAliases treats deliveries as dispenses.
func DefaultKindAliases() KindAliases {
	return KindAliases{
		Dispense: []string{"dispense", "delivery"},
		Return:   []string{"return"},
	}
}

// Kind classifies raw kind text. Empty alias lists fall back to the defaults.
func (k KindAliases) Kind(raw string) model.Kind {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return model.KindOther
	}
	def := DefaultKindAliases()
	dispense, ret := k.Dispense, k.Return
	if len(dispense) == 0 {
		dispense = def.Dispense
	}
	if len(ret) == 0 {
		ret = def.Return
	}
	for _, a := range dispense {
		if strings.ToLower(strings.TrimSpace(a)) == v {
			return model.KindDispense
		}
	}
	for _, a := range ret {
		if strings.ToLower(strings.TrimSpace(a)) == v {
			return model.KindReturn
		}
	}
	return model.KindOther
}

// Options controls normalization.
type Options struct {
	// DateOrder reads ambiguous dates. Empty means day-first.
	DateOrder DateOrder

	// Location is applied to timestamps without a zone. Nil means UTC.
	Location *time.Location

	// From and To bound event dates, inclusive, compared by calendar day.
	// Zero values are open.
	From time.Time
	To   time.Time

	Numeric []NumericField
	Kinds   KindAliases
}

// Stats counts what normalization did with the input rows.
type Stats struct {
	Rows             int       `json:"rows"`
	Kept             int       `json:"kept"`
	InvalidTimestamp int       `json:"invalid_timestamp"`
	InvalidNumeric   int       `json:"invalid_numeric"`
	MissingEntity    int       `json:"missing_entity"`
	OutOfRange       int       `json:"out_of_range"`
	DateOrder        DateOrder `json:"date_order"`
}

// Excluded returns the number of rows dropped for any reason.
func (s Stats) Excluded() int {
	return s.InvalidTimestamp + s.InvalidNumeric + s.MissingEntity + s.OutOfRange
}

// Timeline is the ordered events of one entity. Events shares its backing
// array with Events.Items and must not be modified.
type Timeline struct {
	EntityID string
	Events   []model.Event

	// Offset is the index of Events[0] in Events.Items.
	Offset int
}

// Events is the normalized, sorted event set of one run.
type Events struct {
	Items     []model.Event
	Timelines []Timeline
}

// Len returns the number of events.
func (e *Events) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Items)
}

type columns struct {
	entity, timestamp, kind, secondary, scope, reference int
	numeric                                              []int
}

func lookup(tbl *table.Table, res *resolve.Resolution, f resolve.Field) int {
	name, ok := res.Column(f)
	if !ok {
		return -1
	}
	return tbl.Index(name)
}

// Normalize builds events from the resolved columns of tbl.
func Normalize(tbl *table.Table, res *resolve.Resolution, opts Options) (*Events, Stats) {
	stats := Stats{Rows: tbl.Len()}
	cols := columns{
		entity:    lookup(tbl, res, resolve.FieldEntity),
		timestamp: lookup(tbl, res, resolve.FieldTimestamp),
		kind:      lookup(tbl, res, resolve.FieldKind),
		secondary: lookup(tbl, res, resolve.FieldSecondary),
		scope:     lookup(tbl, res, resolve.FieldScope),
		reference: lookup(tbl, res, resolve.FieldReference),
	}
	for _, nf := range opts.Numeric {
		cols.numeric = append(cols.numeric, tbl.Index(nf.Column))
	}

	order := opts.DateOrder
	if order == AutoOrder {
		order = detectOrder(tbl, cols.timestamp)
	}
	parser := NewTimeParser(order, opts.Location)
	stats.DateOrder = parser.Order()

	from, to := dayStart(opts.From), dayStart(opts.To)

	items := make([]model.Event, 0, tbl.Len())
	for r := 0; r < tbl.Len(); r++ {
		entity := ""
		if cols.entity >= 0 {
			entity = CleanKey(tbl.Cell(r, cols.entity))
		}
		if entity == "" {
			stats.MissingEntity++
			continue
		}

		if cols.timestamp < 0 {
			stats.InvalidTimestamp++
			continue
		}
		ts, err := parser.Parse(tbl.Cell(r, cols.timestamp))
		if err != nil {
			stats.InvalidTimestamp++
			continue
		}

		if !from.IsZero() && ts.Before(from) {
			stats.OutOfRange++
			continue
		}
		if !to.IsZero() && !ts.Before(to.AddDate(0, 0, 1)) {
			stats.OutOfRange++
			continue
		}

		numbers, ok := coerceNumbers(tbl, r, opts.Numeric, cols.numeric)
		if !ok {
			stats.InvalidNumeric++
			continue
		}

		ev := model.Event{
			Row:       r,
			EntityID:  entity,
			Timestamp: ts,
			Numbers:   numbers,
		}
		if cols.secondary >= 0 {
			ev.Secondary = strings.TrimSpace(tbl.Cell(r, cols.secondary))
		}
		if cols.kind >= 0 {
			ev.KindRaw = strings.TrimSpace(tbl.Cell(r, cols.kind))
			ev.Kind = opts.Kinds.Kind(ev.KindRaw)
		}
		if cols.scope >= 0 {
			ev.Scope = CleanKey(tbl.Cell(r, cols.scope))
		}
		if cols.reference >= 0 {
			ev.Reference = CleanKey(tbl.Cell(r, cols.reference))
		}
		items = append(items, ev)
	}

	// Rows were appended in table order, so a stable sort keeps row order
	// among equal timestamps.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].EntityID != items[j].EntityID {
			return items[i].EntityID < items[j].EntityID
		}
		return items[i].Timestamp.Before(items[j].Timestamp)
	})

	stats.Kept = len(items)
	return &Events{Items: items, Timelines: splitTimelines(items)}, stats
}

func coerceNumbers(tbl *table.Table, r int, fields []NumericField, idx []int) (map[string]float64, bool) {
	if len(fields) == 0 {
		return nil, true
	}
	out := make(map[string]float64, len(fields))
	for i, nf := range fields {
		var raw string
		if idx[i] >= 0 {
			raw = tbl.Cell(r, idx[i])
		}
		v, ok := ParseNumber(raw)
		if ok {
			out[nf.Column] = v
			continue
		}
		switch nf.Policy {
		case PolicyRequired:
			return nil, false
		case PolicyAbsent:
		default:
			out[nf.Column] = 0
		}
	}
	return out, true
}

func splitTimelines(items []model.Event) []Timeline {
	var out []Timeline
	start := 0
	for i := 1; i <= len(items); i++ {
		if i == len(items) || items[i].EntityID != items[start].EntityID {
			out = append(out, Timeline{
				EntityID: items[start].EntityID,
				Events:   items[start:i:i],
				Offset:   start,
			})
			start = i
		}
	}
	return out
}

func detectOrder(tbl *table.Table, col int) DateOrder {
	if col < 0 {
		return DayFirst
	}
	d := NewDateAmbiguityDetector(autoSampleSize)
	for r := 0; r < tbl.Len(); r++ {
		v := strings.TrimSpace(tbl.Cell(r, col))
		if v == "" || isNumeric(v) {
			continue
		}
		if !d.AddSample(v) {
			break
		}
	}
	return d.DetectOrder(DayFirst)
}

func dayStart(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
