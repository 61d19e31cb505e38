// Package window classifies normalized events with a sliding day window.
//
// Same-kind mode compares every event with the previous event of its entity.
// Complementary mode pairs dispenses with later returns and flags dispenses
// that stayed out past the window.
package window

import (
	"fmt"
	"time"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/normalize"
)

// Mode selects the classification rule.
type Mode string

const (
	ModeSameKind      Mode = "same-kind"
	ModeComplementary Mode = "complementary"
)

// ParseMode accepts the mode names and their short forms.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "same-kind", "same", "a", "A", "repeat":
		return ModeSameKind, nil
	case "complementary", "b", "B", "match":
		return ModeComplementary, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

const day = 24 * time.Hour

// Params configures one classification pass.
type Params struct {
	Mode Mode

	// WindowDays is inclusive: a gap of exactly WindowDays days is inside.
	WindowDays int

	// RepeatLabel is LabelRepeat or LabelDuplicate. Same-kind mode only.
	RepeatLabel model.Label

	// Now anchors the overdue cutoff in complementary mode. A zero Now leaves
	// every unmatched dispense pending.
	Now time.Time

	// ScopeMatch pairs only dispenses and returns with the same scope.
	// ScopeBySecondary uses the secondary key as scope.
	ScopeMatch       bool
	ScopeBySecondary bool

	// LatestOnly restricts unreturned to the latest dispense per entity,
	// whatever its scope; earlier overdue dispenses become superseded.
	LatestOnly bool
}

// DayGap returns floor((b - a) / 24h) measured on the wall clocks of a and b,
// so a daylight-saving shift between them does not change the day count.
func DayGap(a, b time.Time) int {
	d := wallClock(b).Sub(wallClock(a))
	n := int(d / day)
	if d < 0 && d%day != 0 {
		n--
	}
	return n
}

// wallClock re-reads t's date and clock in its own location as UTC.
func wallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), time.UTC)
}

// Classify labels every event. The result is parallel to ev.Items: element i
// classifies ev.Items[i]. Empty input yields an empty result.
func Classify(ev *normalize.Events, p Params) []model.Classification {
	if ev.Len() == 0 {
		return []model.Classification{}
	}
	out := make([]model.Classification, ev.Len())
	for i := range out {
		out[i] = model.Classification{Event: i, Ref: model.NoRef}
	}

	for _, tl := range ev.Timelines {
		switch p.Mode {
		case ModeComplementary:
			classifyComplementary(tl, p, out)
		default:
			classifySameKind(tl, p, out)
		}
	}
	return out
}

func classifySameKind(tl normalize.Timeline, p Params, out []model.Classification) {
	label := p.RepeatLabel
	if label == "" {
		label = model.LabelRepeat
	}

	for k, e := range tl.Events {
		i := tl.Offset + k
		if k == 0 {
			out[i].Label = model.LabelFirst
			continue
		}
		prev := tl.Offset + k - 1
		gap := DayGap(tl.Events[k-1].Timestamp, e.Timestamp)
		if gap >= 0 && gap <= p.WindowDays {
			out[i].Label = label
			out[i].Ref = prev
			out[i].GapDays = gap
			continue
		}
		out[i].Label = model.LabelFirst
	}
}

type returnSlot struct {
	idx      int
	ts       time.Time
	consumed bool
}

func classifyComplementary(tl normalize.Timeline, p Params, out []model.Classification) {
	scopeOf := func(e model.Event) string {
		switch {
		case !p.ScopeMatch:
			return ""
		case p.ScopeBySecondary:
			return e.Secondary
		default:
			return e.Scope
		}
	}

	returns := make(map[string][]*returnSlot)
	latest := model.NoRef
	var dispenses []int

	for k, e := range tl.Events {
		i := tl.Offset + k
		switch e.Kind {
		case model.KindReturn:
			out[i].Label = model.LabelReturn
			s := scopeOf(e)
			returns[s] = append(returns[s], &returnSlot{idx: i, ts: e.Timestamp})
		case model.KindDispense:
			dispenses = append(dispenses, k)
			latest = i
		default:
			out[i].Label = model.LabelOther
		}
	}

	var cutoff time.Time
	if !p.Now.IsZero() {
		cutoff = p.Now.AddDate(0, 0, -p.WindowDays)
	}

	for _, k := range dispenses {
		d := tl.Events[k]
		i := tl.Offset + k
		s := scopeOf(d)

		if r := firstEligible(returns[s], d.Timestamp, p.WindowDays); r != nil {
			r.consumed = true
			gap := DayGap(d.Timestamp, r.ts)
			out[i].Label = model.LabelMatched
			out[i].Ref = r.idx
			out[i].GapDays = gap
			out[r.idx].Ref = i
			out[r.idx].GapDays = gap
			continue
		}

		switch {
		case cutoff.IsZero() || !d.Timestamp.Before(cutoff):
			out[i].Label = model.LabelPending
		case p.LatestOnly && latest != i:
			out[i].Label = model.LabelSuperseded
		default:
			out[i].Label = model.LabelUnreturned
		}
	}
}

// firstEligible returns the earliest unconsumed return at or after ts and
// within window days of it. slots are in time order.
func firstEligible(slots []*returnSlot, ts time.Time, window int) *returnSlot {
	for _, r := range slots {
		if r.consumed || r.ts.Before(ts) {
			continue
		}
		if DayGap(ts, r.ts) > window {
			return nil
		}
		return r
	}
	return nil
}
