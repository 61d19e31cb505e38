package engine

import (
	"fmt"
	"time"

	"github.com/logflow/svctools/internal/model"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/window"
)

// DefaultWindowDays is the window used when a preset does not set one.
const DefaultWindowDays = 30

// Params is everything one run depends on. Nothing is read from ambient
// configuration; callers fill Params explicitly.
type Params struct {
	// Preset is informational; it is copied into the result.
	Preset string

	Mode       window.Mode
	WindowDays int

	// Fields describe how columns are found; Overrides pin a field to a column.
	Fields    []resolve.FieldSpec
	Overrides map[resolve.Field]string

	// RepeatLabel is model.LabelRepeat or model.LabelDuplicate.
	RepeatLabel model.Label

	// Complementary mode.
	Kinds      normalize.KindAliases
	ScopeMatch bool
	LatestOnly bool
	Now        time.Time

	DateOrder normalize.DateOrder
	Location  *time.Location
	From      time.Time
	To        time.Time
	Numeric   []normalize.NumericField

	// Breakdown names a column whose values split each secondary group, such
	// as a fault code under a product. Empty skips the breakdown.
	Breakdown string
}

// DefaultParams returns same-kind parameters with a 30-day window.
func DefaultParams() Params {
	return Params{
		Mode:        window.ModeSameKind,
		WindowDays:  DefaultWindowDays,
		RepeatLabel: model.LabelRepeat,
		Kinds:       normalize.DefaultKindAliases(),
		LatestOnly:  true,
		DateOrder:   normalize.DayFirst,
	}
}

// Validate reports the first parameter problem as an InvalidParams error.
func (p Params) Validate() error {
	switch p.Mode {
	case window.ModeSameKind, window.ModeComplementary:
	default:
		return svcerr.InvalidParams(fmt.Sprintf("unknown mode %q", p.Mode))
	}
	if p.WindowDays < 0 {
		return svcerr.InvalidParams("window must not be negative").
			WithContext("window", p.WindowDays)
	}
	switch p.RepeatLabel {
	case "", model.LabelRepeat, model.LabelDuplicate:
	default:
		return svcerr.InvalidParams(fmt.Sprintf("repeat label must be %q or %q", model.LabelRepeat, model.LabelDuplicate)).
			WithContext("label", p.RepeatLabel)
	}
	if len(p.Fields) == 0 {
		return svcerr.InvalidParams("no field specs")
	}
	if !hasField(p.Fields, resolve.FieldEntity) || !hasField(p.Fields, resolve.FieldTimestamp) {
		return svcerr.InvalidParams("field specs must describe entity and timestamp")
	}
	if p.Mode == window.ModeComplementary {
		if p.Now.IsZero() {
			return svcerr.InvalidParams("complementary mode requires an explicit now").
				WithContext("mode", p.Mode)
		}
		if !hasField(p.Fields, resolve.FieldKind) {
			return svcerr.InvalidParams("complementary mode requires a kind field").
				WithContext("mode", p.Mode)
		}
	}
	switch p.DateOrder {
	case "", normalize.DayFirst, normalize.MonthFirst, normalize.AutoOrder:
	default:
		return svcerr.InvalidParams(fmt.Sprintf("unknown date order %q", p.DateOrder))
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return svcerr.InvalidParams("date range ends before it starts").
			WithContext("from", p.From.Format("2006-01-02")).
			WithContext("to", p.To.Format("2006-01-02"))
	}
	return nil
}

func hasField(specs []resolve.FieldSpec, f resolve.Field) bool {
	for _, s := range specs {
		if s.Field == f {
			return true
		}
	}
	return false
}
