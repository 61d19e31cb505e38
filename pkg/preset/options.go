package preset

import (
	"fmt"
	"time"

	"github.com/logflow/svctools/pkg/engine"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/window"
)

// RunOptions are the per-run choices layered over a preset, as given on the
// command line or in an upload form. Zero values keep the preset's choice.
type RunOptions struct {
	WindowDays *int
	AsOf       string
	From       string
	To         string
	DateOrder  string
	Location   *time.Location
	Columns    []string // field=column
	LatestOnly *bool
	ScopeMatch *bool
	Breakdown  string
}

// Build returns engine parameters for one run. A complementary run without
// AsOf uses now().
func (p Preset) Build(o RunOptions, now func() time.Time) (engine.Params, error) {
	params := p.Params()
	if o.WindowDays != nil {
		params.WindowDays = *o.WindowDays
	}
	if o.LatestOnly != nil {
		params.LatestOnly = *o.LatestOnly
	}
	if o.ScopeMatch != nil {
		params.ScopeMatch = *o.ScopeMatch
	}
	if o.Breakdown != "" {
		params.Breakdown = o.Breakdown
	}

	if o.DateOrder != "" {
		order, err := normalize.ParseDateOrder(o.DateOrder)
		if err != nil {
			return params, svcerr.Wrap(err, svcerr.CodeInvalidParams, "invalid date order")
		}
		params.DateOrder = order
	}
	params.Location = o.Location
	if params.Location == nil {
		params.Location = time.Local
	}

	overrides, err := resolve.ParseOverrides(o.Columns)
	if err != nil {
		return params, err
	}
	params.Overrides = overrides

	// Bounds and as-of are typed by people, so they are read day-first
	// regardless of the data's date order.
	parser := normalize.NewTimeParser(normalize.DayFirst, params.Location)
	parse := func(name, s string) (time.Time, error) {
		if s == "" {
			return time.Time{}, nil
		}
		t, err := parser.Parse(s)
		if err != nil {
			return t, svcerr.InvalidParams(fmt.Sprintf("invalid %s date: %q", name, s))
		}
		return t, nil
	}
	if params.From, err = parse("from", o.From); err != nil {
		return params, err
	}
	if params.To, err = parse("to", o.To); err != nil {
		return params, err
	}
	if params.Now, err = parse("as-of", o.AsOf); err != nil {
		return params, err
	}
	if params.Now.IsZero() && params.Mode == window.ModeComplementary && now != nil {
		params.Now = now().In(params.Location)
	}

	return params, params.Validate()
}

// WindowAllowed reports whether days is offered by the preset. Presets
// without choices accept any window.
func (p Preset) WindowAllowed(days int) bool {
	if len(p.WindowChoices) == 0 {
		return true
	}
	for _, c := range p.WindowChoices {
		if c == days {
			return true
		}
	}
	return false
}
