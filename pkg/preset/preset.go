// Package preset holds named analysis configurations: which columns to look
// for, which mode to run and with what window.
package preset

import (
	"fmt"
	"time"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/engine"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/window"
)

// Preset is a named analysis.
type Preset struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Mode        window.Mode `yaml:"mode" json:"mode"`

	// WindowDays is the default window. Nil means engine.DefaultWindowDays.
	WindowDays *int `yaml:"window_days,omitempty" json:"window_days,omitempty"`

	// WindowChoices are the windows offered to users (7/30/90 for items).
	WindowChoices []int `yaml:"window_choices,omitempty" json:"window_choices,omitempty"`

	RepeatLabel model.Label         `yaml:"repeat_label,omitempty" json:"repeat_label,omitempty"`
	Fields      []resolve.FieldSpec `yaml:"fields" json:"fields"`

	Kinds      normalize.KindAliases `yaml:"kinds,omitempty" json:"kinds,omitempty"`
	ScopeMatch bool                  `yaml:"scope_match,omitempty" json:"scope_match,omitempty"`

	// LatestOnly defaults to true when unset.
	LatestOnly *bool `yaml:"latest_only,omitempty" json:"latest_only,omitempty"`

	Numeric []normalize.NumericField `yaml:"numeric,omitempty" json:"numeric,omitempty"`

	// Breakdown names a column that splits each group in the report.
	Breakdown string `yaml:"breakdown,omitempty" json:"breakdown,omitempty"`
}

// Window returns the preset's default window in days.
func (p Preset) Window() int {
	if p.WindowDays == nil {
		return engine.DefaultWindowDays
	}
	return *p.WindowDays
}

// Params returns engine parameters for the preset. Callers set Now, the
// date range and overrides.
func (p Preset) Params() engine.Params {
	params := engine.DefaultParams()
	params.Preset = p.Name
	params.Mode = p.Mode
	params.WindowDays = p.Window()
	params.Fields = append([]resolve.FieldSpec(nil), p.Fields...)
	params.ScopeMatch = p.ScopeMatch
	params.Numeric = append([]normalize.NumericField(nil), p.Numeric...)
	params.Breakdown = p.Breakdown
	if p.RepeatLabel != "" {
		params.RepeatLabel = p.RepeatLabel
	}
	if len(p.Kinds.Dispense) > 0 || len(p.Kinds.Return) > 0 {
		params.Kinds = p.Kinds
	}
	if p.LatestOnly != nil {
		params.LatestOnly = *p.LatestOnly
	}
	return params
}

// Validate checks that the preset can produce valid parameters.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset has no name")
	}
	params := p.Params()
	if params.Mode == window.ModeComplementary {
		// now is supplied per run
		params.Now = time.Unix(0, 0)
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return nil
}

func intPtr(v int) *int { return &v }

// Builtin returns the presets shipped with svctools.
func Builtin() []Preset {
	return []Preset{
		{
			Name:        "repeat-calls",
			Description: "Service calls repeated on the same device within the window, by technician",
			Mode:        window.ModeSameKind,
			WindowDays:  intPtr(30),
			RepeatLabel: model.LabelRepeat,
			Fields: []resolve.FieldSpec{
				{
					Field:      resolve.FieldEntity,
					Candidates: []string{"מס' מכשיר", "מספר מכשיר", "Device Number", "Device ID"},
					Keywords:   [][]string{{"מכשיר"}, {"device"}},
					Required:   true,
				},
				{
					Field:      resolve.FieldTimestamp,
					Candidates: []string{"תאריך קריאה", "ת. פתיחה", "Call Date"},
					Keywords:   [][]string{{"תאריך", "קריאה"}, {"call", "date"}},
					Required:   true,
				},
				{
					Field:      resolve.FieldSecondary,
					Candidates: []string{"שם טכנאי", "טכנאי", "לטיפול", "Technician"},
					Keywords:   [][]string{{"טכנאי"}},
				},
				{
					Field:      resolve.FieldReference,
					Candidates: []string{"מס. קריאה", "מספר קריאה", "Call Number"},
					Keywords:   [][]string{{"מס", "קריאה"}},
				},
			},
		},
		{
			Name:        "rfid-duplicates",
			Description: "RFID tags read more than once within the window (same day by default)",
			Mode:        window.ModeSameKind,
			WindowDays:  intPtr(0),
			RepeatLabel: model.LabelDuplicate,
			Fields: []resolve.FieldSpec{
				{
					Field:      resolve.FieldEntity,
					Candidates: []string{"RFID", "RFID Tag"},
					Keywords:   [][]string{{"rfid"}},
					Required:   true,
				},
				{
					Field:      resolve.FieldTimestamp,
					Candidates: []string{"Created Date", "Date", "Read Date"},
					Keywords:   [][]string{{"date"}},
					Required:   true,
				},
				{
					Field:      resolve.FieldSecondary,
					Candidates: []string{"Item Type Name", "Item Type"},
				},
				{
					Field:      resolve.FieldReference,
					Candidates: []string{"Station Name", "Station"},
				},
			},
		},
		{
			Name:          "unreturned",
			Description:   "Items dispensed or delivered with no return within the window",
			Mode:          window.ModeComplementary,
			WindowDays:    intPtr(30),
			WindowChoices: []int{7, 30, 90},
			Kinds:         normalize.DefaultKindAliases(),
			Fields: []resolve.FieldSpec{
				{
					Field:      resolve.FieldEntity,
					Candidates: []string{"RFID Tag", "RFID"},
					Keywords:   [][]string{{"rfid"}},
					Required:   true,
				},
				{
					Field:      resolve.FieldTimestamp,
					Candidates: []string{"Created Date", "CreatedDate"},
					Keywords:   [][]string{{"created"}},
					Required:   true,
				},
				{
					Field:      resolve.FieldKind,
					Candidates: []string{"Transaction Type ID", "Transaction Type", "TransactionType"},
					Keywords:   [][]string{{"transaction", "type"}},
					Required:   true,
				},
				{
					Field:      resolve.FieldSecondary,
					Candidates: []string{"Item Type", "Item Type Name"},
				},
				{
					Field:      resolve.FieldScope,
					Candidates: []string{"Card ID", "CardId", "CardID"},
				},
			},
		},
	}
}
