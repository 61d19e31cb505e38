// Package model defines core data structures for svctools.
package model

import "time"

// NoRef marks an absent event reference.
const NoRef = -1

// Kind classifies an event for complementary-kind matching.
type Kind uint8

const (
	KindOther Kind = iota
	KindDispense
	KindReturn
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDispense:
		return "dispense"
	case KindReturn:
		return "return"
	default:
		return "other"
	}
}

// Event is one input row reduced to the fields the engine reasons about.
// The remaining row fields stay in the source table and are reached through Row.
type Event struct {
	// Row is the index of the originating row in the input table.
	Row int

	// EntityID identifies the tracked thing (device number, RFID tag, card id).
	EntityID string

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Secondary is the aggregation dimension (technician, item type). May be empty.
	Secondary string

	// Kind is the resolved event kind; KindRaw keeps the original cell text.
	Kind    Kind
	KindRaw string

	// Scope optionally restricts complementary matching (card id, user).
	Scope string

	// Reference is a human-facing identifier such as a call number.
	Reference string

	// Numbers holds coerced numeric payload fields keyed by column name.
	Numbers map[string]float64
}

// Label is the classification attached to an event.
type Label string

const (
	LabelFirst      Label = "first-occurrence"
	LabelRepeat     Label = "repeat"
	LabelDuplicate  Label = "duplicate"
	LabelMatched    Label = "matched-return"
	LabelUnreturned Label = "unreturned"
	LabelPending    Label = "pending"
	LabelSuperseded Label = "superseded"
	LabelReturn     Label = "return"
	LabelOther      Label = "other"
)

// IsRepeat reports whether the label marks a same-kind recurrence.
func (l Label) IsRepeat() bool {
	return l == LabelRepeat || l == LabelDuplicate
}

// Classification labels one event. Event and Ref index into the run's event slice;
// nothing is copied out of it.
type Classification struct {
	Event int
	Label Label

	// Ref points at the prior (Mode A) or partner (Mode B) event, or NoRef.
	Ref int

	// GapDays is the whole-day distance to Ref. Zero when Ref is NoRef.
	GapDays int
}

// HasRef reports whether the classification points at another event.
func (c Classification) HasRef() bool {
	return c.Ref != NoRef
}
