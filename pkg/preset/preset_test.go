package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/svctools/internal/model"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/window"
)

func TestBuiltinPresetsAreValid(t *testing.T) {
	for _, p := range Builtin() {
		t.Run(p.Name, func(t *testing.T) {
			assert.NoError(t, p.Validate())
		})
	}
}

func TestPreset_Params(t *testing.T) {
	r := NewRegistry()

	calls, err := r.Get("repeat-calls")
	require.NoError(t, err)
	p := calls.Params()
	assert.Equal(t, window.ModeSameKind, p.Mode)
	assert.Equal(t, 30, p.WindowDays)
	assert.Equal(t, "repeat-calls", p.Preset)

	dups, err := r.Get("rfid-duplicates")
	require.NoError(t, err)
	p = dups.Params()
	assert.Equal(t, 0, p.WindowDays)
	assert.Equal(t, model.LabelDuplicate, p.RepeatLabel)

	items, err := r.Get("unreturned")
	require.NoError(t, err)
	p = items.Params()
	assert.Equal(t, window.ModeComplementary, p.Mode)
	assert.True(t, p.LatestOnly)
	assert.Equal(t, []int{7, 30, 90}, items.WindowChoices)
	assert.Contains(t, p.Kinds.Dispense, "delivery")
	assert.True(t, p.Now.IsZero(), "now is left to the caller")
}

func TestPreset_ParamsDoNotAliasFields(t *testing.T) {
	calls, err := Get("repeat-calls")
	require.NoError(t, err)
	p := calls.Params()
	p.Fields[0].Candidates = nil
	assert.NotEmpty(t, calls.Fields[0].Candidates)
}

func TestRegistry_Get_Unknown(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	assert.True(t, svcerr.IsCode(err, svcerr.CodeInvalidParams))
	assert.Contains(t, err.Error(), "repeat-calls")
}

func TestRegistry_LoadFile(t *testing.T) {
	doc := `
presets:
  - name: alert-repeats
    description: Alerts repeated on the same station
    mode: same-kind
    window_days: 7
    fields:
      - field: entity
        candidates: ["Station Name"]
        required: true
      - field: timestamp
        candidates: ["Alert Time"]
        keywords: [["alert", "time"]]
        required: true
      - field: secondary
        candidates: ["Alert Type"]
  - name: items-strict
    mode: complementary
    latest_only: false
    scope_match: true
    kinds:
      dispense: ["ניפוק"]
      return: ["החזרה"]
    fields:
      - field: entity
        candidates: ["RFID"]
        required: true
      - field: timestamp
        candidates: ["Date"]
        required: true
      - field: kind
        candidates: ["Type"]
        required: true
`
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))
	assert.Equal(t, []string{"alert-repeats", "items-strict", "repeat-calls", "rfid-duplicates", "unreturned"}, r.Names())

	alerts, err := r.Get("alert-repeats")
	require.NoError(t, err)
	assert.Equal(t, 7, alerts.Window())
	assert.Equal(t, [][]string{{"alert", "time"}}, alerts.Fields[1].Keywords)
	assert.Equal(t, resolve.FieldSecondary, alerts.Fields[2].Field)

	strict, err := r.Get("items-strict")
	require.NoError(t, err)
	p := strict.Params()
	assert.Equal(t, 30, p.WindowDays)
	assert.False(t, p.LatestOnly)
	assert.True(t, p.ScopeMatch)
	assert.Equal(t, []string{"ניפוק"}, p.Kinds.Dispense)
}

func TestRegistry_LoadFile_Errors(t *testing.T) {
	r := NewRegistry()
	err := r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, svcerr.IsCode(err, svcerr.CodeFileNotFound))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets: [name: x"), 0o644))
	assert.True(t, svcerr.IsCode(r.LoadFile(path), svcerr.CodeParseFailed))

	doc := `
presets:
  - name: no-kind
    mode: complementary
    fields:
      - {field: entity, candidates: [RFID], required: true}
      - {field: timestamp, candidates: [Date], required: true}
  - mode: same-kind
`
	path = filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	err = r.LoadFile(path)
	require.Error(t, err)
	var multi *svcerr.MultiError
	require.ErrorAs(t, err, &multi)
	assert.Len(t, multi.Errors, 2)
	assert.NotContains(t, r.Names(), "no-kind")
}
