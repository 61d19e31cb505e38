package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/aggregate"
	"github.com/logflow/svctools/pkg/mismatch"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/preset"
	"github.com/logflow/svctools/pkg/report"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/window"
)

func TestPrintSummary(t *testing.T) {
	res := &report.Result{
		Info: report.RunInfo{Preset: "unreturned", Mode: window.ModeComplementary, WindowDays: 7,
			Now: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)},
		GroupSummaries: []aggregate.Summary{
			{Key: "Gown", Total: 4, Matching: 1, Percentage: 25},
			{Key: "Scrubs", Total: 2},
			{Key: aggregate.Unspecified, Total: 1},
		},
		Overall: report.Overall{
			Summary: aggregate.Summary{Total: 7, Matching: 1, Percentage: 14.29,
				Labels: map[model.Label]int{model.LabelUnreturned: 1, model.LabelMatched: 5}},
			Rows:     9,
			Excluded: 2,
			Stats:    normalize.Stats{InvalidTimestamp: 2},
		},
	}

	var buf bytes.Buffer
	PrintSummary(&buf, res, SummaryOptions{GroupHeader: "Item Type", TopGroups: 2})
	out := buf.String()

	assert.Contains(t, out, "ANALYSIS COMPLETE")
	assert.Contains(t, out, "01/03/2025 09:30")
	assert.Contains(t, out, "Unreturned")
	assert.Contains(t, out, "14.29%")
	assert.Contains(t, out, "invalid date")
	assert.Contains(t, out, "matched-return=5")
	assert.Contains(t, out, "BY ITEM TYPE")
	assert.Contains(t, out, "Gown")
	assert.Contains(t, out, "1 more")
	assert.NotContains(t, out, aggregate.Unspecified)
}

func TestPrintSummary_Empty(t *testing.T) {
	res := report.Assemble(report.Input{Info: report.RunInfo{Mode: window.ModeSameKind, WindowDays: 30}})
	var buf bytes.Buffer
	PrintSummary(&buf, res, SummaryOptions{})
	assert.Contains(t, buf.String(), "NO EVENTS CLASSIFIED")
	assert.Contains(t, buf.String(), "Repeats")
}

func TestPrintColumns(t *testing.T) {
	cols := []string{"Call", "Device", "Date"}
	res, err := resolve.Resolve(cols, []resolve.FieldSpec{
		{Field: resolve.FieldEntity, Candidates: []string{"Device"}, Required: true},
		{Field: resolve.FieldTimestamp, Candidates: []string{"Date"}, Required: true},
		{Field: resolve.FieldSecondary, Candidates: []string{"Technician"}},
	}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	PrintColumns(&buf, cols, res)
	out := buf.String()
	assert.Contains(t, out, "Device")
	assert.Contains(t, out, "(exact)")
	assert.Contains(t, out, "secondary")
	assert.Contains(t, out, "not found")
}

func TestPrintMismatch(t *testing.T) {
	res := &mismatch.Result{TotalRows: 4, Mismatched: 1, Percentage: 25, Entities: []mismatch.Entity{
		{EntityID: "A1", Values: map[string][]string{"Item Type Name": {"Gown", "Pants"}}},
	}}
	var buf bytes.Buffer
	PrintMismatch(&buf, res, 0)
	assert.Contains(t, buf.String(), "1 MISMATCHED ENTITIES")
	assert.Contains(t, buf.String(), "Item Type Name: Gown / Pants")
}

func TestPrintPresets(t *testing.T) {
	var buf bytes.Buffer
	PrintPresets(&buf, preset.Builtin())
	assert.Contains(t, buf.String(), "repeat-calls")
	assert.Contains(t, buf.String(), "[7/30/90]")
}

func TestPrompter(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("\"~/calls.xlsx\"\n90\n\nn\n"), &out)

	path, err := p.Path("Input: ")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "calls.xlsx"))
	assert.NotContains(t, path, "~")

	days, err := p.Choice("Window", []int{7, 30, 90}, 30)
	require.NoError(t, err)
	assert.Equal(t, 90, days)

	days, err = p.Choice("Window", []int{7, 30, 90}, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	ok, err := p.Confirm("Go? ")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Confirm("Again? ")
	assert.Error(t, err, "input exhausted")
}

func TestPrompter_ChoiceNotOffered(t *testing.T) {
	p := NewPrompter(strings.NewReader("45\n"), &bytes.Buffer{})
	days, err := p.Choice("Window", []int{7, 30, 90}, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, days)
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, "calls.xlsx", errors.New("boom"))
	assert.Contains(t, buf.String(), "calls.xlsx")
	assert.Contains(t, buf.String(), "boom")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "450ms", formatDuration(450*time.Millisecond))
	assert.Equal(t, "1m5s", formatDuration(65*time.Second))
	assert.Equal(t, "1.5K", formatNumber(1500))
	assert.Equal(t, "33.33", formatPercent(33.33))
	assert.Equal(t, "ab   ", padRight("ab", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
