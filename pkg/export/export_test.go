package export

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/aggregate"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/mismatch"
	"github.com/logflow/svctools/pkg/report"
	"github.com/logflow/svctools/pkg/table"
	"github.com/logflow/svctools/pkg/window"
)

func sampleResult(mode window.Mode) *report.Result {
	src := table.New("calls", []string{"Call", "Device", "Date", "Technician"}, [][]string{
		{"1001", "D1", "01/01/2025", "Avi"},
		{"1002", "D1", "11/01/2025", "Dana"},
	})
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 10)
	return &report.Result{
		RunID: "run-1",
		Info:  report.RunInfo{Preset: "repeat-calls", Mode: mode, WindowDays: 30},
		ClassifiedEvents: []report.ClassifiedEvent{
			{Row: 0, EntityID: "D1", Timestamp: t0, Secondary: "Avi", Label: model.LabelFirst, RefRow: model.NoRef},
			{Row: 1, EntityID: "D1", Timestamp: t1, Secondary: "Dana", Label: model.LabelRepeat, RefRow: 0, GapDays: 10},
		},
		GroupSummaries: []aggregate.Summary{
			{Key: "Avi", Total: 1},
			{Key: "Dana", Total: 1, Matching: 1, Percentage: 100},
		},
		EntitySummaries: []aggregate.Summary{{Key: "D1", Total: 2, Matching: 1, Percentage: 50}},
		Overall: report.Overall{
			Summary: aggregate.Summary{
				Key: aggregate.OverallKey, Total: 2, Matching: 1, Percentage: 50,
				Labels: map[model.Label]int{model.LabelFirst: 1, model.LabelRepeat: 1},
			},
			Rows: 2,
		},
		Pairs: []report.Pair{{
			EntityID: "D1", Secondary: "Dana", FirstRow: 0, FirstTime: t0, FirstReference: "1001",
			RepeatRow: 1, RepeatTime: t1, RepeatReference: "1002", GapDays: 10,
		}},
		Source: src,
	}
}

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleResult(window.ModeSameKind), Options{GroupHeader: "Technician"}))

	f := openWorkbook(t, buf.Bytes())
	assert.Equal(t, []string{SheetSummary, SheetClassified, SheetGroups, SheetEntities, SheetPairs}, f.GetSheetList())

	rows, err := f.GetRows(SheetClassified)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Call", "Device", "Date", "Technician", "Label", "Related Row", "Days Since Related"}, rows[0])
	assert.Equal(t, []string{"1001", "D1", "01/01/2025", "Avi", "first-occurrence"}, rows[1])
	assert.Equal(t, []string{"1002", "D1", "11/01/2025", "Dana", "repeat", "2", "10"}, rows[2])

	v, err := f.GetCellValue(SheetGroups, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Technician", v)
	v, err = f.GetCellValue(SheetGroups, "D3")
	require.NoError(t, err)
	assert.Equal(t, "100", v)

	pairs, err := f.GetRows(SheetPairs)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "1002", pairs[1][4])
}

func TestWriteXLSX_ComplementaryHasNoPairs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleResult(window.ModeComplementary), Options{}))

	f := openWorkbook(t, buf.Bytes())
	assert.NotContains(t, f.GetSheetList(), SheetPairs)
	v, err := f.GetCellValue(SheetEntities, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Unreturned", v)
}

func TestWriteXLSX_RightToLeft(t *testing.T) {
	res := sampleResult(window.ModeSameKind)
	res.Source = table.New("calls", []string{"מס. קריאה", "מכשיר"}, [][]string{{"1", "D1"}, {"2", "D1"}})

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, res, Options{}))
	f := openWorkbook(t, buf.Bytes())
	view, err := f.GetSheetView(SheetClassified, 0)
	require.NoError(t, err)
	require.NotNil(t, view.RightToLeft)
	assert.True(t, *view.RightToLeft)

	off := false
	buf.Reset()
	require.NoError(t, WriteXLSX(&buf, res, Options{RightToLeft: &off}))
	f = openWorkbook(t, buf.Bytes())
	view, err = f.GetSheetView(SheetClassified, 0)
	require.NoError(t, err)
	assert.False(t, view.RightToLeft != nil && *view.RightToLeft)
}

func TestWriteXLSX_EmptyResult(t *testing.T) {
	res := report.Assemble(report.Input{RunID: "empty", Info: report.RunInfo{Mode: window.ModeSameKind}})

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, res, Options{}))
	f := openWorkbook(t, buf.Bytes())
	rows, err := f.GetRows(SheetClassified)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult(window.ModeSameKind)))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc["run_id"])
	assert.NotContains(t, doc, "Source")
	params := doc["params"].(map[string]interface{})
	assert.Equal(t, "same-kind", params["mode"])
	assert.Len(t, doc["classified_events"], 2)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	res := sampleResult(window.ModeSameKind)

	xlsxPath := filepath.Join(dir, "out", "report.xlsx")
	require.NoError(t, WriteFile(xlsxPath, res, Options{}))
	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	f.Close()

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, WriteFile(jsonPath, res, Options{}))
	assert.FileExists(t, jsonPath)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	assert.True(t, svcerr.IsCode(err, svcerr.CodeInvalidParams))

	assert.Equal(t, FormatJSON, FormatFor("a/b.JSON"))
	assert.Equal(t, FormatXLSX, FormatFor("a/b.xlsx"))
}

func TestWriteMismatchXLSX(t *testing.T) {
	src := table.New("rfid", []string{"RFID", "Item Type Name", "Item Sub Type Name"}, [][]string{
		{"A1", "Gown", "L"},
		{"A1", "Gown", "M"},
		{"B2", "Scrubs", "M"},
	})
	res, err := mismatch.Analyze(context.Background(), src, mismatch.DefaultParams())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMismatchXLSX(&buf, res, src, Options{}))
	f := openWorkbook(t, buf.Bytes())
	assert.Equal(t, []string{SheetMismatched, SheetSummary}, f.GetSheetList())

	rows, err := f.GetRows(SheetMismatched)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	v, err := f.GetCellValue(SheetSummary, "B4")
	require.NoError(t, err)
	assert.Equal(t, "33.33", v)
}

func TestWriteXLSX_LifecycleAndBreakdown(t *testing.T) {
	res := sampleResult(window.ModeSameKind)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	res.EntitySummaries = []aggregate.Summary{
		{Key: "D1", Events: 2, Total: 2, Matching: 1, Percentage: 50, First: t0, Last: t0.AddDate(0, 0, 10), LifecycleDays: 10},
		{Key: "D2", Events: 1, Total: 1, First: t0, Last: t0},
	}
	res.Info.Breakdown = "Fault Code"
	res.Breakdown = []aggregate.Summary{{Key: "Phone", Sub: "101", Total: 2, Matching: 1, Percentage: 50}}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, res, Options{GroupHeader: "Product"}))
	f := openWorkbook(t, buf.Bytes())
	assert.Contains(t, f.GetSheetList(), SheetLifecycle)
	assert.Contains(t, f.GetSheetList(), SheetBreakdown)

	rows, err := f.GetRows(SheetLifecycle)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "D1", rows[1][0])
	assert.Equal(t, "10", rows[1][4])

	rows, err = f.GetRows(SheetBreakdown)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Product", "Fault Code", "Total", "Repeats", "Percentage (%)"}, rows[0])
	assert.Equal(t, []string{"Phone", "101", "2", "1", "50"}, rows[1])
}

func TestWriteJSON_Lifecycle(t *testing.T) {
	res := sampleResult(window.ModeSameKind)
	res.EntitySummaries[0].Events = 2
	res.EntitySummaries[0].LifecycleDays = 10

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, res))
	var doc struct {
		Entities []struct {
			Key           string `json:"key"`
			LifecycleDays int    `json:"lifecycle_days"`
		} `json:"entity_summaries"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Entities, 1)
	assert.Equal(t, 10, doc.Entities[0].LifecycleDays)
}
