// Package export writes analysis results as Excel workbooks and JSON.
package export

import (
	"fmt"
	"io"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/aggregate"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/mismatch"
	"github.com/logflow/svctools/pkg/report"
	"github.com/logflow/svctools/pkg/table"
	"github.com/logflow/svctools/pkg/window"
)

// Sheet names of the report workbook.
const (
	SheetSummary    = "Summary"
	SheetClassified = "Classified"
	SheetGroups     = "By Group"
	SheetEntities   = "By Entity"
	SheetPairs      = "Repeat Pairs"
	SheetLifecycle  = "Entity Lifecycle"
	SheetBreakdown  = "Breakdown"
	SheetMismatched = "Mismatched Data"
)

const maxColWidth = 60

// Options controls the workbook layout.
type Options struct {
	// GroupHeader names the group column, e.g. "Technician" or "Item Type".
	GroupHeader string

	// RightToLeft mirrors sheets for Hebrew reports. Nil detects it from the
	// source column names.
	RightToLeft *bool

	// DateFormat is the Excel number format of timestamp cells.
	DateFormat string

	// BreakdownHeader names the breakdown column. Empty uses the source
	// column name.
	BreakdownHeader string
}

func (o Options) withDefaults() Options {
	if o.GroupHeader == "" {
		o.GroupHeader = "Group"
	}
	if o.DateFormat == "" {
		o.DateFormat = "dd/mm/yyyy hh:mm"
	}
	return o
}

// workbook wraps an excelize file with the shared styles.
type workbook struct {
	f         *excelize.File
	opts      Options
	header    int
	date      int
	rtl       bool
	firstUsed bool
}

func newWorkbook(opts Options, src *table.Table) (*workbook, error) {
	f := excelize.NewFile()
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	fmtStr := opts.DateFormat
	date, err := f.NewStyle(&excelize.Style{CustomNumFmt: &fmtStr})
	if err != nil {
		f.Close()
		return nil, err
	}

	rtl := false
	if opts.RightToLeft != nil {
		rtl = *opts.RightToLeft
	} else if src != nil {
		rtl = hasHebrew(src.Columns)
	}
	return &workbook{f: f, opts: opts, header: header, date: date, rtl: rtl}, nil
}

// sheet creates a sheet, reusing the default first sheet for the first call.
func (w *workbook) sheet(name string) error {
	if !w.firstUsed {
		w.firstUsed = true
		if err := w.f.SetSheetName("Sheet1", name); err != nil {
			return err
		}
	} else if _, err := w.f.NewSheet(name); err != nil {
		return err
	}
	if w.rtl {
		rtl := true
		return w.f.SetSheetView(name, 0, &excelize.ViewOptions{RightToLeft: &rtl})
	}
	return nil
}

// writeRows writes a header and rows, styles time cells and sizes columns.
func (w *workbook) writeRows(name string, header []string, rows [][]interface{}) error {
	if err := w.sheet(name); err != nil {
		return err
	}

	widths := make([]int, len(header))
	hdr := make([]interface{}, len(header))
	for i, h := range header {
		hdr[i] = h
		widths[i] = cellWidth(h)
	}
	if err := w.f.SetSheetRow(name, "A1", &hdr); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := w.f.SetCellStyle(name, "A1", last, w.header); err != nil {
		return err
	}

	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := w.f.SetSheetRow(name, cell, &row); err != nil {
			return err
		}
		for c, v := range row {
			if c >= len(widths) {
				break
			}
			if _, ok := v.(time.Time); ok {
				tc, _ := excelize.CoordinatesToCellName(c+1, r+2)
				if err := w.f.SetCellStyle(name, tc, tc, w.date); err != nil {
					return err
				}
				widths[c] = max(widths[c], 16)
				continue
			}
			widths[c] = max(widths[c], cellWidth(fmt.Sprint(v)))
		}
	}

	for c, width := range widths {
		col, _ := excelize.ColumnNumberToName(c + 1)
		if err := w.f.SetColWidth(name, col, col, float64(min(width+2, maxColWidth))); err != nil {
			return err
		}
	}
	return w.f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// WriteXLSX writes the report workbook: summary, classified rows with the
// original columns, group and entity summaries, repeat pairs for same-kind
// runs, and the lifecycle and breakdown sheets when they have rows.
func WriteXLSX(out io.Writer, res *report.Result, opts Options) error {
	opts = opts.withDefaults()
	w, err := newWorkbook(opts, res.Source)
	if err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to create workbook")
	}
	defer w.f.Close()

	steps := []func(*workbook, *report.Result) error{
		writeSummary,
		writeClassified,
		writeGroups,
		writeEntities,
	}
	if res.Info.Mode != window.ModeComplementary {
		steps = append(steps, writePairs)
	}
	if len(res.Lifecycle()) > 0 {
		steps = append(steps, writeLifecycle)
	}
	if len(res.Breakdown) > 0 {
		steps = append(steps, writeBreakdown)
	}
	for _, step := range steps {
		if err := step(w, res); err != nil {
			return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to write report sheet")
		}
	}

	if _, err := w.f.WriteTo(out); err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to write workbook")
	}
	return nil
}

func writeSummary(w *workbook, res *report.Result) error {
	o := res.Overall
	rows := [][]interface{}{
		{"Run ID", res.RunID},
		{"Preset", res.Info.Preset},
		{"Mode", string(res.Info.Mode)},
		{"Window (days)", res.Info.WindowDays},
	}
	if !res.Info.Now.IsZero() {
		rows = append(rows, []interface{}{"As of", res.Info.Now})
	}
	if !res.Info.From.IsZero() {
		rows = append(rows, []interface{}{"From", res.Info.From})
	}
	if !res.Info.To.IsZero() {
		rows = append(rows, []interface{}{"To", res.Info.To})
	}
	rows = append(rows,
		[]interface{}{"Date order", string(res.Info.DateOrder)},
		[]interface{}{"Input rows", o.Rows},
		[]interface{}{"Total", o.Total},
		[]interface{}{matchingLabel(res.Info.Mode), o.Matching},
		[]interface{}{"Percentage (%)", o.Percentage},
		[]interface{}{"Rows excluded", o.Excluded},
		[]interface{}{"Excluded: invalid date", o.Stats.InvalidTimestamp},
		[]interface{}{"Excluded: invalid number", o.Stats.InvalidNumeric},
		[]interface{}{"Excluded: missing key", o.Stats.MissingEntity},
		[]interface{}{"Excluded: outside date range", o.Stats.OutOfRange},
	)
	for _, l := range labelOrder {
		if n := o.Labels[l]; n > 0 {
			rows = append(rows, []interface{}{"Label: " + string(l), n})
		}
	}
	if o.Empty {
		rows = append(rows, []interface{}{"Note", "No events were classified"})
	}
	return w.writeRows(SheetSummary, []string{"Metric", "Value"}, rows)
}

func writeClassified(w *workbook, res *report.Result) error {
	var srcCols []string
	if res.Source != nil {
		srcCols = res.Source.Columns
	}
	header := append(append([]string(nil), srcCols...), "Label", "Related Row", "Days Since Related")

	rows := make([][]interface{}, 0, len(res.ClassifiedEvents))
	for _, ce := range res.ClassifiedEvents {
		row := make([]interface{}, 0, len(header))
		for c := range srcCols {
			row = append(row, res.Source.Cell(ce.Row, c))
		}
		row = append(row, string(ce.Label))
		if ce.RefRow == model.NoRef {
			row = append(row, "", "")
		} else {
			// spreadsheet row numbers: 1-based plus the header row
			row = append(row, ce.RefRow+2, ce.GapDays)
		}
		rows = append(rows, row)
	}
	return w.writeRows(SheetClassified, header, rows)
}

func summaryRows(rows []aggregate.Summary) [][]interface{} {
	out := make([][]interface{}, 0, len(rows))
	for _, s := range rows {
		out = append(out, []interface{}{s.Key, s.Total, s.Matching, s.Percentage})
	}
	return out
}

func writeGroups(w *workbook, res *report.Result) error {
	header := []string{w.opts.GroupHeader, "Total", matchingLabel(res.Info.Mode), "Percentage (%)"}
	return w.writeRows(SheetGroups, header, summaryRows(res.GroupSummaries))
}

func writeEntities(w *workbook, res *report.Result) error {
	header := []string{"Entity", "Total", matchingLabel(res.Info.Mode), "Percentage (%)"}
	return w.writeRows(SheetEntities, header, summaryRows(res.EntitySummaries))
}

func writePairs(w *workbook, res *report.Result) error {
	header := []string{"Entity", w.opts.GroupHeader, "First Reference", "First Date", "Repeat Reference", "Repeat Date", "Days Between"}
	rows := make([][]interface{}, 0, len(res.Pairs))
	for _, p := range res.Pairs {
		rows = append(rows, []interface{}{
			p.EntityID, p.Secondary, p.FirstReference, p.FirstTime, p.RepeatReference, p.RepeatTime, p.GapDays,
		})
	}
	return w.writeRows(SheetPairs, header, rows)
}

func writeLifecycle(w *workbook, res *report.Result) error {
	header := []string{"Entity", "Events", "First", "Last", "Lifecycle (Days)"}
	rows := [][]interface{}{}
	for _, s := range res.Lifecycle() {
		rows = append(rows, []interface{}{s.Key, s.Events, s.First, s.Last, s.LifecycleDays})
	}
	return w.writeRows(SheetLifecycle, header, rows)
}

func writeBreakdown(w *workbook, res *report.Result) error {
	sub := w.opts.BreakdownHeader
	if sub == "" {
		sub = res.Info.Breakdown
	}
	header := []string{w.opts.GroupHeader, sub, "Total", matchingLabel(res.Info.Mode), "Percentage (%)"}
	rows := make([][]interface{}, 0, len(res.Breakdown))
	for _, s := range res.Breakdown {
		rows = append(rows, []interface{}{s.Key, s.Sub, s.Total, s.Matching, s.Percentage})
	}
	return w.writeRows(SheetBreakdown, header, rows)
}

// WriteMismatchXLSX writes the mismatched rows and a summary sheet.
func WriteMismatchXLSX(out io.Writer, res *mismatch.Result, src *table.Table, opts Options) error {
	opts = opts.withDefaults()
	w, err := newWorkbook(opts, src)
	if err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to create workbook")
	}
	defer w.f.Close()

	mt := res.Table(src)
	rows := make([][]interface{}, 0, mt.Len())
	for r := 0; r < mt.Len(); r++ {
		row := make([]interface{}, len(mt.Columns))
		for c := range mt.Columns {
			row[c] = mt.Cell(r, c)
		}
		rows = append(rows, row)
	}
	if err := w.writeRows(SheetMismatched, mt.Columns, rows); err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to write report sheet")
	}
	summary := [][]interface{}{
		{"Total Transactions", res.TotalRows},
		{"Mismatched Entity Count", res.Mismatched},
		{"Mismatch Percentage (%)", res.Percentage},
	}
	if err := w.writeRows(SheetSummary, []string{"Metric", "Value"}, summary); err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to write report sheet")
	}
	if _, err := w.f.WriteTo(out); err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to write workbook")
	}
	return nil
}

var labelOrder = []model.Label{
	model.LabelFirst, model.LabelRepeat, model.LabelDuplicate,
	model.LabelMatched, model.LabelUnreturned, model.LabelPending,
	model.LabelSuperseded, model.LabelReturn, model.LabelOther,
}

func matchingLabel(m window.Mode) string {
	if m == window.ModeComplementary {
		return "Unreturned"
	}
	return "Repeats"
}

func cellWidth(s string) int {
	n := utf8.RuneCountInString(s)
	if n > maxColWidth {
		return maxColWidth
	}
	return n
}

func hasHebrew(cols []string) bool {
	for _, c := range cols {
		for _, r := range c {
			if unicode.Is(unicode.Hebrew, r) {
				return true
			}
		}
	}
	return false
}
