package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/svctools/internal/model"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/table"
)

var rfidSpecs = []resolve.FieldSpec{
	{Field: resolve.FieldEntity, Candidates: []string{"RFID Tag"}, Required: true},
	{Field: resolve.FieldTimestamp, Candidates: []string{"Created Date"}, Required: true},
	{Field: resolve.FieldKind, Candidates: []string{"Transaction Type ID"}},
	{Field: resolve.FieldSecondary, Candidates: []string{"Item Type"}},
	{Field: resolve.FieldScope, Candidates: []string{"Card ID"}},
	{Field: resolve.FieldReference, Candidates: []string{"Ref"}},
}

func resolveTable(t *testing.T, tbl *table.Table) *resolve.Resolution {
	t.Helper()
	res, err := resolve.Resolve(tbl.Columns, rfidSpecs, nil)
	require.NoError(t, err)
	return res
}

func TestTimeParser_Parse(t *testing.T) {
	p := NewTimeParser(DayFirst, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"05/01/2025", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"5/1/2025 9:30", time.Date(2025, 1, 5, 9, 30, 0, 0, time.UTC)},
		{"05.01.2025 14:02:11", time.Date(2025, 1, 5, 14, 2, 11, 0, time.UTC)},
		{"05-01-25", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"2025-01-05", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"2025-01-05 08:00:00", time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC)},
		{"2025-01-05T08:00:00Z", time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC)},
		{"45662", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"45662.5", time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := p.Parse(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	for _, bad := range []string{"", "n/a", "32/01/2025", "2025-13-01", "0"} {
		_, err := p.Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, bad)
	}
}

func TestTimeParser_MonthFirst(t *testing.T) {
	got, err := NewTimeParser(MonthFirst, nil).Parse("01/05/2025")
	require.NoError(t, err)
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 5, got.Day())
}

func TestTimeParser_LocationForSerials(t *testing.T) {
	loc := time.FixedZone("IST", 2*3600)
	got, err := NewTimeParser(DayFirst, loc).Parse("45662.25")
	require.NoError(t, err)
	assert.Equal(t, 6, got.Hour())
	assert.Equal(t, loc, got.Location())
}

func TestDateAmbiguityDetector(t *testing.T) {
	d := NewDateAmbiguityDetector(10)
	d.AddSample("03/04/2025")
	d.AddSample("25/04/2025 10:00")
	assert.Equal(t, DayFirst, d.DetectOrder(MonthFirst))

	d = NewDateAmbiguityDetector(10)
	d.AddSample("04/25/2025")
	assert.Equal(t, MonthFirst, d.DetectOrder(DayFirst))

	d = NewDateAmbiguityDetector(1)
	assert.True(t, d.AddSample("01/02/2025"))
	assert.False(t, d.AddSample("13/02/2025"))
	assert.Equal(t, DayFirst, d.DetectOrder(DayFirst))
	assert.Equal(t, MonthFirst, d.DetectOrder(MonthFirst))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12", 12, true},
		{" 1,234 ", 1234, true},
		{"1,234,567", 1234567, true},
		{"12,5", 12.5, true},
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"1 234", 1234, true},
		{"45%", 45, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestCleanKey(t *testing.T) {
	assert.Equal(t, "12345", CleanKey(" 12345.0 "))
	assert.Equal(t, "12345", CleanKey("12345.000"))
	assert.Equal(t, "12345.5", CleanKey("12345.5"))
	assert.Equal(t, "A-17.0B", CleanKey("A-17.0B"))
}

func TestKindAliases(t *testing.T) {
	var k KindAliases
	assert.Equal(t, model.KindDispense, k.Kind("Delivery"))
	assert.Equal(t, model.KindDispense, k.Kind(" DISPENSE "))
	assert.Equal(t, model.KindReturn, k.Kind("return"))
	assert.Equal(t, model.KindOther, k.Kind("Adjustment"))
	assert.Equal(t, model.KindOther, k.Kind(""))

	custom := KindAliases{Dispense: []string{"ניפוק"}, Return: []string{"החזרה"}}
	assert.Equal(t, model.KindDispense, custom.Kind("ניפוק"))
	assert.Equal(t, model.KindOther, custom.Kind("Dispense"))
}

func TestNormalize_SortsAndSplitsTimelines(t *testing.T) {
	tbl := table.New("rfid", []string{"RFID Tag", "Created Date", "Transaction Type ID", "Item Type", "Card ID"}, [][]string{
		{"B", "10/01/2025", "Dispense", "Scrubs", "7.0"},
		{"A", "12/01/2025", "Return", "Gown", "7"},
		{"A", "10/01/2025", "Delivery", "", "7"},
		{"B", "10/01/2025", "Return", "Scrubs", "7"},
		{"A", "11/01/2025", "Adjust", "Gown", "7"},
	})
	ev, stats := Normalize(tbl, resolveTable(t, tbl), Options{})

	assert.Equal(t, 5, stats.Kept)
	assert.Zero(t, stats.Excluded())
	assert.Equal(t, DayFirst, stats.DateOrder)

	require.Len(t, ev.Timelines, 2)
	assert.Equal(t, "A", ev.Timelines[0].EntityID)
	assert.Equal(t, 0, ev.Timelines[0].Offset)
	assert.Equal(t, 3, ev.Timelines[1].Offset)

	rows := make([]int, 0, ev.Len())
	for _, e := range ev.Items {
		rows = append(rows, e.Row)
	}
	// equal timestamps keep table order (rows 0 and 3 for B)
	assert.Equal(t, []int{2, 4, 1, 0, 3}, rows)

	for _, tl := range ev.Timelines {
		for i := 1; i < len(tl.Events); i++ {
			assert.False(t, tl.Events[i].Timestamp.Before(tl.Events[i-1].Timestamp))
		}
	}

	first := ev.Items[0]
	assert.Equal(t, model.KindDispense, first.Kind)
	assert.Equal(t, "Delivery", first.KindRaw)
	assert.Equal(t, "7", first.Scope)
	assert.Equal(t, "7", ev.Items[3].Scope)
	assert.Equal(t, model.KindOther, ev.Items[1].Kind)
}

func TestNormalize_UnparseableOnlyEventExcludesEntity(t *testing.T) {
	tbl := table.New("calls", []string{"RFID Tag", "Created Date"}, [][]string{
		{"D1", "01/01/2025"},
		{"D2", "not a date"},
		{"", "01/01/2025"},
	})
	ev, stats := Normalize(tbl, resolveTable(t, tbl), Options{})

	assert.Equal(t, 1, stats.InvalidTimestamp)
	assert.Equal(t, 1, stats.MissingEntity)
	assert.Equal(t, 2, stats.Excluded())
	require.Len(t, ev.Timelines, 1)
	assert.Equal(t, "D1", ev.Timelines[0].EntityID)
}

func TestNormalize_DateRangeInclusive(t *testing.T) {
	tbl := table.New("calls", []string{"RFID Tag", "Created Date"}, [][]string{
		{"D1", "31/12/2024 23:59"},
		{"D1", "01/01/2025 00:00"},
		{"D1", "31/01/2025 23:59"},
		{"D1", "01/02/2025"},
	})
	ev, stats := Normalize(tbl, resolveTable(t, tbl), Options{
		From: time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, 2, stats.OutOfRange)
	assert.Equal(t, 2, ev.Len())
}

func TestNormalize_NumericPolicies(t *testing.T) {
	tbl := table.New("parts", []string{"RFID Tag", "Created Date", "Qty", "Cost"}, [][]string{
		{"D1", "01/01/2025", "2", "x"},
		{"D1", "02/01/2025", "?", "10,5"},
	})
	res := resolveTable(t, tbl)

	ev, stats := Normalize(tbl, res, Options{Numeric: []NumericField{
		{Column: "Qty", Policy: PolicyRequired},
		{Column: "Cost", Policy: PolicyAbsent},
	}})
	assert.Equal(t, 1, stats.InvalidNumeric)
	require.Equal(t, 1, ev.Len())
	assert.Equal(t, map[string]float64{"Qty": 2}, ev.Items[0].Numbers)

	ev, stats = Normalize(tbl, res, Options{Numeric: []NumericField{
		{Column: "Qty", Policy: PolicyZero},
		{Column: "Cost"},
	}})
	assert.Zero(t, stats.InvalidNumeric)
	require.Equal(t, 2, ev.Len())
	assert.Equal(t, map[string]float64{"Qty": 0, "Cost": 10.5}, ev.Items[1].Numbers)
}

func TestNormalize_AutoDateOrder(t *testing.T) {
	tbl := table.New("calls", []string{"RFID Tag", "Created Date"}, [][]string{
		{"D1", "01/02/2025"},
		{"D1", "01/28/2025"},
		{"D1", "45662"},
	})
	ev, stats := Normalize(tbl, resolveTable(t, tbl), Options{DateOrder: AutoOrder})
	assert.Equal(t, MonthFirst, stats.DateOrder)
	require.Equal(t, 3, ev.Len())
	assert.Equal(t, time.January, ev.Items[0].Timestamp.Month())
	assert.Equal(t, 2, ev.Items[0].Timestamp.Day())
}

func TestNormalize_EmptyTable(t *testing.T) {
	tbl := table.New("calls", []string{"RFID Tag", "Created Date"}, nil)
	ev, stats := Normalize(tbl, resolveTable(t, tbl), Options{})
	assert.Zero(t, ev.Len())
	assert.Empty(t, ev.Timelines)
	assert.Zero(t, stats.Rows)
}
