package table

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

func TestNew_UniqueColumns(t *testing.T) {
	tbl := New("t", []string{"Date", "Date", "", "Date"}, nil)
	assert.Equal(t, []string{"Date", "Date.1", "Unnamed: 2", "Date.2"}, tbl.Columns)
}

func TestTable_CellRagged(t *testing.T) {
	tbl := New("t", []string{"a", "b", "c"}, [][]string{{"1"}, {"1", "2", "3"}})

	assert.Equal(t, "", tbl.Cell(0, 2))
	assert.Equal(t, "3", tbl.Value(1, "c"))
	assert.Equal(t, "", tbl.Value(1, "missing"))
	assert.Equal(t, "", tbl.Cell(5, 0))
	assert.Equal(t, map[string]string{"a": "1", "b": "", "c": ""}, tbl.Record(0))
}

func TestTable_CloneIsIndependent(t *testing.T) {
	tbl := New("t", []string{"a"}, [][]string{{"x"}})
	cp := tbl.Clone()
	cp.Rows[0][0] = "y"
	assert.Equal(t, "x", tbl.Rows[0][0])
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma", "RFID,Created Date\nA1,01/02/2025\n\nA2,03/02/2025\n"},
		{"semicolon", "RFID;Created Date\nA1;01/02/2025\nA2;03/02/2025\n"},
		{"tab with bom", "\xEF\xBB\xBFRFID\tCreated Date\nA1\t01/02/2025\nA2\t03/02/2025"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := ReadCSV(context.Background(), strings.NewReader(tt.input), "in.csv", Options{})
			require.NoError(t, err)
			assert.Equal(t, []string{"RFID", "Created Date"}, tbl.Columns)
			require.Equal(t, 2, tbl.Len())
			assert.Equal(t, "A2", tbl.Value(1, "RFID"))
		})
	}
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("\n\n"), "empty.csv", Options{})
	assert.True(t, svcerr.IsCode(err, svcerr.CodeEmptyInput))
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_, err := f.NewSheet("DataSheet")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("DataSheet", "A1", &[]interface{}{"מס' מכשיר", "תאריך קריאה"}))
	require.NoError(t, f.SetSheetRow("DataSheet", "A2", &[]interface{}{12345, "05/01/2025"}))
	require.NoError(t, f.SetSheetRow("DataSheet", "A4", &[]interface{}{678, "07/01/2025"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	t.Run("named sheet", func(t *testing.T) {
		tbl, err := ReadXLSX(context.Background(), bytes.NewReader(buf.Bytes()), "calls.xlsx", Options{Sheet: "DataSheet"})
		require.NoError(t, err)
		assert.Equal(t, "calls.xlsx/DataSheet", tbl.Name)
		assert.Equal(t, []string{"מס' מכשיר", "תאריך קריאה"}, tbl.Columns)
		require.Equal(t, 2, tbl.Len())
		assert.Equal(t, "12345", tbl.Cell(0, 0))
		assert.Equal(t, "678", tbl.Cell(1, 0))
	})

	t.Run("missing sheet", func(t *testing.T) {
		_, err := ReadXLSX(context.Background(), bytes.NewReader(buf.Bytes()), "calls.xlsx", Options{Sheet: "Nope"})
		assert.True(t, svcerr.IsCode(err, svcerr.CodeInvalidFormat))
	})

	t.Run("default sheet is empty", func(t *testing.T) {
		_, err := ReadXLSX(context.Background(), bytes.NewReader(buf.Bytes()), "calls.xlsx", Options{})
		assert.True(t, svcerr.IsCode(err, svcerr.CodeEmptyInput))
	})
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatXLSX, DetectFormat("s3://bucket/Report.XLSX"))
	assert.Equal(t, FormatCSV, DetectFormat("calls.csv"))
	assert.Equal(t, FormatUnknown, DetectFormat("calls.xes"))
}
