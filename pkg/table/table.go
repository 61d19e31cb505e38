// Package table holds spreadsheet exports in memory and loads them from XLSX and CSV.
package table

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Table is an ordered collection of rows with named columns.
// Rows may be shorter than Columns; missing cells read as "".
type Table struct {
	// Name is the sheet or file the table came from.
	Name    string
	Columns []string
	Rows    [][]string
}

// New builds a table, making duplicate column names unique.
func New(name string, columns []string, rows [][]string) *Table {
	return &Table{
		Name:    name,
		Columns: uniqueColumns(columns),
		Rows:    rows,
	}
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of an exact column name, or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Cell returns the value at row r, column c. Out-of-range cells are "".
func (t *Table) Cell(r, c int) string {
	if r < 0 || r >= len(t.Rows) || c < 0 {
		return ""
	}
	row := t.Rows[r]
	if c >= len(row) {
		return ""
	}
	return row[c]
}

// Value returns the cell of row r under the named column.
func (t *Table) Value(r int, column string) string {
	return t.Cell(r, t.Index(column))
}

// Record returns row r as a column->value map.
func (t *Table) Record(r int) map[string]string {
	rec := make(map[string]string, len(t.Columns))
	for c, name := range t.Columns {
		rec[name] = t.Cell(r, c)
	}
	return rec
}

// Clone returns a deep copy so concurrent runs never share row storage.
func (t *Table) Clone() *Table {
	cols := append([]string(nil), t.Columns...)
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = append([]string(nil), row...)
	}
	return &Table{Name: t.Name, Columns: cols, Rows: rows}
}

// uniqueColumns suffixes repeated headers (".1", ".2") and names blank ones.
func uniqueColumns(columns []string) []string {
	out := make([]string, len(columns))
	seen := make(map[string]int, len(columns))
	for i, c := range columns {
		name := c
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		out[i] = name
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Format is a supported input format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatXLSX
	FormatCSV
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatXLSX:
		return "xlsx"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// DetectFormat picks a format from a file name or URL path.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	default:
		return FormatUnknown
	}
}
