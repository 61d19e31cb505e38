package mismatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/table"
)

func rfidTable() *table.Table {
	return table.New("rfid.xlsx", []string{"RFID", "Item Type Name", "Item Sub Type Name", "Station Name"}, [][]string{
		{"A1", "Gown", "L", "S1"},
		{"A1", "Gown", "M", "S2"},
		{"B2", "Scrubs", "M", "S1"},
		{"B2", "Scrubs", "", "S1"},
		{"C3", "Gown", "L", "S1"},
		{"C3", "Pants", "L", "S1"},
		{"", "Gown", "XL", "S1"},
	})
}

func TestAnalyze(t *testing.T) {
	res, err := Analyze(context.Background(), rfidTable(), DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 7, res.TotalRows)
	assert.Equal(t, 2, res.Mismatched)
	assert.Equal(t, 28.57, res.Percentage)

	require.Len(t, res.Entities, 2)
	assert.Equal(t, "A1", res.Entities[0].EntityID)
	assert.Equal(t, map[string][]string{"Item Sub Type Name": {"L", "M"}}, res.Entities[0].Values)
	assert.Equal(t, []int{0, 1}, res.Entities[0].Rows)
	assert.Equal(t, map[string][]string{"Item Type Name": {"Gown", "Pants"}}, res.Entities[1].Values)

	out := res.Table(rfidTable())
	assert.Equal(t, 4, out.Len())
	assert.Equal(t, "C3", out.Cell(3, 0))
}

func TestAnalyze_MissingAttribute(t *testing.T) {
	p := DefaultParams()
	p.Attributes = append(p.Attributes, "Colour")
	_, err := Analyze(context.Background(), rfidTable(), p)
	assert.True(t, svcerr.IsCode(err, svcerr.CodeMissingField))
	assert.Equal(t, []string{"Colour"}, svcerr.Fields(err))
}

func TestAnalyze_NoRows(t *testing.T) {
	tbl := table.New("empty", []string{"RFID", "Item Type Name", "Item Sub Type Name"}, nil)
	res, err := Analyze(context.Background(), tbl, DefaultParams())
	require.NoError(t, err)
	assert.Zero(t, res.Mismatched)
	assert.Equal(t, 0.0, res.Percentage)
	assert.NotNil(t, res.Entities)
}

func TestAnalyze_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Analyze(ctx, rfidTable(), DefaultParams())
	assert.True(t, svcerr.IsCode(err, svcerr.CodeContextCanceled))
}
