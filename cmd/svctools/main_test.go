package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/export"
)

const callsCSV = `Call Number,Device Number,Call Date,Technician
1001,D1,01/01/2025,Avi
1002,D1,11/01/2025,Dana
1003,D1,15/02/2025,Avi
1004,D2,03/01/2025,Avi
`

// execute runs the root command with an empty config file.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	conf := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(conf, []byte("version: 1\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", conf}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDefaultOutput(t *testing.T) {
	tests := []struct {
		input, dir, suffix, format string
		want                       string
	}{
		{"data/calls.xlsx", "", "repeat-calls", "", filepath.Join("data", "calls-repeat-calls.xlsx")},
		{"calls.csv", "", "mismatch", "json", "calls-mismatch.json"},
		{"in/calls.xlsx", "out", "unreturned", "", filepath.Join("out", "calls-unreturned.xlsx")},
		{"s3://bucket/in/calls.xlsx", "", "repeat-calls", "", "s3://bucket/in/calls-repeat-calls.xlsx"},
		{"s3://bucket/in/calls.xlsx", "s3://reports/2025", "x", "", "s3://reports/2025/calls-x.xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, defaultOutput(tt.input, tt.dir, tt.suffix, tt.format))
		})
	}
}

func TestReportFormat(t *testing.T) {
	f, err := reportFormat("out.json", "")
	require.NoError(t, err)
	assert.Equal(t, export.FormatJSON, f)

	f, err = reportFormat("s3://b/out.xlsx", "")
	require.NoError(t, err)
	assert.Equal(t, export.FormatXLSX, f)

	f, err = reportFormat("out.xlsx", "json")
	require.NoError(t, err)
	assert.Equal(t, export.FormatJSON, f)

	_, err = reportFormat("out.xlsx", "pdf")
	assert.Error(t, err)
}

func TestAnalyzeCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "calls.csv")
	require.NoError(t, os.WriteFile(input, []byte(callsCSV), 0o644))
	output := filepath.Join(dir, "report.json")

	out, err := execute(t, "analyze", "--preset", "repeat-calls", "-o", output, input)
	require.NoError(t, err, out)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var res struct {
		Overall struct {
			Total    int `json:"total"`
			Matching int `json:"matching"`
		} `json:"overall"`
	}
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, 4, res.Overall.Total)
	assert.Equal(t, 1, res.Overall.Matching)
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.csv", "b.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(callsCSV), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))
	outDir := filepath.Join(t.TempDir(), "reports")

	out, err := execute(t, "batch", "--preset", "repeat-calls", "-o", outDir, dir)
	require.NoError(t, err, out)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"a-repeat-calls.xlsx", "b-repeat-calls.xlsx"}, names)
}

func TestPresetsCommand(t *testing.T) {
	out, err := execute(t, "presets")
	require.NoError(t, err)
	assert.Contains(t, out, "repeat-calls")
	assert.Contains(t, out, "unreturned")
}

func TestAnalyzeMissingInput(t *testing.T) {
	_, err := execute(t, "analyze", "--preset", "repeat-calls", filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestPrintError_StackAtDebugLevel(t *testing.T) {
	prev := logger
	t.Cleanup(func() { logger = prev })
	err := fmt.Errorf("analyze: %w", svcerr.InvalidParams("window must not be negative"))

	logger = zap.NewNop()
	var buf bytes.Buffer
	printError(&buf, err)
	assert.Contains(t, buf.String(), "window must not be negative")
	assert.NotContains(t, buf.String(), "  at ")

	logger = zaptest.NewLogger(t)
	buf.Reset()
	printError(&buf, err)
	assert.Contains(t, buf.String(), "  at ")
	assert.Contains(t, buf.String(), "TestPrintError_StackAtDebugLevel")
}

func TestAnalyzeCommand_Breakdown(t *testing.T) {
	t.Cleanup(func() { breakdownCol = "" })
	dir := t.TempDir()
	input := filepath.Join(dir, "calls.csv")
	require.NoError(t, os.WriteFile(input, []byte(callsCSV), 0o644))
	output := filepath.Join(dir, "report.json")

	out, err := execute(t, "analyze", "--preset", "repeat-calls", "--breakdown", "Device Number", "-o", output, input)
	require.NoError(t, err, out)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var res struct {
		Breakdown []struct {
			Key string `json:"key"`
			Sub string `json:"sub"`
		} `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Breakdown, 3)
	assert.Equal(t, "Dana", res.Breakdown[0].Key)
	assert.Equal(t, "D1", res.Breakdown[0].Sub)
}
