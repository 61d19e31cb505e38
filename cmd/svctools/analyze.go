package main

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logflow/svctools/pkg/engine"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/export"
	"github.com/logflow/svctools/pkg/preset"
	"github.com/logflow/svctools/pkg/report"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/storage"
	"github.com/logflow/svctools/pkg/table"
	"github.com/logflow/svctools/pkg/tui"
)

// Run flags shared by analyze, batch and watch.
var (
	presetName   string
	windowDays   int
	asOf         string
	fromDate     string
	toDate       string
	dateOrder    string
	sheetName    string
	columnMap    []string
	latestOnly   bool
	scopeMatch   bool
	breakdownCol string
	outputPath   string
	outputFormat string
	groupHeader  string
	topGroups    int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [input]",
	Short: "Classify one export and write the report",
	Long: `Classify the events of one Excel or CSV export and write an Excel (or JSON)
report next to it.

Inputs may be local paths or s3://bucket/key locations. When the preset
offers window choices (7/30/90 days for unreturned items) and no --window is
given, the window is asked for interactively.

Examples:
  svctools analyze calls.xlsx
  svctools analyze --preset rfid-duplicates reads.csv -o dupes.xlsx
  svctools analyze --preset unreturned --as-of 01/03/2025 tx.xlsx
  svctools analyze --map entity="Serial No" calls.xlsx
  svctools analyze s3://exports/calls.xlsx -o s3://reports/calls.xlsx`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	addRunFlags(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report path (default: <input>-<preset>.xlsx)")
	analyzeCmd.Flags().StringVar(&outputFormat, "format", "", "Report format (xlsx, json); default from the output extension")
	analyzeCmd.Flags().StringVar(&groupHeader, "group-header", "", "Header of the group column in the report")
	analyzeCmd.Flags().IntVar(&topGroups, "top", 10, "Groups shown in the terminal summary")
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&presetName, "preset", "p", "", "Preset (see 'svctools presets')")
	cmd.Flags().IntVarP(&windowDays, "window", "w", 0, "Window in days (default: preset window)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Reference date for unreturned items (dd/mm/yyyy, default now)")
	cmd.Flags().StringVar(&fromDate, "from", "", "Ignore events before this date (dd/mm/yyyy)")
	cmd.Flags().StringVar(&toDate, "to", "", "Ignore events after this date (dd/mm/yyyy)")
	cmd.Flags().StringVar(&dateOrder, "date-order", "", "Ambiguous date order in the data (dmy, mdy, auto)")
	cmd.Flags().StringVar(&sheetName, "sheet", "", "Worksheet to read (default: first sheet)")
	cmd.Flags().StringArrayVar(&columnMap, "map", nil, "Pin a field to a column (format: field=column)")
	cmd.Flags().BoolVar(&latestOnly, "latest-only", true, "Keep only the latest overdue dispense per item")
	cmd.Flags().BoolVar(&scopeMatch, "scope-match", false, "Require dispense and return to share the card/scope")
	cmd.Flags().StringVar(&breakdownCol, "breakdown", "", "Column that splits each group, e.g. a fault code")
}

// runOptions collects the run flags; only flags the user changed override
// the preset.
func runOptions(cmd *cobra.Command) (preset.RunOptions, error) {
	loc, err := cfg.Analysis.Location()
	if err != nil {
		return preset.RunOptions{}, svcerr.Wrap(err, svcerr.CodeInvalidParams, "invalid timezone")
	}
	opts := preset.RunOptions{
		AsOf:      asOf,
		From:      fromDate,
		To:        toDate,
		DateOrder: dateOrder,
		Location:  loc,
		Columns:   columnMap,
		Breakdown: breakdownCol,
	}
	if opts.DateOrder == "" {
		opts.DateOrder = cfg.Analysis.DateOrder
	}

	flags := cmd.Flags()
	switch {
	case flags.Changed("window"):
		opts.WindowDays = &windowDays
	case cfg.Analysis.WindowDays > 0:
		days := cfg.Analysis.WindowDays
		opts.WindowDays = &days
	}
	if flags.Changed("latest-only") {
		opts.LatestOnly = &latestOnly
	}
	if flags.Changed("scope-match") {
		opts.ScopeMatch = &scopeMatch
	}
	return opts, nil
}

// selectedPreset returns the preset from the flag or the config default.
func selectedPreset() (preset.Preset, error) {
	name := presetName
	if name == "" {
		name = cfg.Analysis.Preset
	}
	return presets.Get(name)
}

// chooseWindow asks for a window when the preset offers choices and the
// user gave none.
func chooseWindow(cmd *cobra.Command, p preset.Preset, opts *preset.RunOptions) error {
	if opts.WindowDays != nil {
		if !p.WindowAllowed(*opts.WindowDays) {
			logger.Warn("window not among the preset choices",
				zap.String("preset", p.Name), zap.Int("window_days", *opts.WindowDays), zap.Ints("choices", p.WindowChoices))
		}
		return nil
	}
	if len(p.WindowChoices) == 0 || !isTerminal() {
		return nil
	}
	days, err := tui.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()).
		Choice("Window (days)", p.WindowChoices, p.Window())
	if err != nil {
		return err
	}
	opts.WindowDays = &days
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	tui.PrintHeader(out, version)

	input := ""
	if len(args) > 0 {
		input = args[0]
	} else if isTerminal() {
		var err error
		input, err = tui.NewPrompter(cmd.InOrStdin(), out).Path("  Drag & drop an Excel or CSV file, then press Enter: ")
		if err != nil {
			return err
		}
	}
	if input == "" {
		return svcerr.InvalidParams("no input file given")
	}

	p, err := selectedPreset()
	if err != nil {
		return err
	}
	opts, err := runOptions(cmd)
	if err != nil {
		return err
	}
	if err := chooseWindow(cmd, p, &opts); err != nil {
		return err
	}
	params, err := p.Build(opts, time.Now)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	start := time.Now()
	tbl, err := loadTable(ctx, input, table.Options{Sheet: sheetName})
	if err != nil {
		return err
	}
	res, err := engine.New(engine.WithLogger(logger)).Run(ctx, tbl, params)
	if err != nil {
		return err
	}

	tui.PrintSummary(out, res, tui.SummaryOptions{GroupHeader: groupHeader, TopGroups: topGroups})

	dest := outputPath
	if dest == "" {
		dest = defaultOutput(input, "", p.Name, outputFormat)
	}
	format, err := reportFormat(dest, outputFormat)
	if err != nil {
		return err
	}
	if err := writeReport(ctx, dest, res, format, export.Options{GroupHeader: groupHeader}); err != nil {
		return err
	}
	tui.PrintWritten(out, dest, time.Since(start))
	return nil
}

// loadTable reads a local or remote table.
func loadTable(ctx context.Context, location string, opts table.Options) (*table.Table, error) {
	store, key, err := storage.Open(ctx, location, cfg.Storage.S3)
	if err != nil {
		return nil, err
	}
	r, size, err := store.Reader(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	logger.Debug("reading table", zap.String("location", location), zap.Int64("bytes", size))
	return table.Read(ctx, r, location, table.DetectFormat(key), opts)
}

// writeReport writes res to a local or remote location.
func writeReport(ctx context.Context, location string, res *report.Result, format export.Format, opts export.Options) error {
	store, key, err := storage.Open(ctx, location, cfg.Storage.S3)
	if err != nil {
		return err
	}
	w, err := store.Writer(ctx, key)
	if err != nil {
		return err
	}
	if err := export.Write(w, res, format, opts); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to write report").WithContext("path", location)
	}
	return nil
}

// reportFormat picks the format from the flag, then the destination
// extension.
func reportFormat(dest, flag string) (export.Format, error) {
	if flag != "" {
		return export.ParseFormat(flag)
	}
	_, _, key := storage.ParsePath(dest)
	return export.FormatFor(key), nil
}

// defaultOutput names the report after the input: <dir>/<name>-<suffix>.<ext>.
// An empty dir keeps the input's directory.
func defaultOutput(input, dir, suffix, format string) string {
	_, _, key := storage.ParsePath(input)
	base := path.Base(filepath.ToSlash(key))
	base = strings.TrimSuffix(base, path.Ext(base))

	ext := string(export.FormatXLSX)
	if f, err := export.ParseFormat(format); err == nil {
		ext = string(f)
	}
	name := fmt.Sprintf("%s-%s.%s", base, suffix, ext)

	if dir != "" {
		return storage.Join(dir, name)
	}
	if storage.IsRemote(input) {
		return strings.TrimSuffix(input, path.Base(key)) + name
	}
	return filepath.Join(filepath.Dir(input), name)
}

// columnOverrides validates --map values early, so typos fail before the
// file is read.
func columnOverrides() (map[resolve.Field]string, error) {
	return resolve.ParseOverrides(columnMap)
}
