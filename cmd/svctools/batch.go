package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/svctools/pkg/engine"
	"github.com/logflow/svctools/pkg/export"
	"github.com/logflow/svctools/pkg/storage"
	"github.com/logflow/svctools/pkg/table"
	"github.com/logflow/svctools/pkg/tui"
	"github.com/logflow/svctools/pkg/watch"
)

var (
	batchOutputDir  string
	parallelWorkers int
	failFast        bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [dir]",
	Short: "Classify every export in a folder",
	Long: `Run one preset over every Excel and CSV file in a folder (or S3 prefix) in
parallel and write one report per file.

Examples:
  svctools batch ./exports
  svctools batch ./exports -o ./reports --parallel 8
  svctools batch s3://exports/2025/ -o s3://reports/2025/ --preset unreturned`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	addRunFlags(batchCmd)
	batchCmd.Flags().StringVarP(&batchOutputDir, "output", "o", "", "Output directory (default: storage.output_dir)")
	batchCmd.Flags().StringVar(&outputFormat, "format", "", "Report format (xlsx, json)")
	batchCmd.Flags().StringVar(&groupHeader, "group-header", "", "Header of the group column in the report")
	batchCmd.Flags().IntVarP(&parallelWorkers, "parallel", "j", 4, "Files processed at once")
	batchCmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first failed file")
}

// BatchResult holds the outcome of one file.
type BatchResult struct {
	InputPath  string
	OutputPath string
	Matching   int
	Total      int
	Duration   time.Duration
	Error      error
}

func runBatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	dir := args[0]

	p, err := selectedPreset()
	if err != nil {
		return err
	}
	opts, err := runOptions(cmd)
	if err != nil {
		return err
	}
	params, err := p.Build(opts, time.Now)
	if err != nil {
		return err
	}
	if _, err := reportFormat("", outputFormat); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	store, key, err := storage.Open(ctx, dir, cfg.Storage.S3)
	if err != nil {
		return err
	}
	files, err := store.List(ctx, key)
	if err != nil {
		return err
	}
	var inputs []string
	for _, f := range files {
		if watch.Eligible(f.Name()) {
			inputs = append(inputs, f.Path)
		}
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no Excel or CSV files found in %s", dir)
	}

	outDir := batchOutputDir
	if outDir == "" {
		outDir = cfg.Storage.OutputDir
	}
	if parallelWorkers < 1 {
		parallelWorkers = 1
	}

	fmt.Fprintf(out, "Analyzing %d files with %d workers...\n\n", len(inputs), parallelWorkers)
	bar := tui.ShowProgress(out, len(inputs), "Analyzing")

	eng := engine.New(engine.WithLogger(logger))
	exportOpts := export.Options{GroupHeader: groupHeader}

	var (
		mu      sync.Mutex
		results = make([]BatchResult, len(inputs))
		failed  atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelWorkers)

	start := time.Now()
	for i, input := range inputs {
		i, input := i, input
		g.Go(func() error {
			res := analyzeFile(gctx, eng, input, outDir, p.Name, params, exportOpts)
			results[i] = res

			mu.Lock()
			bar.Add(1)
			mu.Unlock()

			if res.Error != nil {
				failed.Add(1)
				logger.Error("file failed", zap.String("path", input), zap.Error(res.Error))
				if failFast {
					return res.Error
				}
			}
			return nil
		})
	}
	err = g.Wait()
	bar.Finish()

	fmt.Fprintln(out)
	for _, r := range results {
		if r.Error != nil {
			tui.PrintError(out, r.InputPath, r.Error)
			continue
		}
		if r.OutputPath == "" {
			continue // not started: cancelled or fail-fast
		}
		fmt.Fprintf(out, "  %s  %d/%d\n", r.OutputPath, r.Matching, r.Total)
	}
	fmt.Fprintf(out, "\n  Files: %d  Failed: %d  Duration: %v\n",
		len(inputs), failed.Load(), time.Since(start).Round(time.Millisecond))

	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(inputs))
	}
	return nil
}

// analyzeFile runs one file and writes its report into outDir.
func analyzeFile(ctx context.Context, eng *engine.Engine, input, outDir, suffix string, params engine.Params, opts export.Options) BatchResult {
	start := time.Now()
	result := BatchResult{InputPath: input}

	if err := ctx.Err(); err != nil {
		return result
	}

	tbl, err := loadTable(ctx, input, table.Options{Sheet: sheetName})
	if err != nil {
		result.Error = err
		return result
	}
	res, err := eng.Run(ctx, tbl, params)
	if err != nil {
		result.Error = err
		return result
	}

	dest := defaultOutput(input, outDir, suffix, outputFormat)
	format, _ := reportFormat(dest, outputFormat)
	if err := writeReport(ctx, dest, res, format, opts); err != nil {
		result.Error = err
		return result
	}

	result.OutputPath = dest
	result.Matching = res.Overall.Matching
	result.Total = res.Overall.Total
	result.Duration = time.Since(start)
	return result
}
