package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/svctools/pkg/engine"
	"github.com/logflow/svctools/pkg/export"
	"github.com/logflow/svctools/pkg/tui"
	"github.com/logflow/svctools/pkg/watch"
)

var (
	watchOutputDir string
	watchDebounce  time.Duration
	watchExisting  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Analyze every export dropped into a folder",
	Long: `Watch a folder and analyze each Excel or CSV file once it stops changing.
Reports go to a "reports" subfolder unless --output is given.

Examples:
  svctools watch ./inbox
  svctools watch ./inbox --preset unreturned --window 30 -o ./reports`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	addRunFlags(watchCmd)
	watchCmd.Flags().StringVarP(&watchOutputDir, "output", "o", "", "Output directory (default: <dir>/reports)")
	watchCmd.Flags().StringVar(&outputFormat, "format", "", "Report format (xlsx, json)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Quiet time before a file is handled (default: watch.debounce)")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also analyze files already in the folder")
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	dir := cfg.Watch.Dir
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		return fmt.Errorf("no folder to watch: pass one or set watch.dir")
	}

	p, err := selectedPreset()
	if err != nil {
		return err
	}
	opts, err := runOptions(cmd)
	if err != nil {
		return err
	}
	// Validates the flags once; each file gets a fresh "now".
	if _, err := p.Build(opts, time.Now); err != nil {
		return err
	}
	if _, err := reportFormat("", outputFormat); err != nil {
		return err
	}

	outDir := watchOutputDir
	if outDir == "" {
		outDir = cfg.Watch.OutputDir
	}
	if outDir == "" {
		outDir = filepath.Join(dir, "reports")
	}
	debounce := watchDebounce
	if debounce == 0 {
		debounce = cfg.Watch.Debounce
	}

	eng := engine.New(engine.WithLogger(logger))
	handle := func(ctx context.Context, path string) error {
		params, err := p.Build(opts, time.Now)
		if err != nil {
			return err
		}
		res := analyzeFile(ctx, eng, path, outDir, p.Name, params, export.Options{})
		if res.Error != nil {
			return res.Error
		}
		fmt.Fprintf(out, "  %s → %s  %d/%d\n", filepath.Base(path), res.OutputPath, res.Matching, res.Total)
		return nil
	}

	w, err := watch.NewWatcher(dir, handle, watch.WithDebounce(debounce), watch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()
	w.OnError = func(path string, err error) {
		tui.PrintError(out, filepath.Base(path), err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if watchExisting {
		if err := w.Scan(ctx); err != nil {
			return err
		}
	}

	tui.PrintHeader(out, version)
	fmt.Fprintf(out, "  Watching %s (preset %s), reports in %s\n  Press Ctrl+C to stop\n\n", w.Dir(), p.Name, outDir)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
