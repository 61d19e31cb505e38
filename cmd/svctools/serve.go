package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logflow/svctools/pkg/config"
	"github.com/logflow/svctools/pkg/server"
)

var (
	servePort    int
	serveHost    string
	serveRunsLog string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP upload service",
	Long: `Start an HTTP server that accepts exports and returns reports.

Endpoints:
  GET  /healthz               liveness
  GET  /metrics               Prometheus metrics
  GET  /api/presets[/{name}]  available presets
  POST /api/analyze           multipart "file" (+ preset, window, as_of, map, format)
  POST /api/columns           how a preset resolves against an upload
  POST /api/mismatch          attribute mismatch report
  GET  /api/runs[/{id}]       recent runs

Examples:
  svctools serve                    # Start on the configured port (8080)
  svctools serve --port 3000
  svctools serve --host 0.0.0.0     # Listen on all interfaces
  curl -F file=@calls.xlsx -F preset=repeat-calls localhost:8080/api/analyze -o report.xlsx`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default: server.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&serveRunsLog, "runs-file", "", "File persisting run history (default: <output_dir>/runs.json)")
}

func runServe(cmd *cobra.Command, args []string) error {
	sc := cfg.Server
	if servePort != 0 {
		sc.Port = servePort
	}
	if serveHost != "" {
		sc.Host = serveHost
	}
	maxUpload, err := config.ParseSize(sc.MaxUploadSize)
	if err != nil {
		return err
	}
	loc, err := cfg.Analysis.Location()
	if err != nil {
		return err
	}

	runsFile := serveRunsLog
	if runsFile == "" {
		runsFile = filepath.Join(cfg.Storage.OutputDir, "runs.json")
	}
	runs, err := server.NewRunStore(runsFile, 0)
	if err != nil {
		return err
	}
	if n, err := runs.Cleanup(30 * 24 * time.Hour); err != nil {
		logger.Warn("failed to clean run history", zap.Error(err))
	} else if n > 0 {
		logger.Info("old runs removed", zap.Int("count", n))
	}

	srv, err := server.NewServer(server.Options{
		MaxUploadSize: maxUpload,
		RunTimeout:    sc.RunTimeout,
		CORSOrigins:   sc.CORSOrigins,
		DefaultPreset: cfg.Analysis.Preset,
		DateOrder:     cfg.Analysis.DateOrder,
		Location:      loc,
		Presets:       presets,
		Runs:          runs,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	url := fmt.Sprintf("http://%s", sc.Addr())
	if sc.Host == "0.0.0.0" || sc.Host == "" {
		url = fmt.Sprintf("http://localhost:%d", sc.Port)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ╭─────────────────────────────────────╮")
	fmt.Fprintln(out, "  │         SVCTOOLS SERVER             │")
	fmt.Fprintln(out, "  ├─────────────────────────────────────┤")
	fmt.Fprintf(out, "  │  Local:   %-25s │\n", url)
	fmt.Fprintln(out, "  │                                     │")
	fmt.Fprintln(out, "  │  Press Ctrl+C to stop               │")
	fmt.Fprintln(out, "  ╰─────────────────────────────────────╯")
	fmt.Fprintln(out)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	return srv.ListenAndServe(ctx, sc.Addr())
}
