// svctools - Repeated-event detection for service-operations exports.
// Flags repeat service calls, duplicate RFID reads and unreturned items in
// Excel/CSV exports and writes an Excel report.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logflow/svctools/internal/logging"
	"github.com/logflow/svctools/pkg/config"
	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/preset"
	"github.com/logflow/svctools/pkg/telemetry"
	"github.com/logflow/svctools/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Shared state set up by the root command.
var (
	cfg      *config.Config
	logger   = zap.NewNop()
	presets  *preset.Registry
	shutdown func(context.Context) error
)

func main() {
	err := rootCmd.Execute()
	if shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		shutdown(ctx)
		cancel()
	}
	logger.Sync()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError reports a failed command. At debug level it adds the stack
// recorded where the error was raised.
func printError(w io.Writer, err error) {
	tui.PrintError(w, "svctools", err)
	if !logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	var se *svcerr.SvcError
	if errors.As(err, &se) && len(se.StackTrace) > 0 {
		fmt.Fprint(w, se.FormatStack())
	}
}

var rootCmd = &cobra.Command{
	Use:   "svctools",
	Short: "svctools - Find repeated events in service exports",
	Long: `svctools reads Excel or CSV exports of service calls and RFID transactions
and flags repeated events within a time window: repeat calls on a device,
duplicate RFID reads and items dispensed with no matching return.

Examples:
  svctools analyze calls.xlsx
  svctools analyze --preset unreturned --window 90 transactions.xlsx
  svctools batch ./exports -o ./reports
  svctools watch ./inbox
  svctools serve --port 8080`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (overrides the search path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(columnsCmd)
	rootCmd.AddCommand(mismatchCmd)
}

// setup loads configuration, builds the logger, registers custom presets
// and starts tracing when enabled.
func setup(cmd *cobra.Command, args []string) error {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithPaths(configFile))
	}
	mgr := config.NewManager(opts...)
	if err := mgr.Load(); err != nil {
		return err
	}
	cfg = mgr.Get()

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	logger = logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	if paths := mgr.GetPaths(); len(paths) > 0 {
		logger.Debug("config loaded", zap.Strings("paths", paths))
	}

	presets = preset.Default()
	for _, path := range cfg.Presets.Files {
		if err := presets.LoadFile(path); err != nil {
			return err
		}
		logger.Debug("presets loaded", zap.String("path", path))
	}

	if cfg.Telemetry.Enabled {
		otlp := cfg.Telemetry.OTLP
		otlp.ServiceVersion = version
		fn, err := telemetry.NewExporter(otlp).Init(cmd.Context())
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			shutdown = fn
		}
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// isTerminal reports whether stdin and stdout are attached to a terminal.
func isTerminal() bool {
	for _, f := range []*os.File{os.Stdin, os.Stdout} {
		info, err := f.Stat()
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			return false
		}
	}
	return true
}
