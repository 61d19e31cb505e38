package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/export"
	"github.com/logflow/svctools/pkg/mismatch"
	"github.com/logflow/svctools/pkg/resolve"
	"github.com/logflow/svctools/pkg/storage"
	"github.com/logflow/svctools/pkg/table"
	"github.com/logflow/svctools/pkg/tui"
)

var presetsJSON bool

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List available presets",
	RunE:  runPresets,
}

var columnsCmd = &cobra.Command{
	Use:   "columns [input]",
	Short: "Show how a preset resolves against an export's columns",
	Long: `Read the header of an export and show which column each preset field
resolves to, and by which pass (override, exact, normalized, keyword).

Examples:
  svctools columns calls.xlsx
  svctools columns --preset unreturned --map scope="Card No" tx.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: runColumns,
}

var (
	mismatchEntity     string
	mismatchAttributes []string
	mismatchLimit      int
)

var mismatchCmd = &cobra.Command{
	Use:   "mismatch [input]",
	Short: "Find entities whose rows disagree on attributes",
	Long: `Group rows by entity (RFID by default) and report entities with more than
one distinct value in any attribute column.

Examples:
  svctools mismatch items.xlsx
  svctools mismatch --entity "RFID Tag" --attr "Item Type Name" --attr "Size" items.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: runMismatch,
}

func init() {
	presetsCmd.Flags().BoolVar(&presetsJSON, "json", false, "Print presets as JSON")

	columnsCmd.Flags().StringVarP(&presetName, "preset", "p", "", "Preset (see 'svctools presets')")
	columnsCmd.Flags().StringVar(&sheetName, "sheet", "", "Worksheet to read (default: first sheet)")
	columnsCmd.Flags().StringArrayVar(&columnMap, "map", nil, "Pin a field to a column (format: field=column)")

	mismatchCmd.Flags().StringVar(&mismatchEntity, "entity", "", "Entity column (default: RFID)")
	mismatchCmd.Flags().StringArrayVar(&mismatchAttributes, "attr", nil, "Attribute column that must agree (repeatable)")
	mismatchCmd.Flags().IntVar(&mismatchLimit, "limit", 20, "Entities shown in the terminal")
	mismatchCmd.Flags().StringVar(&sheetName, "sheet", "", "Worksheet to read (default: first sheet)")
	mismatchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report path (default: <input>-mismatch.xlsx)")
	mismatchCmd.Flags().StringVar(&outputFormat, "format", "", "Report format (xlsx, json)")
}

func runPresets(cmd *cobra.Command, args []string) error {
	list := presets.List()
	if presetsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	tui.PrintPresets(cmd.OutOrStdout(), list)
	return nil
}

func runColumns(cmd *cobra.Command, args []string) error {
	p, err := selectedPreset()
	if err != nil {
		return err
	}
	overrides, err := columnOverrides()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	tbl, err := loadTable(ctx, args[0], table.Options{Sheet: sheetName})
	if err != nil {
		return err
	}

	res, resErr := resolve.Resolve(tbl.Columns, p.Fields, overrides)
	tui.PrintColumns(cmd.OutOrStdout(), tbl.Columns, res)
	return resErr
}

func runMismatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	input := args[0]

	params := mismatch.DefaultParams()
	if mismatchEntity != "" {
		params.Entity.Candidates = []string{mismatchEntity}
		params.Entity.Keywords = nil
	}
	if len(mismatchAttributes) > 0 {
		params.Attributes = mismatchAttributes
	}

	dest := outputPath
	if dest == "" {
		dest = defaultOutput(input, "", "mismatch", outputFormat)
	}
	format, err := reportFormat(dest, outputFormat)
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
	res, err := mismatch.Analyze(ctx, tbl, params)
	if err != nil {
		return err
	}
	tui.PrintMismatch(out, res, mismatchLimit)

	store, key, err := storage.Open(ctx, dest, cfg.Storage.S3)
	if err != nil {
		return err
	}
	w, err := store.Writer(ctx, key)
	if err != nil {
		return err
	}
	if format == export.FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(res)
	} else {
		err = export.WriteMismatchXLSX(w, res, tbl, export.Options{})
	}
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to write report").WithContext("path", dest)
	}
	tui.PrintWritten(out, dest, time.Since(start))
	return nil
}
