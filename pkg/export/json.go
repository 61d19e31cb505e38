package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/report"
)

// Format is an output format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat parses a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "xlsx", "excel":
		return FormatXLSX, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", svcerr.InvalidParams(fmt.Sprintf("unsupported output format: %s", s))
	}
}

// FormatFor picks the format from an output path extension.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatXLSX
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// WriteJSON writes the result as indented JSON.
func WriteJSON(out io.Writer, res *report.Result) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to encode report")
	}
	return nil
}

// Write writes the result in the given format.
func Write(out io.Writer, res *report.Result, format Format, opts Options) error {
	if format == FormatJSON {
		return WriteJSON(out, res)
	}
	return WriteXLSX(out, res, opts)
}

// WriteFile writes the result to path, creating parent directories. The
// format follows the extension.
func WriteFile(path string, res *report.Result, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return svcerr.Wrap(err, svcerr.CodeFilePermission, "failed to create output directory").
			WithContext("path", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return svcerr.Wrap(err, svcerr.CodeFilePermission, "failed to create output file").
			WithContext("path", path)
	}
	if err := Write(f, res, FormatFor(path), opts); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
