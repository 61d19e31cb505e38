package table

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

// Options controls how a table is read.
type Options struct {
	// Sheet selects the worksheet. Empty means the first sheet; a name that
	// does not exist is an error.
	Sheet string

	// Formatted returns cells as Excel displays them instead of raw values.
	// Raw values keep dates as serial numbers, which avoids locale-dependent
	// display formats such as m/d/yy.
	Formatted bool

	// Delimiter overrides CSV delimiter detection.
	Delimiter rune
}

// Read loads a table in the given format.
func Read(ctx context.Context, r io.Reader, name string, format Format, opts Options) (*Table, error) {
	switch format {
	case FormatXLSX:
		return ReadXLSX(ctx, r, name, opts)
	case FormatCSV:
		return ReadCSV(ctx, r, name, opts)
	default:
		return nil, svcerr.New(svcerr.CodeInvalidFormat, "unsupported input format").
			WithContext("name", name)
	}
}

// ReadXLSX reads one worksheet. The first non-empty row is the header.
func ReadXLSX(ctx context.Context, r io.Reader, name string, opts Options) (*Table, error) {
	xlFile, err := excelize.OpenReader(r, excelize.Options{RawCellValue: !opts.Formatted})
	if err != nil {
		return nil, svcerr.Wrap(err, svcerr.CodeInvalidFormat, "failed to open xlsx").
			WithContext("name", name)
	}
	defer xlFile.Close()

	sheetName := opts.Sheet
	if sheetName == "" {
		sheetList := xlFile.GetSheetList()
		if len(sheetList) == 0 {
			return nil, svcerr.New(svcerr.CodeEmptyInput, "no sheets found in xlsx file").
				WithContext("name", name)
		}
		sheetName = sheetList[0]
	} else if idx, _ := xlFile.GetSheetIndex(sheetName); idx < 0 {
		return nil, svcerr.New(svcerr.CodeInvalidFormat, "sheet not found").
			WithContext("name", name).
			WithContext("sheet", sheetName).
			WithContext("available", xlFile.GetSheetList())
	}

	rows, err := xlFile.Rows(sheetName)
	if err != nil {
		return nil, svcerr.Wrapf(err, svcerr.CodeParseFailed, "failed to read sheet %q", sheetName)
	}
	defer rows.Close()

	var header []string
	var data [][]string
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, svcerr.ContextCanceled("read xlsx", ctx.Err())
		default:
		}

		cols, err := rows.Columns(excelize.Options{RawCellValue: !opts.Formatted})
		if err != nil {
			return nil, svcerr.Wrapf(err, svcerr.CodeParseFailed, "failed to read row in sheet %q", sheetName)
		}
		if isBlankRow(cols) {
			continue
		}
		if header == nil {
			header = cols
			continue
		}
		data = append(data, cols)
	}
	if err := rows.Error(); err != nil {
		return nil, svcerr.Wrapf(err, svcerr.CodeParseFailed, "failed to iterate sheet %q", sheetName)
	}

	if header == nil {
		return nil, svcerr.New(svcerr.CodeEmptyInput, "xlsx sheet is empty").
			WithContext("name", name).
			WithContext("sheet", sheetName)
	}

	return New(fmt.Sprintf("%s/%s", name, sheetName), header, data), nil
}

// Sheets lists the worksheet names of an XLSX document.
func Sheets(r io.Reader) ([]string, error) {
	xlFile, err := excelize.OpenReader(r)
	if err != nil {
		return nil, svcerr.Wrap(err, svcerr.CodeInvalidFormat, "failed to open xlsx")
	}
	defer xlFile.Close()
	return xlFile.GetSheetList(), nil
}
