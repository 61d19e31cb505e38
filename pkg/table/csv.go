package table

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV reads a delimited export. The delimiter is detected from the first
// lines unless opts.Delimiter is set; a UTF-8 BOM is dropped.
func ReadCSV(ctx context.Context, r io.Reader, name string, opts Options) (*Table, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	sample, _ := br.Peek(32 * 1024)

	delim := opts.Delimiter
	if delim == 0 {
		delim = rune(detectDelimiter(sample))
	}
	if bytes.HasPrefix(sample, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var header []string
	var data [][]string
	for {
		select {
		case <-ctx.Done():
			return nil, svcerr.ContextCanceled("read csv", ctx.Err())
		default:
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, svcerr.Wrap(err, svcerr.CodeParseFailed, "failed to read csv").
				WithContext("name", name)
		}
		if isBlankRow(rec) {
			continue
		}
		if header == nil {
			header = rec
			continue
		}
		data = append(data, rec)
	}

	if header == nil {
		return nil, svcerr.New(svcerr.CodeEmptyInput, "csv file is empty").WithContext("name", name)
	}
	return New(name, header, data), nil
}

// detectDelimiter picks the candidate with the most consistent per-line count.
func detectDelimiter(sample []byte) byte {
	candidates := []byte{',', '\t', ';', '|'}
	bestDelim := byte(',')
	bestScore := math.MaxFloat64

	for _, delim := range candidates {
		counts := countDelimiterPerLine(sample, delim)
		if len(counts) == 0 {
			continue
		}

		avg := mean(counts)
		if avg < 1 {
			continue
		}

		score := variance(counts, avg) / avg
		if score < bestScore {
			bestScore = score
			bestDelim = delim
		}
	}

	return bestDelim
}

func countDelimiterPerLine(sample []byte, delim byte) []int {
	var counts []int
	inQuote := false
	count, width := 0, 0

	for _, b := range sample {
		if b == '"' {
			inQuote = !inQuote
			width++
			continue
		}
		if inQuote {
			continue
		}
		switch b {
		case delim:
			count++
		case '\n':
			if width > 0 {
				counts = append(counts, count)
			}
			count, width = 0, 0
			continue
		case '\r':
			continue
		}
		width++
	}
	if width > 0 {
		counts = append(counts, count)
	}
	return counts
}

func mean(v []int) float64 {
	sum := 0
	for _, x := range v {
		sum += x
	}
	return float64(sum) / float64(len(v))
}

func variance(v []int, avg float64) float64 {
	var sum float64
	for _, x := range v {
		d := float64(x) - avg
		sum += d * d
	}
	return sum / float64(len(v))
}
