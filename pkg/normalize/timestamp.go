package normalize

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// DateOrder selects how ambiguous slash/dot/dash dates are read.
type DateOrder string

const (
	DayFirst   DateOrder = "dmy"
	MonthFirst DateOrder = "mdy"
	AutoOrder  DateOrder = "auto"
)

// ParseDateOrder accepts dmy/mdy/auto and a few spellings of them.
func ParseDateOrder(s string) (DateOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dmy", "day-first", "dayfirst":
		return DayFirst, nil
	case "mdy", "month-first", "monthfirst":
		return MonthFirst, nil
	case "auto":
		return AutoOrder, nil
	}
	return "", errors.New("date order must be dmy, mdy or auto")
}

// ErrInvalidTimestamp indicates a value no layout accepted.
var ErrInvalidTimestamp = errors.New("invalid timestamp format")

// isoLayouts are tried before the order-dependent layouts.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"20060102",
}

var dayFirstLayouts = expandLayouts("2", "1")
var monthFirstLayouts = expandLayouts("1", "2")

// expandLayouts builds the slash, dot and dash variants of a date order, with
// and without a time of day and with 2- or 4-digit years.
func expandLayouts(first, second string) []string {
	var out []string
	for _, sep := range []string{"/", ".", "-"} {
		for _, year := range []string{"2006", "06"} {
			date := first + sep + second + sep + year
			out = append(out,
				date+" 15:04:05",
				date+" 15:04",
				date+" 3:04:05 PM",
				date+" 3:04 PM",
				date,
			)
		}
	}
	return out
}

// excel serial day 1 is 1900-01-01; the 1900 leap-year bug is absorbed by
// counting from 1899-12-30.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxExcelSerial is 9999-12-31.
const maxExcelSerial = 2958465

// TimeParser parses timestamp cells. Zero value is not usable; use NewTimeParser.
type TimeParser struct {
	order DateOrder
	loc   *time.Location
}

// NewTimeParser creates a parser. AutoOrder must be resolved with a
// DateAmbiguityDetector first; it falls back to day-first here.
func NewTimeParser(order DateOrder, loc *time.Location) *TimeParser {
	if order != MonthFirst {
		order = DayFirst
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TimeParser{order: order, loc: loc}
}

// Order returns the effective date order.
func (p *TimeParser) Order() DateOrder {
	return p.order
}

// Parse reads ISO-8601 variants, order-dependent d/m/y layouts and Excel
// serial numbers. Values without a zone are placed in the parser's location.
func (p *TimeParser) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}

	if isNumeric(s) {
		if t, ok := parseExcelSerial(s); ok {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, p.loc), nil
		}
	}

	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, ErrInvalidTimestamp
	}

	layouts := dayFirstLayouts
	if p.order == MonthFirst {
		layouts = monthFirstLayouts
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, nil
		}
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// parseExcelSerial converts fractional days since the Excel epoch. Serials
// carry no zone; the result is a UTC wall clock.
func parseExcelSerial(s string) (time.Time, bool) {
	val, err := strconv.ParseFloat(s, 64)
	if err != nil || val < 1 || val > maxExcelSerial {
		return time.Time{}, false
	}

	days := int64(val)
	fraction := val - float64(days)
	t := excelEpoch.AddDate(0, 0, int(days))
	if fraction > 0 {
		// round to the second; serials carry float noise
		secs := int64(fraction*86400 + 0.5)
		t = t.Add(time.Duration(secs) * time.Second)
	}
	return t, true
}

// isNumeric checks whether s is an unsigned decimal number.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	dots := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '.' && dots == 0 {
			dots++
			continue
		}
		return false
	}
	return true
}

// DateAmbiguityDetector helps resolve DD/MM vs MM/DD ambiguity from samples.
type DateAmbiguityDetector struct {
	samples    []string
	maxSamples int
}

// NewDateAmbiguityDetector creates a detector with the specified sample size.
func NewDateAmbiguityDetector(maxSamples int) *DateAmbiguityDetector {
	return &DateAmbiguityDetector{
		samples:    make([]string, 0, maxSamples),
		maxSamples: maxSamples,
	}
}

// AddSample adds a timestamp sample for analysis. Returns false once full.
func (d *DateAmbiguityDetector) AddSample(ts string) bool {
	if len(d.samples) >= d.maxSamples {
		return false
	}
	d.samples = append(d.samples, strings.TrimSpace(ts))
	return true
}

// DetectOrder returns DayFirst when some sample has a first component above
// 12, MonthFirst when some sample has a second component above 12, and
// fallback when the samples do not tell them apart.
func (d *DateAmbiguityDetector) DetectOrder(fallback DateOrder) DateOrder {
	dayFirst := 0
	monthFirst := 0

	for _, sample := range d.samples {
		parts := splitDateParts(sample)
		if len(parts) < 3 || len(parts[0]) > 2 {
			continue
		}

		first, err1 := strconv.Atoi(parts[0])
		second, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}

		if first > 12 {
			dayFirst++
		}
		if second > 12 {
			monthFirst++
		}
	}

	if dayFirst > monthFirst {
		return DayFirst
	}
	if monthFirst > dayFirst {
		return MonthFirst
	}
	if fallback == MonthFirst {
		return MonthFirst
	}
	return DayFirst
}

// splitDateParts splits the date portion by common separators.
func splitDateParts(s string) []string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
}
