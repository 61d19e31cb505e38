package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NumericPolicy decides what happens to a numeric cell that does not parse.
type NumericPolicy string

const (
	// PolicyZero coerces invalid values to 0.
	PolicyZero NumericPolicy = "zero"
	// PolicyAbsent leaves the field out of the event.
	PolicyAbsent NumericPolicy = "absent"
	// PolicyRequired excludes the row.
	PolicyRequired NumericPolicy = "required"
)

// NumericField names a column to coerce.
type NumericField struct {
	Column string        `yaml:"column" json:"column"`
	Policy NumericPolicy `yaml:"policy" json:"policy"`
}

// ParseNumber reads a number as spreadsheets export it: thousands separators,
// decimal commas, non-breaking spaces and a trailing percent sign are
// tolerated. NaN and infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	raw := strings.ReplaceAll(s, "\u00a0", " ")
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "%")
	raw = strings.ReplaceAll(raw, " ", "")
	if raw == "" {
		return 0, false
	}

	cpos := strings.LastIndex(raw, ",")
	dpos := strings.LastIndex(raw, ".")
	switch {
	case cpos >= 0 && dpos >= 0:
		if cpos > dpos {
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.Replace(raw, ",", ".", 1)
		} else {
			raw = strings.ReplaceAll(raw, ",", "")
		}
	case cpos >= 0:
		// "1,234" and "1,234,567" group thousands; "12,5" is a decimal comma.
		if strings.Count(raw, ",") > 1 || len(raw)-cpos-1 == 3 {
			raw = strings.ReplaceAll(raw, ",", "")
		} else {
			raw = strings.Replace(raw, ",", ".", 1)
		}
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var floatSuffix = regexp.MustCompile(`^(\d+)\.0+$`)

// CleanKey trims an identifier and drops the ".0" a numeric cell picks up when
// a spreadsheet stores it as a float ("12345.0" -> "12345").
func CleanKey(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	if m := floatSuffix.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
