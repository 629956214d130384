package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/landscaper/internal/model"
)

// dateLayouts are tried in order; the first that parses wins.
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"01/02/06",
	"1-2-2006",
	"01-02-06",
	"1-2-06",
	"2-Jan-2006",
	"2-Jan-06",
	"02-Jan-06",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan-06",
	"Jan 2006",
	"January 2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// Excel stores dates as days since 1899-12-30. Serials in this range cover
// 1954 through 2119, which excludes most rents and unit numbers.
const (
	minExcelSerial = 20000
	maxExcelSerial = 80000
)

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// blankTokens are placeholders that mean "no value" in source documents.
var blankTokens = map[string]bool{
	"-": true, "--": true, "—": true, "–": true, "n/a": true, "na": true,
	"#n/a": true, "null": true, "none": true, "tbd": true, "?": true,
}

var unitSuffix = regexp.MustCompile(`(?i)\s*(sf|sq\.?\s*ft\.?|ac|acres?|du|units?|/mo|/yr|per\s+month)\.?$`)

// IsBlank reports whether a cell carries no value.
func IsBlank(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || blankTokens[strings.ToLower(s)]
}

// ParseValue converts a cell to the Go value stored for a field type:
// string for text, float64 for numeric types, and an ISO date string for
// dates. ok is false for blank or unparseable cells.
func ParseValue(s string, ft model.FieldType) (any, bool) {
	s = strings.TrimSpace(s)
	if IsBlank(s) {
		return nil, false
	}
	switch ft {
	case model.FieldNumber, model.FieldCurrency, model.FieldArea, model.FieldPercent:
		f, ok := ParseNumber(s)
		if !ok {
			return nil, false
		}
		return f, true
	case model.FieldDate:
		d, ok := ParseDate(s)
		if !ok {
			return nil, false
		}
		return d.Format("2006-01-02"), true
	default:
		return s, true
	}
}

// ParseNumber reads numbers written as "$1,200.50", "(350)", "12.5%",
// "1,050 SF" or "-4". Parentheses denote negatives.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = unitSuffix.ReplaceAllString(s, "")
	s = strings.NewReplacer("$", "", ",", "", " ", "", "%", "", "\u00a0", "").Replace(s)
	if strings.HasPrefix(s, "-") && len(s) > 1 {
		neg = !neg
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}

// ParseDate reads the common layouts found in rent rolls plus Excel serial
// numbers.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= minExcelSerial && f <= maxExcelSerial {
		return excelEpoch.AddDate(0, 0, int(f)), true
	}
	return time.Time{}, false
}

// excelSerial returns the serial number Excel uses for t.
func excelSerial(t time.Time) int {
	return int(t.Sub(excelEpoch).Hours() / 24)
}
