// =============================================================================
// Reinf Transmitter - Value Normalizer
// =============================================================================
//
// Converts raw cell values into the textual encodings required by the
// regulator schema:
//
//   | Function     | Output                         | On bad input          |
//   |--------------|--------------------------------|-----------------------|
//   | ToDigits     | "12345678000199"               | ""                    |
//   | ToMoney      | "1234,50" (always 2 decimals)  | "0,00"                |
//   | ToNatureCode | "15001" (left padded to 5)     | "" (drop the row)     |
//   | ToPeriod     | "2025-01"                      | input unchanged       |
//   | ToDate       | "2025-01-15"                   | *DateFormatError      |
//
// Monetary values are handled as decimals end to end so that sums never pick
// up binary floating point error and never render in exponent notation.
//
// =============================================================================

package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

// NatureCodeLength is the width of an income-nature code.
const NatureCodeLength = 5

var (
	periodPattern = regexp.MustCompile(`(\d{4})[-/]?(\d{2})`)
	datePattern   = regexp.MustCompile(`(\d{4})[-/]?(\d{2})[-/]?(\d{2})`)
)

// DateFormatError reports a value that could not be read as a date.
type DateFormatError struct {
	Raw string
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("cannot interpret %q as a date (expected YYYY-MM-DD)", e.Raw)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ToDigits strips every non-digit character.
func ToDigits(v types.Value) string {
	return digitsOnly(v.String())
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToNatureCode strips non-digits and left pads with zeros to five characters.
// An empty result signals that the row must be dropped.
func ToNatureCode(v types.Value) string {
	digits := ToDigits(v)
	if digits == "" {
		return ""
	}
	if len(digits) < NatureCodeLength {
		digits = strings.Repeat("0", NatureCodeLength-len(digits)) + digits
	}
	return digits
}

// =============================================================================
// MONEY
// =============================================================================

// ParseAmount reads v as a decimal number. Text may use either "." or "," as
// the decimal separator; other punctuation is ignored. Absent or unparseable
// values yield zero.
func ParseAmount(v types.Value) decimal.Decimal {
	switch v.Kind() {
	case types.KindNumber:
		f, _ := v.AsNumber()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(f)
	case types.KindText:
		s, _ := v.AsText()
		d, ok := parseDecimalText(s)
		if !ok {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// FormatMoney renders d with exactly two decimals and a comma separator.
func FormatMoney(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

// ToMoney is FormatMoney(ParseAmount(v)).
func ToMoney(v types.Value) string {
	return FormatMoney(ParseAmount(v))
}

// parseDecimalText accepts "1234.5", "1234,5", "1.234,56", "1,234.56",
// "R$ 1.234.567" and similar. When both separators appear, the last one is
// the decimal separator. A single separator kind appearing more than once is a
// thousands separator.
func parseDecimalText(s string) (decimal.Decimal, bool) {
	var b strings.Builder
	negative := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			negative = true
		}
	}
	cleaned := b.String()
	if strings.Trim(cleaned, ".,") == "" {
		return decimal.Zero, false
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")

	sep := -1
	switch {
	case lastDot >= 0 && lastComma >= 0:
		sep = max(lastDot, lastComma)
	case lastDot >= 0:
		if strings.Count(cleaned, ".") == 1 {
			sep = lastDot
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") == 1 {
			sep = lastComma
		}
	}

	intPart, fracPart := cleaned, ""
	if sep >= 0 {
		intPart, fracPart = cleaned[:sep], cleaned[sep+1:]
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}

	number := intPart
	if fracPart != "" {
		number += "." + fracPart
	}
	if negative {
		number = "-" + number
	}

	d, err := decimal.NewFromString(number)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// =============================================================================
// DATES
// =============================================================================

// ToPeriod formats v as YYYY-MM. Text is scanned for the first year and month
// pair; values that do not match are returned unchanged.
func ToPeriod(v types.Value) string {
	if t, ok := v.AsDate(); ok {
		return t.Format("2006-01")
	}
	if s, ok := v.AsText(); ok {
		if m := periodPattern.FindStringSubmatch(s); m != nil {
			return m[1] + "-" + m[2]
		}
		return s
	}
	return v.String()
}

// ToDate formats v as YYYY-MM-DD. A value without a recognizable date fails
// with *DateFormatError, because aggregation keys on exact date equality.
func ToDate(v types.Value) (string, error) {
	if t, ok := v.AsDate(); ok {
		return t.Format("2006-01-02"), nil
	}

	raw := v.String()
	if m := datePattern.FindStringSubmatch(raw); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3], nil
	}
	return "", &DateFormatError{Raw: raw}
}
