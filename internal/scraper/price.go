package scraper

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice normalizes a scraped price string and parses it as a fixed-point
// decimal. It strips currency symbols, whitespace and thousands separators,
// and converts a decimal comma to a decimal point. Sites in scope use either
// "1.234.567" / "1.234,56" (comma decimal) or "1,234,567.89" (dot decimal).
func ParsePrice(raw string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1 // drop currency symbols, spaces, NBSP, letters
		}
	}, raw)

	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("no digits in price %q", raw)
	}

	lastDot := strings.LastIndexByte(cleaned, '.')
	lastComma := strings.LastIndexByte(cleaned, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the rightmost is the decimal separator.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-lastComma-1 <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastDot >= 0:
		// A lone dot followed by exactly three digits is a thousands
		// separator in CLP listings ("$1.990"), as are repeated dots.
		if strings.Count(cleaned, ".") > 1 || len(cleaned)-lastDot-1 == 3 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable price %q: %w", raw, err)
	}
	return d.Round(2), nil
}
