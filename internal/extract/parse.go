package extract

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// DateLayouts are the accepted date-time renderings, tried in order.
var DateLayouts = []string{
	"02/01/2006 15:04:05",
	"02.01.2006 15:04:05",
}

var currencyTokens = []string{"₺", "TRY", "TL", "$", "€", "USD", "EUR"}

// ParseAmount turns displayed money text into an unsigned decimal.
//
// Currency symbols and whitespace are stripped. When both '.' and ',' occur,
// '.' is a thousands separator and ',' the decimal point. A lone ',' followed
// by one or two digits is a decimal comma; any other commas are grouping.
// A lone '.' is a decimal point; several dots are grouping.
// Anything that still fails to parse yields zero.
func ParseAmount(text string) decimal.Decimal {
	clean := text
	for _, tok := range currencyTokens {
		clean = strings.ReplaceAll(clean, tok, "")
	}
	clean = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, clean)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "-"), "+")
	if clean == "" {
		return decimal.Zero
	}

	dots := strings.Count(clean, ".")
	commas := strings.Count(clean, ",")
	switch {
	case dots > 0 && commas > 0:
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.ReplaceAll(clean, ",", ".")
	case commas == 1 && len(clean)-strings.Index(clean, ",")-1 <= 2:
		clean = strings.ReplaceAll(clean, ",", ".")
	case commas > 0:
		clean = strings.ReplaceAll(clean, ",", "")
	case dots > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero
	}
	return d.Abs()
}

// ParseDateTime parses text with DateLayouts in loc. Unparsable text yields
// the zero time, which callers treat as "unknown".
func ParseDateTime(text string, loc *time.Location) time.Time {
	text = strings.TrimSpace(text)
	if text == "" || text == "-" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range DateLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseOptionalTime is ParseDateTime for optional timestamps: nil when unknown.
func parseOptionalTime(text string, loc *time.Location) *time.Time {
	t := ParseDateTime(text, loc)
	if t.IsZero() {
		return nil
	}
	return &t
}
