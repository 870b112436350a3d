package helpers

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// FormatPrice renders a dollar amount with precision scaled to its
// magnitude, so sub-cent assets keep their significant digits.
func FormatPrice(price decimal.Decimal) string {
	if price.IsZero() {
		return "$0.00"
	}

	decimals := 4
	abs := price.Abs()
	if abs.LessThan(decimal.NewFromFloat(0.0001)) {
		decimals = 10
	} else if abs.LessThan(decimal.NewFromFloat(0.01)) {
		decimals = 8
	}

	f, _ := price.Float64()
	p := message.NewPrinter(language.English)
	formatted := p.Sprintf("%.*f", decimals, f)

	if decimals > 4 {
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimRight(formatted, ".")
	}
	return "$" + formatted
}

// FormatQuantity renders a quantity without trailing zeros.
func FormatQuantity(qty decimal.Decimal) string {
	s := qty.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// FormatSignedPercent renders a percentage with an explicit sign, as
// reports show gains and losses.
func FormatSignedPercent(pct decimal.Decimal) string {
	s := pct.StringFixed(2) + "%"
	if !pct.IsNegative() {
		s = "+" + s
	}
	return s
}

// FormatPercent renders an unsigned percentage magnitude.
func FormatPercent(pct decimal.Decimal) string {
	return pct.StringFixed(2) + "%"
}

// FormatRelativeTime renders a timestamp as a human relative phrase
// ("3 minutes ago").
func FormatRelativeTime(t time.Time) string {
	return humanize.Time(t)
}

// Capitalize upper-cases the first letter of an ASCII word, for
// market names in reports.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
