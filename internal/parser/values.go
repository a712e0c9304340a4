package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	stockPattern   = regexp.MustCompile(`\d+`)
	pricePattern   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	nonIDRunes     = regexp.MustCompile(`[^A-Za-z0-9-]+`)
	repeatedDashes = regexp.MustCompile(`-{2,}`)
)

// ParsePrice strips thousands separators and currency text. Missing or
// unparsable prices yield zero.
func ParsePrice(text string) decimal.Decimal {
	text = strings.ReplaceAll(text, ",", "")
	text = strings.ReplaceAll(text, " ", "")

	match := pricePattern.FindString(text)
	if match == "" {
		return decimal.Zero
	}

	price, err := decimal.NewFromString(match)
	if err != nil || price.IsNegative() {
		return decimal.Zero
	}
	return price
}

// ParseStock returns the first integer run in free text ("stock: 12+" -> 12).
func ParseStock(text string) int {
	match := stockPattern.FindString(text)
	if match == "" {
		return 0
	}

	qty, err := strconv.Atoi(match)
	if err != nil || qty < 0 {
		return 0
	}
	return qty
}

// NormalizeID reduces a raw identifier to [A-Za-z0-9-].
func NormalizeID(raw string) string {
	id := nonIDRunes.ReplaceAllString(strings.TrimSpace(raw), "-")
	id = repeatedDashes.ReplaceAllString(id, "-")
	return strings.Trim(id, "-")
}
