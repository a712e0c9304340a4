package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places every resale price is rounded to.
const Precision = 2

var hundred = decimal.NewFromInt(100)

// Engine maps an original price to the resale price. Implementations are pure.
type Engine interface {
	ResalePrice(original decimal.Decimal) decimal.Decimal
}

// Tier applies Percent markup to prices at or above Min.
type Tier struct {
	Min     decimal.Decimal
	Percent decimal.Decimal
}

// Tiered applies the markup of the highest tier whose Min is <= the price.
type Tiered struct {
	tiers []Tier
}

// DefaultTiers is the business markup table.
func DefaultTiers() []Tier {
	return []Tier{
		{Min: decimal.NewFromInt(2000), Percent: decimal.NewFromInt(20)},
		{Min: decimal.NewFromInt(500), Percent: decimal.NewFromInt(35)},
		{Min: decimal.NewFromInt(200), Percent: decimal.NewFromInt(42)},
		{Min: decimal.Zero, Percent: decimal.NewFromInt(50)},
	}
}

// NewTiered sorts tiers by descending Min. An empty table falls back to DefaultTiers.
func NewTiered(tiers []Tier) *Tiered {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Min.GreaterThan(sorted[j].Min)
	})

	return &Tiered{tiers: sorted}
}

func (t *Tiered) ResalePrice(original decimal.Decimal) decimal.Decimal {
	if original.IsNegative() {
		original = decimal.Zero
	}

	for _, tier := range t.tiers {
		if original.GreaterThanOrEqual(tier.Min) {
			return markup(original, tier.Percent)
		}
	}

	// below every tier: no markup
	return original.Round(Precision)
}

// Flat applies one percentage to every price.
type Flat struct {
	Percent decimal.Decimal
}

func (f Flat) ResalePrice(original decimal.Decimal) decimal.Decimal {
	if original.IsNegative() {
		original = decimal.Zero
	}
	return markup(original, f.Percent)
}

func markup(price, percent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(percent.Div(hundred))
	return price.Mul(factor).Round(Precision)
}

// New returns a Flat engine when flatPercent is non-zero, otherwise a Tiered one.
func New(flatPercent float64, tiers []Tier) Engine {
	if flatPercent != 0 {
		return Flat{Percent: decimal.NewFromFloat(flatPercent)}
	}
	return NewTiered(tiers)
}

// ParseTiers parses "min:percent,min:percent" such as "2000:20,500:35,200:42,0:50".
func ParseTiers(s string) ([]Tier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		minStr, pctStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("invalid pricing tier %q: expected min:percent", part)
		}

		minimum, err := decimal.NewFromString(strings.TrimSpace(minStr))
		if err != nil {
			return nil, fmt.Errorf("invalid tier minimum %q: %w", minStr, err)
		}
		percent, err := decimal.NewFromString(strings.TrimSpace(pctStr))
		if err != nil {
			return nil, fmt.Errorf("invalid tier percent %q: %w", pctStr, err)
		}
		if minimum.IsNegative() {
			return nil, fmt.Errorf("tier minimum must not be negative: %s", minimum)
		}

		tiers = append(tiers, Tier{Min: minimum, Percent: percent})
	}

	return tiers, nil
}
