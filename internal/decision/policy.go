// Package decision holds the engines that react to market events by
// opening and closing positions.
package decision

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SizingMode selects how an order quantity is derived.
type SizingMode string

const (
	// SizingBalance spends the whole per-symbol allocation:
	// floor(allocated / markPrice).
	SizingBalance SizingMode = "BALANCE"
	// SizingMinNotional buys the smallest accepted quantity:
	// ceil(minNotional / markPrice).
	SizingMinNotional SizingMode = "MIN_NOTIONAL"
)

// TailBasis selects which tail length the close thresholds use.
type TailBasis string

const (
	// TailUnscaled uses Reference.UnscaledTail for both thresholds.
	TailUnscaled TailBasis = "unscaled"
	// TailLegacyMixed uses the stored scaled tail for take-profit and the
	// unscaled tail for stop-loss.
	TailLegacyMixed TailBasis = "legacy_mixed"
)

// ParseTailBasis validates a configured basis. Empty means unscaled.
func ParseTailBasis(s string) (TailBasis, error) {
	switch TailBasis(s) {
	case "", TailUnscaled:
		return TailUnscaled, nil
	case TailLegacyMixed:
		return TailLegacyMixed, nil
	}
	return "", fmt.Errorf("unknown tail basis %q", s)
}

// Strategy types served by the engines.
const (
	TypeHammer    = "hammer"
	TypeHammerMin = "hammer_min"
)

// Policy parameterizes one engine pair for a strategy type.
type Policy struct {
	StrategyType    string
	Sizing          SizingMode
	TailBasis       TailBasis
	TakerFeeRate    decimal.Decimal
	FreshnessWindow time.Duration
}

// DefaultPolicies returns the policies of the built-in strategy types.
func DefaultPolicies(takerFeeRate decimal.Decimal, freshness time.Duration, basis TailBasis) []Policy {
	if freshness <= 0 {
		freshness = time.Second
	}
	if basis == "" {
		basis = TailUnscaled
	}
	return []Policy{
		{StrategyType: TypeHammer, Sizing: SizingBalance, TailBasis: basis, TakerFeeRate: takerFeeRate, FreshnessWindow: freshness},
		{StrategyType: TypeHammerMin, Sizing: SizingMinNotional, TailBasis: basis, TakerFeeRate: takerFeeRate, FreshnessWindow: freshness},
	}
}

// Quantity sizes an order at markPrice. The result is rounded to
// precision decimal places and may be zero.
func (p Policy) Quantity(allocated, markPrice, minNotional decimal.Decimal, precision int32) decimal.Decimal {
	if !markPrice.IsPositive() {
		return decimal.Zero
	}
	switch p.Sizing {
	case SizingMinNotional:
		return minNotional.Div(markPrice).RoundCeil(precision)
	default:
		return allocated.Div(markPrice).RoundFloor(precision)
	}
}
