// Package pattern classifies single candlesticks into hammer-style tail
// signals.
package pattern

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hammer-trader/internal/domain"
)

// RatioScale is the number of decimal places kept when dividing lengths.
// Division rounds half-up.
const RatioScale int32 = 8

var (
	DefaultHammerRatio      = decimal.NewFromInt(2)
	DefaultBodyRatioFloor   = decimal.RequireFromString("0.15")
	DefaultTakeProfitFactor = decimal.NewFromInt(1)
	DefaultScale            = decimal.NewFromInt(1)
	DefaultTakerFeeRate     = decimal.RequireFromString("0.0004")
)

// Params are the thresholds applied by Analyze.
type Params struct {
	HammerRatio      decimal.Decimal
	BodyRatioFloor   decimal.Decimal // zero disables the thin-body filter
	TakeProfitFactor decimal.Decimal
	Scale            decimal.Decimal
	TakerFeeRate     decimal.Decimal
}

// DefaultParams returns the stock hammer thresholds.
func DefaultParams() Params {
	return Params{
		HammerRatio:      DefaultHammerRatio,
		BodyRatioFloor:   DefaultBodyRatioFloor,
		TakeProfitFactor: DefaultTakeProfitFactor,
		Scale:            DefaultScale,
		TakerFeeRate:     DefaultTakerFeeRate,
	}
}

// Report is the outcome of Analyze: either Matching or NonMatching.
type Report interface {
	isReport()
}

// Matching is a tradable signal.
type Matching struct {
	Symbol    string
	Side      domain.Side
	Reference domain.Reference
}

// NonMatching explains why a candle was rejected.
type NonMatching struct {
	Reason string
}

func (Matching) isReport()    {}
func (NonMatching) isReport() {}

// Rejection reasons.
const (
	ReasonDoji         = "doji"
	ReasonThinBody     = "body too thin relative to range"
	ReasonNoTail       = "no tail"
	ReasonRatioTooLow  = "hammer ratio below threshold"
	ReasonUnprofitable = "projected move does not cover fees"
)

// Analyze classifies c. It is pure and deterministic.
func Analyze(c domain.CandleStick, p Params) Report {
	bodyTop := decimal.Max(c.Open, c.Close)
	bodyBottom := decimal.Min(c.Open, c.Close)
	body := bodyTop.Sub(bodyBottom)
	total := c.High.Sub(c.Low)

	if body.IsZero() {
		return NonMatching{Reason: ReasonDoji}
	}
	if p.BodyRatioFloor.IsPositive() {
		if total.IsZero() || body.DivRound(total, RatioScale).LessThanOrEqual(p.BodyRatioFloor) {
			return NonMatching{Reason: ReasonThinBody}
		}
	}

	topTail := c.High.Sub(bodyTop)
	bottomTail := bodyBottom.Sub(c.Low)

	var (
		side    domain.Side
		tail    decimal.Decimal
		pattern domain.TailPattern
	)
	switch {
	case topTail.IsPositive() && bottomTail.IsZero():
		side, tail, pattern = domain.SideShort, topTail, domain.PatternTopTail
	case bottomTail.IsPositive() && topTail.IsZero():
		side, tail, pattern = domain.SideLong, bottomTail, domain.PatternBottomTail
	case topTail.IsPositive() && bottomTail.IsPositive():
		pattern = domain.PatternMiddleTail
		if topTail.GreaterThan(bottomTail) {
			side, tail = domain.SideShort, topTail
		} else {
			side, tail = domain.SideLong, bottomTail
		}
	default:
		return NonMatching{Reason: ReasonNoTail}
	}

	ratio := tail.DivRound(body, RatioScale)
	if !ratio.GreaterThan(p.HammerRatio) {
		return NonMatching{Reason: fmt.Sprintf("%s: %s <= %s", ReasonRatioTooLow, ratio, p.HammerRatio)}
	}

	if !coversFees(c.Open, bodyTop, bodyBottom, side, tail, p) {
		return NonMatching{Reason: ReasonUnprofitable}
	}

	scale := p.Scale
	if !scale.IsPositive() {
		scale = DefaultScale
	}
	return Matching{
		Symbol: c.Symbol,
		Side:   side,
		Reference: domain.Reference{
			Candle:      c,
			TailLength:  tail.Mul(scale),
			Scale:       scale,
			Pattern:     pattern,
			HammerRatio: ratio,
		},
	}
}

// coversFees projects the take-profit from the body edge the tail grows
// out of and requires the distance from open to exceed the taker fee on
// both legs: |open - projected| > (open + projected) * fee.
func coversFees(open, bodyTop, bodyBottom decimal.Decimal, side domain.Side, tail decimal.Decimal, p Params) bool {
	move := tail.Mul(p.TakeProfitFactor)
	projected := bodyBottom.Add(move)
	if side == domain.SideShort {
		projected = bodyTop.Sub(move)
	}
	fees := open.Add(projected).Mul(p.TakerFeeRate)
	return open.Sub(projected).Abs().GreaterThan(fees)
}
