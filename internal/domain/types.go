// Package domain holds the value types shared by the trading core.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a derivatives position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the side that closes a position of side s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Interval is a candlestick interval such as "1m" or "4h".
type Interval string

var intervalDurations = map[Interval]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// Duration returns the bar length of the interval.
func (i Interval) Duration() (time.Duration, error) {
	d, ok := intervalDurations[i]
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", string(i))
	}
	return d, nil
}

// CandleStick is one OHLC bar. Key is the bar-open time in epoch ms and is
// unique per (Symbol, Interval).
type CandleStick struct {
	Symbol         string          `json:"symbol"`
	Interval       Interval        `json:"interval"`
	Key            int64           `json:"key"`
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	Close          decimal.Decimal `json:"close"`
	Volume         decimal.Decimal `json:"volume"`
	NumberOfTrades int64           `json:"number_of_trades"`
}

// OpenTime returns the bar-open time.
func (c CandleStick) OpenTime() time.Time { return time.UnixMilli(c.Key) }

// MarkPrice is the latest exchange mark price for a symbol.
type MarkPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

// Instrument carries the trading rules of a symbol.
type Instrument struct {
	Symbol            string          `json:"symbol"`
	QuantityPrecision int32           `json:"quantity_precision"`
	PricePrecision    int32           `json:"price_precision"`
	MinNotional       decimal.Decimal `json:"min_notional"`
	TickSize          decimal.Decimal `json:"tick_size"`
	MinPrice          decimal.Decimal `json:"min_price"`
}

// Fill is the authoritative execution reported by the exchange.
type Fill struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Time   time.Time       `json:"time"`
}

// TailPattern names the wick shape that produced a signal.
type TailPattern string

const (
	PatternTopTail    TailPattern = "TOP_TAIL"
	PatternBottomTail TailPattern = "BOTTOM_TAIL"
	PatternMiddleTail TailPattern = "MIDDLE_TAIL"
)

// Reference is the snapshot an open decision was based on. TailLength is
// stored multiplied by Scale.
type Reference struct {
	Candle      CandleStick     `json:"candle"`
	TailLength  decimal.Decimal `json:"tail_length"`
	Scale       decimal.Decimal `json:"scale"`
	Pattern     TailPattern     `json:"pattern"`
	HammerRatio decimal.Decimal `json:"hammer_ratio"`
}

// UnscaledTail returns TailLength with Scale divided out.
func (r Reference) UnscaledTail() decimal.Decimal {
	if r.Scale.IsZero() {
		return r.TailLength
	}
	return r.TailLength.DivRound(r.Scale, 16)
}
