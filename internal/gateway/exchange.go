// Package gateway assembles the exchange port used by the decision
// engines from an order executor and a market data source.
package gateway

import (
	"context"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/state"
)

// Orders executes position orders.
type Orders interface {
	OpenPosition(ctx context.Context, p state.Position) error
	ClosePosition(ctx context.Context, p state.Position) error
}

// MarketData is the read side of the exchange.
type MarketData interface {
	MarkPrice(ctx context.Context, symbol string) (domain.MarkPrice, error)
	CandleSticks(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.CandleStick, error)
	Instrument(ctx context.Context, symbol string) (domain.Instrument, error)
}

// Exchange joins an order path and a market data source. Dry-run pairs
// the paper order path with either live or simulated market data.
type Exchange struct {
	Orders
	MarketData
}

// New creates an Exchange.
func New(orders Orders, md MarketData) *Exchange {
	return &Exchange{Orders: orders, MarketData: md}
}
