package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Intent says whether an order opens or closes a position.
type Intent string

const (
	IntentOpen  Intent = "OPEN"
	IntentClose Intent = "CLOSE"
)

// Order is a submitted order as persisted locally.
type Order struct {
	ID              string // client order id
	PositionID      string // position the order belongs to
	StrategyKey     string
	Symbol          string
	Side            string // BUY or SELL
	Intent          Intent
	Qty             decimal.Decimal
	FilledQty       decimal.Decimal
	AvgPrice        decimal.Decimal
	Status          string
	ExchangeOrderID string
	CreatedAt       time.Time
}

// IsFullyFilled checks if order is fully filled
func (o *Order) IsFullyFilled() bool {
	return o.FilledQty.GreaterThanOrEqual(o.Qty)
}
