package common

import "github.com/shopspring/decimal"

// Side is the order direction sent to the venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that unwinds s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the venue order type. Entries and exits are both sent at
// market.
type OrderType string

const OrderTypeMarket OrderType = "MARKET"

// OrderStatus is the venue order status collapsed to what the engine acts on.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

var venueStatus = map[string]OrderStatus{
	"NEW":              StatusNew,
	"PARTIALLY_FILLED": StatusPartial,
	"FILLED":           StatusFilled,
	"CANCELED":         StatusCanceled,
	"REJECTED":         StatusRejected,
	"EXPIRED":          StatusExpired,
	"EXPIRED_IN_MATCH": StatusExpired,
}

// ParseOrderStatus maps a Binance futures status string.
func ParseOrderStatus(s string) OrderStatus {
	if st, ok := venueStatus[s]; ok {
		return st
	}
	return StatusUnknown
}

// Terminal reports whether no further fills can arrive.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest is a market order for one symbol.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   decimal.Decimal
	ClientID   string // echoed back by the user data stream
	ReduceOnly bool
	// PositionSide is LONG or SHORT in hedge mode, empty in one-way mode.
	PositionSide string
}

// OrderResult is the venue acknowledgement.
type OrderResult struct {
	ExchangeOrderID string
	ClientID        string
	Status          OrderStatus
	FilledQuantity  decimal.Decimal
	AvgPrice        decimal.Decimal
}
