package db

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// StrategySpec is a row of strategy_specs. Symbols and Parameters hold
// JSON documents.
type StrategySpec struct {
	Key            string
	Type           string
	Symbols        string
	Asset          string
	AllocatedRatio decimal.Decimal
	Interval       string
	MaxPositions   int
	Parameters     string
	Status         string
	UpdatedAt      int64
}

// Position is a row of positions. Fill columns are NULL while the
// position is unsynced.
type Position struct {
	ID           string
	Symbol       string
	Side         string
	StrategyKey  string
	StrategyType string
	Asset        string
	OrderType    string
	EntryPrice   decimal.Decimal
	Amount       decimal.Decimal
	Margin       decimal.Decimal
	Fee          decimal.Decimal
	Reference    string
	SyncState    string
	FillPrice    decimal.NullDecimal
	FillAmount   decimal.NullDecimal
	FillTime     sql.NullInt64
	OpenedAt     int64
}

// PositionHistory is a row of position_history.
type PositionHistory struct {
	ID           string
	PositionID   string
	StrategyKey  string
	StrategyType string
	Symbol       string
	Side         string
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Amount       decimal.Decimal
	Fee          decimal.Decimal
	RealizedPnL  decimal.Decimal
	Reason       string
	OpenedAt     int64
	ClosedAt     int64
}

// Order is a row of orders.
type Order struct {
	ID              string
	PositionID      string
	StrategyKey     string
	Symbol          string
	Side            string
	Intent          string
	Qty             decimal.Decimal
	FilledQty       decimal.Decimal
	AvgPrice        decimal.Decimal
	Status          string
	ExchangeOrderID sql.NullString
	CreatedAt       int64
	UpdatedAt       int64
}
