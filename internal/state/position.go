package state

import (
	"time"

	"github.com/shopspring/decimal"

	"hammer-trader/internal/domain"
)

// Key identifies a position.
type Key struct {
	Symbol string      `json:"symbol"`
	Side   domain.Side `json:"side"`
}

func (k Key) String() string { return k.Symbol + ":" + string(k.Side) }

// SyncState is either Pending or Synced.
type SyncState interface {
	isSyncState()
	Name() string
}

// Pending means the order was sent but the exchange has not confirmed it.
type Pending struct {
	RequestedAt time.Time
}

// Synced carries the exchange-confirmed execution.
type Synced struct {
	domain.Fill
}

func (Pending) isSyncState() {}
func (Synced) isSyncState()  {}

func (Pending) Name() string { return "UNSYNCED" }
func (Synced) Name() string  { return "SYNCED" }

// Position is an open derivatives position owned by one strategy.
type Position struct {
	ID           string           `json:"id"`
	Key          Key              `json:"key"`
	StrategyKey  string           `json:"strategy_key"`
	StrategyType string           `json:"strategy_type"`
	Asset        string           `json:"asset"`
	OrderType    string           `json:"order_type"`
	EntryPrice   decimal.Decimal  `json:"entry_price"`
	Amount       decimal.Decimal  `json:"amount"`
	Margin       decimal.Decimal  `json:"margin"`
	Fee          decimal.Decimal  `json:"fee"`
	Reference    domain.Reference `json:"reference"`
	State        SyncState        `json:"-"`
	OpenedAt     time.Time        `json:"opened_at"`
}

// Symbol is shorthand for Key.Symbol.
func (p Position) Symbol() string { return p.Key.Symbol }

// Side is shorthand for Key.Side.
func (p Position) Side() domain.Side { return p.Key.Side }

// Fill returns the confirmed execution when the position is synced.
func (p Position) Fill() (domain.Fill, bool) {
	s, ok := p.State.(Synced)
	if !ok {
		return domain.Fill{}, false
	}
	return s.Fill, true
}

// IsSynced reports whether the exchange confirmed the position.
func (p Position) IsSynced() bool {
	_, ok := p.State.(Synced)
	return ok
}

// Status returns UNSYNCED or SYNCED.
func (p Position) Status() string {
	if p.State == nil {
		return Pending{}.Name()
	}
	return p.State.Name()
}

// PnL returns the realized profit of closing amount at exit.
func (p Position) PnL(exit decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(p.EntryPrice)
	if p.Key.Side == domain.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Amount)
}

// CloseReason says why a position was closed.
type CloseReason string

const (
	ReasonStopLoss   CloseReason = "STOP_LOSS"
	ReasonTakeProfit CloseReason = "TAKE_PROFIT"
	ReasonManual     CloseReason = "MANUAL"
)

// History is the record of a closed position.
type History struct {
	ID           string          `json:"id"`
	PositionID   string          `json:"position_id"`
	StrategyKey  string          `json:"strategy_key"`
	StrategyType string          `json:"strategy_type"`
	Symbol       string          `json:"symbol"`
	Side         domain.Side     `json:"side"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	Reason       CloseReason     `json:"reason"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     time.Time       `json:"closed_at"`
}
