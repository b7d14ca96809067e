package decision

import (
	"context"

	"github.com/shopspring/decimal"

	"hammer-trader/internal/balance"
	"hammer-trader/internal/domain"
	"hammer-trader/internal/lock"
	"hammer-trader/internal/market"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
)

// Exchange is the venue as seen by the engines.
type Exchange interface {
	OpenPosition(ctx context.Context, p state.Position) error
	ClosePosition(ctx context.Context, p state.Position) error
	MarkPrice(ctx context.Context, symbol string) (domain.MarkPrice, error)
	CandleSticks(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.CandleStick, error)
	Instrument(ctx context.Context, symbol string) (domain.Instrument, error)
}

// Specs reads registered strategies.
type Specs interface {
	Get(key string) (strategy.Spec, bool)
	ByType(typ string) []strategy.Spec
}

// Locks is the per-strategy try-lock.
type Locks interface {
	TryAcquire(strategyKey string, usage lock.Usage) bool
	Release(strategyKey string, usage lock.Usage) bool
}

// Ledger is the balance side of an open decision.
type Ledger interface {
	TryAcquire() bool
	Release()
	Allocate(asset string, ratio decimal.Decimal, symbolCount int) (decimal.Decimal, error)
	Available(asset string) (decimal.Decimal, error)
	Withdraw(amount decimal.Decimal, asset string) (*balance.Reservation, error)
	CommitFee(res *balance.Reservation, fee decimal.Decimal) error
	Undo(res *balance.Reservation)
}

// Positions is the position store as used by the engines.
type Positions interface {
	Open(ctx context.Context, p state.Position, spec strategy.Spec) (state.Position, error)
	Discard(ctx context.Context, key state.Key)
	Close(ctx context.Context, key state.Key, spec strategy.Spec, exit decimal.Decimal, reason state.CloseReason) (state.History, error)
	Get(key state.Key) (state.Position, bool)
	AllUsedSymbols() map[string]struct{}
	FindBySymbol(symbol string) []state.Position
}

// Deps are the collaborators shared by both engines.
type Deps struct {
	Specs     Specs
	Locks     Locks
	Ledger    Ledger
	Positions Positions
	Exchange  Exchange
	Candles   *market.CandleCache
	Recorder  Recorder
}
