package events

import (
	"hammer-trader/internal/domain"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
)

// Kind enumerates the event types dispatched inside the engine.
type Kind string

const (
	KindStartStrategy  Kind = "strategy.start"
	KindStopStrategy   Kind = "strategy.stop"
	KindUpdateStrategy Kind = "strategy.update"
	KindCandleStick    Kind = "market.candlestick"
	KindMarkPrice      Kind = "market.mark_price"
	KindOrderFilled    Kind = "order.filled"
	KindPositionSynced Kind = "position.synced"
)

// Event is implemented by every event type.
type Event interface {
	Kind() Kind
}

// StartStrategyEvent registers a strategy spec.
type StartStrategyEvent struct {
	Spec strategy.Spec
}

// StopStrategyEvent removes a strategy from service.
type StopStrategyEvent struct {
	StrategyKey string
}

// UpdateStrategyEvent replaces a running strategy spec.
type UpdateStrategyEvent struct {
	Spec strategy.Spec
}

// CandleStickEvent carries a kline update.
type CandleStickEvent struct {
	Candle domain.CandleStick
}

// MarkPriceRefreshEvent carries the latest mark price.
type MarkPriceRefreshEvent struct {
	MarkPrice domain.MarkPrice
}

// OrderFilledEvent is an exchange confirmation for an opening order.
// PositionID is the client order id the order was submitted with.
type OrderFilledEvent struct {
	PositionID string
	Symbol     string
	Fill       domain.Fill
}

// PositionSyncedEvent is published once a position has been confirmed.
type PositionSyncedEvent struct {
	Position state.Position
}

func (StartStrategyEvent) Kind() Kind    { return KindStartStrategy }
func (StopStrategyEvent) Kind() Kind     { return KindStopStrategy }
func (UpdateStrategyEvent) Kind() Kind   { return KindUpdateStrategy }
func (CandleStickEvent) Kind() Kind      { return KindCandleStick }
func (MarkPriceRefreshEvent) Kind() Kind { return KindMarkPrice }
func (OrderFilledEvent) Kind() Kind      { return KindOrderFilled }
func (PositionSyncedEvent) Kind() Kind   { return KindPositionSynced }
