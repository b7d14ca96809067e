// Package order turns position decisions into exchange orders and feeds
// exchange confirmations back into the engine.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
	"hammer-trader/internal/state"
	exchange "hammer-trader/pkg/exchanges/common"
)

// Store persists orders.
type Store interface {
	CreateOrder(ctx context.Context, o Order) error
	UpdateOrderFill(ctx context.Context, id, status string, o Order) error
}

// Publisher delivers engine events.
type Publisher interface {
	Publish(e events.Event) bool
}

// Executor persists orders, sends them to an exchange gateway, and emits
// fill confirmations for immediately filled orders.
type Executor struct {
	gw    exchange.Gateway
	store Store
	bus   Publisher
	log   *zap.Logger
}

// NewExecutor creates an executor. store and bus may be nil.
func NewExecutor(gw exchange.Gateway, store Store, bus Publisher, log *zap.Logger) *Executor {
	return &Executor{gw: gw, store: store, bus: bus, log: log}
}

func entrySide(s domain.Side) exchange.Side {
	if s == domain.SideShort {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

// OpenPosition submits the market order that opens p. The client order id
// is the position id so confirmations can be matched back.
func (e *Executor) OpenPosition(ctx context.Context, p state.Position) error {
	o := Order{
		ID:          p.ID,
		PositionID:  p.ID,
		StrategyKey: p.StrategyKey,
		Symbol:      p.Symbol(),
		Side:        string(entrySide(p.Side())),
		Intent:      IntentOpen,
		Qty:         p.Amount,
		CreatedAt:   time.Now(),
	}
	res, err := e.submit(ctx, o, false)
	if err != nil {
		return err
	}
	if res.Status == exchange.StatusFilled && res.AvgPrice.IsPositive() && e.bus != nil {
		e.bus.Publish(events.OrderFilledEvent{
			PositionID: p.ID,
			Symbol:     p.Symbol(),
			Fill:       domain.Fill{Price: res.AvgPrice, Amount: res.FilledQuantity, Time: time.Now()},
		})
	}
	return nil
}

// ClosePosition submits a reduce-only market order for the full amount.
func (e *Executor) ClosePosition(ctx context.Context, p state.Position) error {
	o := Order{
		ID:          uuid.NewString(),
		PositionID:  p.ID,
		StrategyKey: p.StrategyKey,
		Symbol:      p.Symbol(),
		Side:        string(entrySide(p.Side()).Opposite()),
		Intent:      IntentClose,
		Qty:         p.Amount,
		CreatedAt:   time.Now(),
	}
	_, err := e.submit(ctx, o, true)
	return err
}

func (e *Executor) submit(ctx context.Context, o Order, reduceOnly bool) (exchange.OrderResult, error) {
	if e.gw == nil {
		return exchange.OrderResult{}, exchange.Wrap("submit order", fmt.Errorf("no gateway configured"))
	}
	req := exchange.OrderRequest{
		Symbol:     o.Symbol,
		Side:       exchange.Side(o.Side),
		Type:       exchange.OrderTypeMarket,
		Quantity:   o.Qty,
		ClientID:   o.ID,
		ReduceOnly: reduceOnly,
	}

	start := time.Now()
	res, err := e.gw.SubmitOrder(ctx, req)
	if err != nil {
		e.log.Error("order rejected",
			zap.String("id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("intent", string(o.Intent)),
			zap.Error(err))
		o.Status = string(exchange.StatusRejected)
		e.persist(ctx, o)
		return exchange.OrderResult{}, exchange.Wrap("submit order", err)
	}

	o.Status = string(res.Status)
	o.ExchangeOrderID = res.ExchangeOrderID
	o.FilledQty = res.FilledQuantity
	o.AvgPrice = res.AvgPrice
	e.persist(ctx, o)

	e.log.Info("order submitted",
		zap.String("id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", o.Side),
		zap.String("intent", string(o.Intent)),
		zap.Stringer("qty", o.Qty),
		zap.String("status", o.Status),
		zap.Duration("latency", time.Since(start)))
	return res, nil
}

func (e *Executor) persist(ctx context.Context, o Order) {
	if e.store == nil {
		return
	}
	if err := e.store.CreateOrder(ctx, o); err != nil {
		e.log.Warn("persist order failed", zap.String("id", o.ID), zap.Error(err))
	}
}
