package decision

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
	"hammer-trader/internal/lock"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
)

// ErrNotSynced is returned when closing a position the exchange has not
// confirmed yet.
var ErrNotSynced = errors.New("position not synced")

// CloseEngine watches mark prices and closes synced positions whose stop
// loss or take profit was hit.
type CloseEngine struct {
	policy Policy
	deps   Deps
	log    *zap.Logger
}

// NewCloseEngine creates a close engine for policy.
func NewCloseEngine(policy Policy, deps Deps, log *zap.Logger) *CloseEngine {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &CloseEngine{policy: policy, deps: deps, log: log}
}

// Policy returns the engine's policy.
func (e *CloseEngine) Policy() Policy { return e.policy }

// HandleMarkPrice evaluates every synced position on the price's symbol.
func (e *CloseEngine) HandleMarkPrice(ctx context.Context, ev events.Event) error {
	me, ok := ev.(events.MarkPriceRefreshEvent)
	if !ok {
		return nil
	}
	var errs error
	for _, p := range e.deps.Positions.FindBySymbol(me.MarkPrice.Symbol) {
		if err := e.evaluatePosition(ctx, p, me.MarkPrice.Price); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// HandlePositionSynced evaluates a newly confirmed position against the
// current mark price.
func (e *CloseEngine) HandlePositionSynced(ctx context.Context, ev events.Event) error {
	pe, ok := ev.(events.PositionSyncedEvent)
	if !ok {
		return nil
	}
	spec, ok := e.deps.Specs.Get(pe.Position.StrategyKey)
	if !ok || spec.Type != e.policy.StrategyType {
		return nil
	}
	mark, err := e.deps.Exchange.MarkPrice(ctx, pe.Position.Symbol())
	if err != nil {
		return fmt.Errorf("close %s: %w", pe.Position.Key, err)
	}
	return e.evaluatePosition(ctx, pe.Position, mark.Price)
}

func (e *CloseEngine) evaluatePosition(ctx context.Context, p state.Position, last decimal.Decimal) error {
	if !p.IsSynced() {
		return nil
	}
	spec, ok := e.deps.Specs.Get(p.StrategyKey)
	if !ok || spec.Type != e.policy.StrategyType {
		return nil
	}
	outcome, err := e.Evaluate(ctx, spec, p.Key, last)
	e.deps.Recorder.RecordOutcome("close", e.policy.StrategyType, outcome)
	if err != nil {
		return fmt.Errorf("close %s/%s: %w", spec.Key, p.Key, err)
	}
	return nil
}

// Evaluate checks the position at key against last and closes it when a
// threshold is crossed.
func (e *CloseEngine) Evaluate(ctx context.Context, spec strategy.Spec, key state.Key, last decimal.Decimal) (outcome Outcome, err error) {
	if !e.deps.Locks.TryAcquire(spec.Key, lock.UsageClose) {
		return OutcomeLocked, nil
	}
	defer func() {
		if !e.deps.Locks.Release(spec.Key, lock.UsageClose) {
			err = multierr.Append(err, &InvariantError{Op: "close", StrategyKey: spec.Key, Detail: "close lock released while not held"})
		}
	}()

	p, ok := e.deps.Positions.Get(key)
	if !ok || p.StrategyKey != spec.Key || !p.IsSynced() {
		return OutcomeNoPosition, nil
	}

	reason, hit := e.Thresholds(spec, p).Check(p.Side(), last)
	if !hit {
		return OutcomeHeld, nil
	}
	if err := e.close(ctx, spec, p, last, reason); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeClosed, nil
}

// CloseManual closes a synced position at last regardless of thresholds.
func (e *CloseEngine) CloseManual(ctx context.Context, spec strategy.Spec, key state.Key, last decimal.Decimal) (err error) {
	if !e.deps.Locks.TryAcquire(spec.Key, lock.UsageClose) {
		return fmt.Errorf("close %s: strategy %s busy", key, spec.Key)
	}
	defer func() {
		if !e.deps.Locks.Release(spec.Key, lock.UsageClose) {
			err = multierr.Append(err, &InvariantError{Op: "manual close", StrategyKey: spec.Key, Detail: "close lock released while not held"})
		}
	}()

	p, ok := e.deps.Positions.Get(key)
	if !ok || p.StrategyKey != spec.Key {
		return fmt.Errorf("%w: %s", state.ErrNotFound, key)
	}
	if !p.IsSynced() {
		return fmt.Errorf("%w: %s", ErrNotSynced, key)
	}
	err = e.close(ctx, spec, p, last, state.ReasonManual)
	outcome := OutcomeClosed
	if err != nil {
		outcome = OutcomeFailed
	}
	e.deps.Recorder.RecordOutcome("close", e.policy.StrategyType, outcome)
	return err
}

// close sends the exit order first; the position stays open if the
// exchange refuses it.
func (e *CloseEngine) close(ctx context.Context, spec strategy.Spec, p state.Position, last decimal.Decimal, reason state.CloseReason) error {
	if err := e.deps.Exchange.ClosePosition(ctx, p); err != nil {
		return err
	}
	h, err := e.deps.Positions.Close(ctx, p.Key, spec, last, reason)
	if err != nil {
		return err
	}
	e.log.Info("position close committed",
		zap.String("strategy", spec.Key),
		zap.String("id", p.ID),
		zap.String("key", p.Key.String()),
		zap.String("reason", string(reason)),
		zap.Stringer("entry", p.EntryPrice),
		zap.Stringer("exit", last),
		zap.Stringer("pnl", h.RealizedPnL))
	return nil
}

// Thresholds are the distances from entry that trigger a close.
type Thresholds struct {
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Thresholds derives the close distances for p from its reference tail.
func (e *CloseEngine) Thresholds(spec strategy.Spec, p state.Position) Thresholds {
	tail := p.Reference.UnscaledTail()
	tpTail := tail
	if e.policy.TailBasis == TailLegacyMixed {
		tpTail = p.Reference.TailLength
	}
	return Thresholds{
		Entry:      p.EntryPrice,
		StopLoss:   tail.Mul(spec.StopLossFactor()),
		TakeProfit: tpTail.Mul(spec.TakeProfitFactor()),
	}
}

// Check reports whether last crosses a threshold for a position on side.
// Stop loss wins when both hold.
func (t Thresholds) Check(side domain.Side, last decimal.Decimal) (state.CloseReason, bool) {
	move := last.Sub(t.Entry)
	if side == domain.SideShort {
		move = move.Neg()
	}
	switch {
	case t.StopLoss.LessThan(move.Neg()):
		return state.ReasonStopLoss, true
	case move.GreaterThan(t.TakeProfit):
		return state.ReasonTakeProfit, true
	}
	return "", false
}
