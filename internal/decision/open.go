package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hammer-trader/internal/balance"
	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
	"hammer-trader/internal/lock"
	"hammer-trader/internal/pattern"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
)

// OpenEngine reacts to candles for the strategies of one type and opens
// positions on matching patterns.
type OpenEngine struct {
	policy Policy
	deps   Deps
	now    func() time.Time
	log    *zap.Logger
}

// NewOpenEngine creates an open engine for policy.
func NewOpenEngine(policy Policy, deps Deps, log *zap.Logger) *OpenEngine {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &OpenEngine{policy: policy, deps: deps, now: time.Now, log: log}
}

// Policy returns the engine's policy.
func (e *OpenEngine) Policy() Policy { return e.policy }

// HandleCandle evaluates a CandleStickEvent for every serving spec of the
// engine's type that trades the candle's symbol.
func (e *OpenEngine) HandleCandle(ctx context.Context, ev events.Event) error {
	ce, ok := ev.(events.CandleStickEvent)
	if !ok {
		return nil
	}
	c := ce.Candle

	var errs error
	for _, spec := range e.deps.Specs.ByType(e.policy.StrategyType) {
		if spec.Status != strategy.StatusService || !spec.HasSymbol(c.Symbol) || spec.Interval != c.Interval {
			continue
		}
		outcome, err := e.Evaluate(ctx, spec, c)
		e.deps.Recorder.RecordOutcome("open", e.policy.StrategyType, outcome)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("open %s/%s: %w", spec.Key, c.Symbol, err))
			continue
		}
		e.log.Debug("open evaluated",
			zap.String("strategy", spec.Key),
			zap.String("symbol", c.Symbol),
			zap.Int64("key", c.Key),
			zap.String("outcome", string(outcome)))
	}
	return errs
}

// Evaluate runs one open decision for spec on candle c.
func (e *OpenEngine) Evaluate(ctx context.Context, spec strategy.Spec, c domain.CandleStick) (outcome Outcome, err error) {
	if !e.deps.Locks.TryAcquire(spec.Key, lock.UsageOpen) {
		return OutcomeLocked, nil
	}
	defer func() {
		if !e.deps.Locks.Release(spec.Key, lock.UsageOpen) {
			err = multierr.Append(err, &InvariantError{Op: "open", StrategyKey: spec.Key, Detail: "open lock released while not held"})
		}
	}()

	if outcome, ok := e.checkSymbol(spec, c.Symbol); !ok {
		return outcome, nil
	}

	if !e.deps.Ledger.TryAcquire() {
		return OutcomeGateBusy, nil
	}
	defer e.deps.Ledger.Release()

	prev, outcome, ok := e.checkFreshness(spec, c)
	if !ok {
		return outcome, nil
	}

	allocated, err := e.deps.Ledger.Allocate(spec.Asset, spec.AllocatedRatio, len(spec.Symbols))
	if err != nil {
		return OutcomeFailed, err
	}
	available, err := e.deps.Ledger.Available(spec.Asset)
	if err != nil {
		return OutcomeFailed, err
	}
	if allocated.GreaterThan(available) {
		return OutcomeNoBudget, nil
	}

	report := pattern.Analyze(prev, spec.PatternParams(e.policy.TakerFeeRate))
	match, ok := report.(pattern.Matching)
	if !ok {
		if nm, isNM := report.(pattern.NonMatching); isNM {
			e.log.Debug("no pattern", zap.String("strategy", spec.Key), zap.String("symbol", c.Symbol), zap.String("reason", nm.Reason))
		}
		return OutcomeNoPattern, nil
	}

	return e.open(ctx, spec, match, allocated)
}

// checkSymbol applies the used-symbol rule.
func (e *OpenEngine) checkSymbol(spec strategy.Spec, symbol string) (Outcome, bool) {
	used := e.deps.Positions.AllUsedSymbols()
	free := 0
	symbolFree := false
	for _, s := range spec.Symbols {
		if _, inUse := used[s]; inUse {
			continue
		}
		free++
		if s == symbol {
			symbolFree = true
		}
	}
	switch {
	case free == 0:
		return OutcomeNoFreeSymbol, false
	case !symbolFree:
		return OutcomeSymbolInUse, false
	}
	return "", true
}

// checkFreshness advances the latest candle to c and returns the candle it
// replaced when c is the first update of the next bar and arrived in time.
// Updates of an older bar leave the cache untouched.
func (e *OpenEngine) checkFreshness(spec strategy.Spec, c domain.CandleStick) (domain.CandleStick, Outcome, bool) {
	prev, seen, stored := e.deps.Candles.Advance(spec.Key, c)
	if !seen {
		return domain.CandleStick{}, OutcomeSeeded, false
	}
	if !stored {
		return domain.CandleStick{}, OutcomeStale, false
	}
	bar, err := c.Interval.Duration()
	if err != nil {
		return domain.CandleStick{}, OutcomeStale, false
	}
	if c.Key != prev.Key+bar.Milliseconds() {
		return domain.CandleStick{}, OutcomeStale, false
	}
	if e.now().Sub(c.OpenTime()) > e.policy.FreshnessWindow {
		return domain.CandleStick{}, OutcomeStale, false
	}
	return prev, "", true
}

func (e *OpenEngine) open(ctx context.Context, spec strategy.Spec, match pattern.Matching, allocated decimal.Decimal) (Outcome, error) {
	symbol := match.Symbol
	mark, err := e.deps.Exchange.MarkPrice(ctx, symbol)
	if err != nil {
		return OutcomeFailed, err
	}
	inst, err := e.deps.Exchange.Instrument(ctx, symbol)
	if err != nil {
		return OutcomeFailed, err
	}

	qty := e.policy.Quantity(allocated, mark.Price, inst.MinNotional, inst.QuantityPrecision)
	if !qty.IsPositive() {
		return OutcomeZeroQuantity, nil
	}
	notional := qty.Mul(mark.Price)
	if notional.LessThan(inst.MinNotional) {
		return OutcomeBelowMinNotional, nil
	}

	res, err := e.deps.Ledger.Withdraw(notional, spec.Asset)
	if err != nil {
		if errors.Is(err, balance.ErrInsufficientFunds) {
			return OutcomeInsufficientFunds, nil
		}
		return OutcomeFailed, err
	}
	fee := notional.Mul(e.policy.TakerFeeRate)
	if err := e.deps.Ledger.CommitFee(res, fee); err != nil {
		if errors.Is(err, balance.ErrInsufficientFunds) {
			return OutcomeInsufficientFunds, nil
		}
		e.deps.Ledger.Undo(res)
		return OutcomeFailed, err
	}

	pos, err := e.deps.Positions.Open(ctx, state.Position{
		Key:        state.Key{Symbol: symbol, Side: match.Side},
		Asset:      spec.Asset,
		OrderType:  "MARKET",
		EntryPrice: mark.Price,
		Amount:     qty,
		Margin:     notional,
		Fee:        fee,
		Reference:  match.Reference,
	}, spec)
	if err != nil {
		e.deps.Ledger.Undo(res)
		if errors.Is(err, state.ErrAlreadyOpen) {
			return OutcomeAlreadyOpen, nil
		}
		return OutcomeFailed, err
	}

	if err := e.deps.Exchange.OpenPosition(ctx, pos); err != nil {
		e.deps.Positions.Discard(ctx, pos.Key)
		e.deps.Ledger.Undo(res)
		return OutcomeFailed, err
	}

	e.log.Info("position requested",
		zap.String("strategy", spec.Key),
		zap.String("id", pos.ID),
		zap.String("symbol", symbol),
		zap.String("side", string(match.Side)),
		zap.Stringer("qty", qty),
		zap.Stringer("mark", mark.Price),
		zap.Stringer("tail", match.Reference.TailLength),
		zap.String("pattern", string(match.Reference.Pattern)))
	return OutcomeOpened, nil
}

// HandleStart seeds the candle cache with the latest bar of each symbol.
func (e *OpenEngine) HandleStart(ctx context.Context, ev events.Event) error {
	var spec strategy.Spec
	switch se := ev.(type) {
	case events.StartStrategyEvent:
		spec = se.Spec
	case events.UpdateStrategyEvent:
		spec = se.Spec
	default:
		return nil
	}
	if spec.Type != e.policy.StrategyType {
		return nil
	}

	var errs error
	for _, sym := range spec.Symbols {
		candles, err := e.deps.Exchange.CandleSticks(ctx, sym, spec.Interval, 1)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("seed %s/%s: %w", spec.Key, sym, err))
			continue
		}
		if len(candles) == 0 {
			continue
		}
		if e.deps.Candles.Seed(spec.Key, candles[len(candles)-1]) {
			e.log.Debug("candle seeded", zap.String("strategy", spec.Key), zap.String("symbol", sym))
		}
	}
	return errs
}

// HandleStop drops the cached candles of a stopped strategy.
func (e *OpenEngine) HandleStop(_ context.Context, ev events.Event) error {
	se, ok := ev.(events.StopStrategyEvent)
	if !ok {
		return nil
	}
	if n := e.deps.Candles.Forget(se.StrategyKey); n > 0 {
		e.log.Debug("candle cache cleared", zap.String("strategy", se.StrategyKey), zap.Int("entries", n))
	}
	return nil
}
