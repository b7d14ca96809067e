package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hammer-trader/internal/balance"
	"hammer-trader/internal/decision"
	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
	"hammer-trader/internal/lock"
	"hammer-trader/internal/market"
	"hammer-trader/internal/monitor"
	"hammer-trader/internal/reconciliation"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
)

var (
	// ErrUnknownType is returned for a strategy type no policy serves.
	ErrUnknownType = errors.New("unknown strategy type")
	// ErrNoSpec is returned when a position's strategy cannot be found.
	ErrNoSpec = errors.New("strategy spec not found for position")
)

// Watcher subscribes the market feed to a symbol.
type Watcher interface {
	Watch(symbol string, interval domain.Interval) error
}

// HistoryReader reads closed positions.
type HistoryReader interface {
	List(ctx context.Context, strategyKey string, limit int) ([]state.History, error)
	RealizedPnL(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Reconciler exposes the last reconciliation report.
type Reconciler interface {
	Last() *reconciliation.Report
}

// Pender reports queued work, for gauges.
type Pender interface {
	Pending() int
}

// Impl implements the Service interface by composing the core modules.
type Impl struct {
	registry *strategy.Registry
	specRepo strategy.Repository
	store    *state.Store
	ledger   *balance.Ledger
	locks    *lock.Coordinator
	exchange decision.Exchange
	candles  *market.CandleCache
	prices   *market.MarkPriceCache
	bus      *events.Bus
	watcher  Watcher
	monitor  *monitor.Monitor
	history  HistoryReader
	recon    Reconciler
	writer   Pender

	open  map[string]*decision.OpenEngine
	close map[string]*decision.CloseEngine
	types []string

	meta SystemStatus
	log  *zap.Logger
}

// Config holds the collaborators of an engine implementation. SpecRepo,
// Watcher, History, Reconciler and Writer are optional.
type Config struct {
	Registry   *strategy.Registry
	SpecRepo   strategy.Repository
	Store      *state.Store
	Ledger     *balance.Ledger
	Locks      *lock.Coordinator
	Exchange   decision.Exchange
	Candles    *market.CandleCache
	Prices     *market.MarkPriceCache
	Bus        *events.Bus
	Watcher    Watcher
	Monitor    *monitor.Monitor
	History    HistoryReader
	Reconciler Reconciler
	Writer     Pender
	Policies   []decision.Policy
	Meta       SystemStatus
}

// NewImpl creates the engine and registers the dispatch table on the bus.
// It must be called before the bus is started.
func NewImpl(cfg Config, log *zap.Logger) (*Impl, error) {
	e := &Impl{
		registry: cfg.Registry,
		specRepo: cfg.SpecRepo,
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		locks:    cfg.Locks,
		exchange: cfg.Exchange,
		candles:  cfg.Candles,
		prices:   cfg.Prices,
		bus:      cfg.Bus,
		watcher:  cfg.Watcher,
		monitor:  cfg.Monitor,
		history:  cfg.History,
		recon:    cfg.Reconciler,
		writer:   cfg.Writer,
		open:     make(map[string]*decision.OpenEngine),
		close:    make(map[string]*decision.CloseEngine),
		meta:     cfg.Meta,
		log:      log,
	}

	var recorder decision.Recorder
	if cfg.Monitor != nil {
		recorder = cfg.Monitor.Metrics
	}
	deps := decision.Deps{
		Specs:     cfg.Registry,
		Locks:     cfg.Locks,
		Ledger:    cfg.Ledger,
		Positions: cfg.Store,
		Exchange:  cfg.Exchange,
		Candles:   cfg.Candles,
		Recorder:  recorder,
	}
	for _, p := range cfg.Policies {
		if _, dup := e.open[p.StrategyType]; dup {
			return nil, fmt.Errorf("duplicate policy for %s", p.StrategyType)
		}
		e.open[p.StrategyType] = decision.NewOpenEngine(p, deps, log.Named("open."+p.StrategyType))
		e.close[p.StrategyType] = decision.NewCloseEngine(p, deps, log.Named("close."+p.StrategyType))
		e.types = append(e.types, p.StrategyType)
	}
	sort.Strings(e.types)

	if err := e.wire(); err != nil {
		return nil, err
	}
	return e, nil
}

// wire builds the dispatch table: kind -> ordered handlers.
func (e *Impl) wire() error {
	type entry struct {
		kind events.Kind
		name string
		h    events.Handler
	}
	table := []entry{
		{events.KindStartStrategy, "feed.watch", e.handleWatch},
		{events.KindUpdateStrategy, "feed.watch", e.handleWatch},
		{events.KindOrderFilled, "position.sync", e.handleOrderFilled},
	}
	for _, typ := range e.types {
		oe, ce := e.open[typ], e.close[typ]
		table = append(table,
			entry{events.KindStartStrategy, "open." + typ + ".seed", oe.HandleStart},
			entry{events.KindUpdateStrategy, "open." + typ + ".seed", oe.HandleStart},
			entry{events.KindStopStrategy, "open." + typ + ".forget", oe.HandleStop},
			entry{events.KindCandleStick, "open." + typ, oe.HandleCandle},
			entry{events.KindMarkPrice, "close." + typ, ce.HandleMarkPrice},
			entry{events.KindPositionSynced, "close." + typ, ce.HandlePositionSynced},
		)
	}
	for _, t := range table {
		if err := e.bus.Subscribe(t.kind, t.name, t.h); err != nil {
			return err
		}
	}
	return nil
}

func (e *Impl) handleWatch(_ context.Context, ev events.Event) error {
	if e.watcher == nil {
		return nil
	}
	var spec strategy.Spec
	switch se := ev.(type) {
	case events.StartStrategyEvent:
		spec = se.Spec
	case events.UpdateStrategyEvent:
		spec = se.Spec
	default:
		return nil
	}
	var errs error
	for _, sym := range spec.Symbols {
		if err := e.watcher.Watch(sym, spec.Interval); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("watch %s %s: %w", sym, spec.Interval, err))
		}
	}
	return errs
}

// handleOrderFilled moves the position an opening order belongs to from
// Pending to Synced and announces it.
func (e *Impl) handleOrderFilled(ctx context.Context, ev events.Event) error {
	fe, ok := ev.(events.OrderFilledEvent)
	if !ok {
		return nil
	}
	p, ok := e.store.FindByID(fe.PositionID)
	if !ok {
		e.log.Debug("fill for unknown position", zap.String("id", fe.PositionID), zap.String("symbol", fe.Symbol))
		return nil
	}
	synced, err := e.store.MarkSynced(ctx, p.Key, fe.Fill)
	if errors.Is(err, state.ErrAlreadySynced) || errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync %s: %w", p.Key, err)
	}
	e.log.Info("position synced",
		zap.String("id", synced.ID),
		zap.String("key", synced.Key.String()),
		zap.Stringer("fill_price", fe.Fill.Price))
	e.bus.Publish(events.PositionSyncedEvent{Position: synced})
	return nil
}

// Resume announces every loaded spec so feeds and candle caches are set up
// after a restart.
func (e *Impl) Resume() {
	for _, spec := range e.registry.All() {
		e.bus.Publish(events.StartStrategyEvent{Spec: spec})
	}
}

// Bootstrap registers the strategies of a YAML bootstrap file. Active
// entries are started unless already running; inactive entries are stored
// as STOPPED when they are not known yet.
func (e *Impl) Bootstrap(ctx context.Context, configs []strategy.Config, defaultAsset string) error {
	var errs error
	for _, c := range configs {
		spec, err := c.Spec(defaultAsset)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if spec.Status == strategy.StatusService {
			if _, err := e.StartStrategy(ctx, spec); err != nil && !errors.Is(err, strategy.ErrAlreadyExist) {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		if e.specRepo == nil {
			continue
		}
		if _, err := e.specRepo.FindByKey(ctx, spec.Key); errors.Is(err, strategy.ErrNotFound) {
			if err := e.specRepo.Save(ctx, spec); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("save %s: %w", spec.Key, err))
			}
		}
	}
	return errs
}

// candleRetention outlives the longest supported interval.
const candleRetention = 48 * time.Hour

// Start refreshes gauges every interval until ctx is done.
func (e *Impl) Start(ctx context.Context, interval time.Duration) {
	if e.monitor == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := e.candles.Prune(candleRetention); n > 0 {
					e.log.Debug("pruned idle candles", zap.Int("count", n))
				}
				e.updateGauges()
			}
		}
	}()
}

func (e *Impl) updateGauges() {
	m := e.monitor.Metrics
	m.SetGauge("bus_pending", int64(e.bus.Pending()))
	m.SetGauge("bus_dropped", e.bus.Dropped())
	m.SetGauge("positions", int64(len(e.store.All())))
	m.SetGauge("strategies", int64(len(e.registry.All())))
	m.SetGauge("locks_held", int64(e.locks.Len()))
	m.SetGauge("candles_cached", int64(e.candles.Len()))
	m.SetGauge("mark_price_oldest_ms", e.prices.OldestAge().Milliseconds())
	if e.writer != nil {
		m.SetGauge("history_pending", int64(e.writer.Pending()))
	}
}

// --- Strategy commands ---

func (e *Impl) checkType(typ string) error {
	if _, ok := e.open[typ]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return nil
}

func (e *Impl) StartStrategy(ctx context.Context, spec strategy.Spec) (strategy.Spec, error) {
	if err := e.checkType(spec.Type); err != nil {
		return strategy.Spec{}, err
	}
	started, err := e.registry.Start(ctx, spec)
	if err != nil {
		return strategy.Spec{}, err
	}
	e.bus.Publish(events.StartStrategyEvent{Spec: started})
	return started, nil
}

func (e *Impl) UpdateStrategy(ctx context.Context, spec strategy.Spec) (strategy.Spec, error) {
	if err := e.checkType(spec.Type); err != nil {
		return strategy.Spec{}, err
	}
	updated, err := e.registry.Update(ctx, spec)
	if err != nil {
		return strategy.Spec{}, err
	}
	e.bus.Publish(events.UpdateStrategyEvent{Spec: updated})
	return updated, nil
}

func (e *Impl) StopStrategy(ctx context.Context, key string) error {
	spec, err := e.registry.Stop(ctx, key)
	if spec.Key != "" {
		e.bus.Publish(events.StopStrategyEvent{StrategyKey: spec.Key})
	}
	return err
}

// --- Strategy queries ---

func (e *Impl) ListStrategies(_ context.Context) []strategy.Spec {
	return e.registry.All()
}

func (e *Impl) GetStrategy(ctx context.Context, key string) (strategy.Spec, error) {
	if spec, ok := e.registry.Get(key); ok {
		return spec, nil
	}
	if e.specRepo != nil {
		return e.specRepo.FindByKey(ctx, key)
	}
	return strategy.Spec{}, fmt.Errorf("%w: %s", strategy.ErrNotFound, key)
}

// --- Positions ---

func (e *Impl) GetPositions(_ context.Context, strategyKey string) []PositionView {
	var all []state.Position
	if strategyKey != "" {
		all = e.store.FindByStrategy(strategyKey)
	} else {
		all = e.store.All()
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OpenedAt.Before(all[j].OpenedAt) })

	out := make([]PositionView, 0, len(all))
	for _, p := range all {
		v := PositionView{Position: p, Status: p.Status()}
		if f, ok := p.Fill(); ok {
			v.Fill = &FillView{Price: f.Price, Amount: f.Amount, Time: f.Time}
		}
		if mark, ok := e.prices.Price(p.Symbol()); ok {
			pnl := p.PnL(mark)
			v.MarkPrice = &mark
			v.UnrealizedPnL = &pnl
		}
		out = append(out, v)
	}
	return out
}

// ClosePosition closes a synced position at the current mark price. The
// strategy may already be stopped.
func (e *Impl) ClosePosition(ctx context.Context, key state.Key) error {
	p, ok := e.store.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", state.ErrNotFound, key)
	}
	spec, err := e.GetStrategy(ctx, p.StrategyKey)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoSpec, key, err)
	}
	ce, ok := e.close[spec.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, spec.Type)
	}
	mark, err := e.exchange.MarkPrice(ctx, p.Symbol())
	if err != nil {
		return fmt.Errorf("mark price %s: %w", p.Symbol(), err)
	}
	return ce.CloseManual(ctx, spec, key, mark.Price)
}

func (e *Impl) GetHistory(ctx context.Context, strategyKey string, limit int) ([]state.History, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.List(ctx, strategyKey, limit)
}

// GetPerformance returns realized PnL and open positions per strategy.
func (e *Impl) GetPerformance(ctx context.Context) ([]StrategyPnL, error) {
	realized := map[string]decimal.Decimal{}
	if e.history != nil {
		var err error
		if realized, err = e.history.RealizedPnL(ctx); err != nil {
			return nil, err
		}
	}
	keys := make(map[string]struct{}, len(realized))
	for k := range realized {
		keys[k] = struct{}{}
	}
	for _, s := range e.registry.All() {
		keys[s.Key] = struct{}{}
	}

	out := make([]StrategyPnL, 0, len(keys))
	for k := range keys {
		out = append(out, StrategyPnL{
			StrategyKey:   k,
			RealizedPnL:   realized[k],
			OpenPositions: len(e.store.FindByStrategy(k)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyKey < out[j].StrategyKey })
	return out, nil
}

// --- Balance ---

func (e *Impl) GetBalances(_ context.Context) []balance.Account {
	accs := e.ledger.Balances()
	sort.Slice(accs, func(i, j int) bool { return accs[i].Asset < accs[j].Asset })
	return accs
}

// --- System ---

func (e *Impl) GetMetrics(_ context.Context) monitor.MetricsSnapshot {
	if e.monitor == nil {
		return monitor.MetricsSnapshot{}
	}
	e.updateGauges()
	return e.monitor.Metrics.GetSnapshot()
}

func (e *Impl) GetAlerts(_ context.Context) []monitor.Alert {
	if e.monitor == nil {
		return nil
	}
	return e.monitor.Recent()
}

func (e *Impl) GetReconciliation(_ context.Context) *reconciliation.Report {
	if e.recon == nil {
		return nil
	}
	return e.recon.Last()
}

func (e *Impl) GetSystemStatus(_ context.Context) SystemStatus {
	s := e.meta
	s.Strategies = len(e.registry.All())
	s.Positions = len(e.store.All())
	s.ServerTime = time.Now()
	return s
}
