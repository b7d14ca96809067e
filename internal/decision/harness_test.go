package decision

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/balance"
	"hammer-trader/internal/domain"
	"hammer-trader/internal/lock"
	"hammer-trader/internal/market"
	"hammer-trader/internal/pattern"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSpecs struct {
	mu    sync.Mutex
	specs map[string]strategy.Spec
}

func (f *fakeSpecs) Get(key string) (strategy.Spec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.specs[key]
	return s, ok
}

func (f *fakeSpecs) ByType(typ string) []strategy.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []strategy.Spec
	for _, s := range f.specs {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

type fakeExchange struct {
	mu       sync.Mutex
	marks    map[string]decimal.Decimal
	inst     domain.Instrument
	candles  []domain.CandleStick
	openErr  error
	closeErr error
	opened   []state.Position
	closed   []state.Position
}

func (f *fakeExchange) OpenPosition(_ context.Context, p state.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, p)
	return nil
}

func (f *fakeExchange) ClosePosition(_ context.Context, p state.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, p)
	return nil
}

func (f *fakeExchange) MarkPrice(_ context.Context, symbol string) (domain.MarkPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.MarkPrice{Symbol: symbol, Price: f.marks[symbol], Time: time.Now()}, nil
}

func (f *fakeExchange) CandleSticks(context.Context, string, domain.Interval, int) ([]domain.CandleStick, error) {
	return f.candles, nil
}

func (f *fakeExchange) Instrument(_ context.Context, symbol string) (domain.Instrument, error) {
	in := f.inst
	in.Symbol = symbol
	return in, nil
}

type outcomeLog struct {
	mu  sync.Mutex
	got []Outcome
}

func (o *outcomeLog) RecordOutcome(_, _ string, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, out)
}

type harness struct {
	specs    *fakeSpecs
	locks    *lock.Coordinator
	ledger   *balance.Ledger
	store    *state.Store
	exchange *fakeExchange
	candles  *market.CandleCache
	outcomes *outcomeLog
	deps     Deps
}

func newHarness(t *testing.T, funds string, specs ...strategy.Spec) *harness {
	t.Helper()
	log := zap.NewNop()
	h := &harness{
		specs:    &fakeSpecs{specs: map[string]strategy.Spec{}},
		locks:    lock.NewCoordinator(),
		ledger:   balance.NewLedger(nil, 0, log, "USDT"),
		exchange: &fakeExchange{marks: map[string]decimal.Decimal{"BTCUSDT": d("100"), "ETHUSDT": d("100")}, inst: domain.Instrument{QuantityPrecision: 3, MinNotional: d("5")}},
		candles:  market.NewCandleCache(),
		outcomes: &outcomeLog{},
	}
	h.ledger.SetInitial("USDT", d(funds))
	h.store = state.NewStore(log, state.WithSettler(h.ledger, pattern.DefaultTakerFeeRate))
	for _, s := range specs {
		h.specs.specs[s.Key] = s
	}
	h.deps = Deps{
		Specs:     h.specs,
		Locks:     h.locks,
		Ledger:    h.ledger,
		Positions: h.store,
		Exchange:  h.exchange,
		Candles:   h.candles,
		Recorder:  h.outcomes,
	}
	return h
}

func testSpec(key, typ string, params map[string]decimal.Decimal, symbols ...string) strategy.Spec {
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT"}
	}
	return strategy.Spec{
		Key:            key,
		Type:           typ,
		Symbols:        symbols,
		Asset:          "USDT",
		AllocatedRatio: d("0.5"),
		Interval:       "1m",
		MaxPositions:   1,
		Parameters:     params,
		Status:         strategy.StatusService,
	}
}

func bar(key int64, o, h, l, c string) domain.CandleStick {
	return domain.CandleStick{Symbol: "BTCUSDT", Interval: "1m", Key: key, Open: d(o), High: d(h), Low: d(l), Close: d(c)}
}

func testPolicy(typ string) Policy {
	for _, p := range DefaultPolicies(pattern.DefaultTakerFeeRate, time.Second, TailUnscaled) {
		if p.StrategyType == typ {
			return p
		}
	}
	panic("unknown type " + typ)
}

func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	if n := h.locks.Len(); n != 0 {
		t.Fatalf("%d locks still held", n)
	}
	if !h.ledger.TryAcquire() {
		t.Fatal("ledger gate still held")
	}
	h.ledger.Release()
}
