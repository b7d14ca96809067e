package market

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
)

// MockFeed generates synthetic candles and mark prices for local
// development and dry-run without exchange connectivity.
type MockFeed struct {
	bus        Publisher
	prices     *MarkPriceCache
	startPrice decimal.Decimal
	step       float64
	tick       time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	symbols map[string]*mockSeries
}

type mockSeries struct {
	interval domain.Interval
	bar      time.Duration
	price    decimal.Decimal
	candle   domain.CandleStick
}

// NewMockFeed creates a mock feed. step is the maximum relative move per
// tick.
func NewMockFeed(bus Publisher, prices *MarkPriceCache, startPrice decimal.Decimal, step float64, tick time.Duration, log *zap.Logger) *MockFeed {
	if !startPrice.IsPositive() {
		startPrice = decimal.NewFromInt(100)
	}
	if step <= 0 {
		step = 0.002
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &MockFeed{
		bus:        bus,
		prices:     prices,
		startPrice: startPrice,
		step:       step,
		tick:       tick,
		log:        log,
		symbols:    make(map[string]*mockSeries),
	}
}

// Start runs the generator until ctx is done.
func (m *MockFeed) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	go func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.emit(now, rng)
			}
		}
	}()
	m.log.Info("mock feed started", zap.Duration("tick", m.tick))
}

// Watch adds symbol to the generated set.
func (m *MockFeed) Watch(symbol string, interval domain.Interval) error {
	bar, err := interval.Duration()
	if err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.symbols[symbol]; !ok {
		m.symbols[symbol] = &mockSeries{interval: interval, bar: bar, price: m.startPrice}
	}
	return nil
}

// Subscriptions returns the number of generated symbols.
func (m *MockFeed) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.symbols)
}

func (m *MockFeed) emit(now time.Time, rng *rand.Rand) {
	m.mu.Lock()
	var out []events.Event
	for sym, s := range m.symbols {
		move := (rng.Float64()*2 - 1) * m.step
		s.price = s.price.Mul(decimal.NewFromFloat(1 + move)).Round(4)
		if !s.price.IsPositive() {
			s.price = m.startPrice
		}
		s.candle = nextMockCandle(sym, s, now)
		mp := domain.MarkPrice{Symbol: sym, Price: s.price, Time: now}
		if m.prices != nil {
			m.prices.Set(mp)
		}
		out = append(out, events.CandleStickEvent{Candle: s.candle}, events.MarkPriceRefreshEvent{MarkPrice: mp})
	}
	m.mu.Unlock()

	for _, e := range out {
		m.bus.Publish(e)
	}
}

// nextMockCandle folds price into the current bar, starting a new bar
// when now crosses a bar boundary.
func nextMockCandle(sym string, s *mockSeries, now time.Time) domain.CandleStick {
	key := now.Truncate(s.bar).UnixMilli()
	c := s.candle
	if c.Key != key {
		open := s.price
		if !c.Close.IsZero() {
			open = c.Close
		}
		c = domain.CandleStick{
			Symbol:   sym,
			Interval: s.interval,
			Key:      key,
			Open:     open,
			High:     decimal.Max(open, s.price),
			Low:      decimal.Min(open, s.price),
		}
	}
	c.Close = s.price
	c.High = decimal.Max(c.High, s.price)
	c.Low = decimal.Min(c.Low, s.price)
	c.Volume = c.Volume.Add(decimal.NewFromInt(1))
	c.NumberOfTrades++
	return c
}
