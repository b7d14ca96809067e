package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
	stream "hammer-trader/pkg/market/binance"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(e events.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return true
}

func (b *recordingBus) count(kind events.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}

type fakeStreamer struct {
	mu     sync.Mutex
	klines map[string]chan stream.Kline
	marks  map[string]chan stream.MarkPriceUpdate
	calls  int
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{klines: map[string]chan stream.Kline{}, marks: map[string]chan stream.MarkPriceUpdate{}}
}

func (s *fakeStreamer) SubscribeKlines(_ context.Context, symbol, interval string) (<-chan stream.Kline, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	ch := make(chan stream.Kline, 4)
	s.klines[symbol+interval] = ch
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

func (s *fakeStreamer) SubscribeMarkPrice(_ context.Context, symbol string) (<-chan stream.MarkPriceUpdate, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	ch := make(chan stream.MarkPriceUpdate, 4)
	s.marks[symbol] = ch
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedWatchPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newFakeStreamer()
	bus := &recordingBus{}
	prices := NewMarkPriceCache()
	f := NewFeed(s, bus, prices, zap.NewNop())
	f.Start(ctx)

	if err := f.Watch("btcusdt", "1m"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := f.Watch("BTCUSDT", "1m"); err != nil {
		t.Fatalf("Watch again: %v", err)
	}
	if s.calls != 2 || f.Subscriptions() != 2 {
		t.Fatalf("expected one kline and one mark subscription, calls=%d active=%d", s.calls, f.Subscriptions())
	}

	s.klines["BTCUSDT1m"] <- stream.Kline{Symbol: "BTCUSDT", Interval: "1m", OpenTime: 60000, Close: decimal.NewFromInt(5)}
	s.marks["BTCUSDT"] <- stream.MarkPriceUpdate{Symbol: "BTCUSDT", MarkPrice: decimal.NewFromInt(7), EventTime: 1}

	waitFor(t, func() bool {
		return bus.count(events.KindCandleStick) == 1 && bus.count(events.KindMarkPrice) == 1
	})
	if p, ok := prices.Price("BTCUSDT"); !ok || !p.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("price cache not updated: %v %v", p, ok)
	}
}

func TestMarkPriceCacheKeepsNewest(t *testing.T) {
	c := NewMarkPriceCache()
	now := time.Now()
	c.Set(domain.MarkPrice{Symbol: "ETHUSDT", Price: decimal.NewFromInt(2), Time: now})
	c.Set(domain.MarkPrice{Symbol: "ETHUSDT", Price: decimal.NewFromInt(1), Time: now.Add(-time.Second)})
	if p, _ := c.Price("ETHUSDT"); !p.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("older update overwrote cache: %s", p)
	}
	if _, ok := c.Fresh("ETHUSDT", time.Minute); !ok {
		t.Fatal("expected fresh entry")
	}
	if _, ok := c.Fresh("XRPUSDT", time.Minute); ok {
		t.Fatal("unexpected entry")
	}
}

func TestCandleCache(t *testing.T) {
	c := NewCandleCache()
	a := domain.CandleStick{Symbol: "BTCUSDT", Key: 1}
	b := domain.CandleStick{Symbol: "BTCUSDT", Key: 2}

	if !c.Seed("s1", a) || c.Seed("s1", b) {
		t.Fatal("seed must only insert once")
	}
	prev, ok, stored := c.Advance("s1", b)
	if !ok || !stored || prev.Key != 1 {
		t.Fatalf("advance returned %+v %v %v", prev, ok, stored)
	}
	if _, _, stored := c.Advance("s1", a); stored {
		t.Fatal("older bar replaced a newer one")
	}
	if got, _ := c.Get("s1", "BTCUSDT"); got.Key != 2 {
		t.Fatalf("cached key = %d, want 2", got.Key)
	}
	update := domain.CandleStick{Symbol: "BTCUSDT", Key: 2, Close: decimal.NewFromInt(7)}
	if _, _, stored := c.Advance("s1", update); !stored {
		t.Fatal("update of the cached bar rejected")
	}
	c.Seed("s10", a)
	if n := c.Forget("s1"); n != 1 {
		t.Fatalf("forget removed %d entries", n)
	}
	if _, ok := c.Get("s10", "BTCUSDT"); !ok {
		t.Fatal("forget removed entries of another owner")
	}
}

func TestCachesAge(t *testing.T) {
	prices := NewMarkPriceCache()
	if prices.OldestAge() != 0 {
		t.Fatal("empty cache has an age")
	}
	prices.Set(domain.MarkPrice{Symbol: "BTCUSDT", Price: decimal.NewFromInt(1), Time: time.Now()})

	candles := NewCandleCache()
	candles.Seed("s1", domain.CandleStick{Symbol: "BTCUSDT", Key: 1})
	if n := candles.Prune(time.Hour); n != 0 {
		t.Fatalf("pruned %d fresh candles", n)
	}

	time.Sleep(5 * time.Millisecond)
	if prices.OldestAge() < 5*time.Millisecond {
		t.Fatalf("oldest age = %s", prices.OldestAge())
	}
	if n := candles.Prune(time.Millisecond); n != 1 || candles.Len() != 0 {
		t.Fatalf("pruned %d, left %d", n, candles.Len())
	}
}

func TestNextMockCandle(t *testing.T) {
	s := &mockSeries{interval: "1m", bar: time.Minute, price: decimal.NewFromInt(100)}
	t0 := time.UnixMilli(120000)

	s.candle = nextMockCandle("BTCUSDT", s, t0)
	s.price = decimal.NewFromInt(105)
	s.candle = nextMockCandle("BTCUSDT", s, t0.Add(10*time.Second))
	if !s.candle.High.Equal(decimal.NewFromInt(105)) || !s.candle.Low.Equal(decimal.NewFromInt(100)) || s.candle.Key != 120000 {
		t.Fatalf("unexpected bar %+v", s.candle)
	}

	s.price = decimal.NewFromInt(103)
	next := nextMockCandle("BTCUSDT", s, t0.Add(time.Minute))
	if next.Key != 180000 || !next.Open.Equal(decimal.NewFromInt(105)) || !next.Close.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("unexpected rollover %+v", next)
	}
}

func TestMockFeedEmits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := &recordingBus{}
	prices := NewMarkPriceCache()
	m := NewMockFeed(bus, prices, decimal.NewFromInt(100), 0.01, 10*time.Millisecond, zap.NewNop())
	if err := m.Watch("BTCUSDT", "1m"); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := m.Watch("BTCUSDT", "bogus"); err == nil {
		t.Fatal("expected error for unknown interval")
	}
	m.Start(ctx)
	waitFor(t, func() bool { return bus.count(events.KindCandleStick) >= 2 })
	if _, ok := prices.Get("BTCUSDT"); !ok {
		t.Fatal("mock feed did not update prices")
	}
}
