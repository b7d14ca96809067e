// Package market turns exchange market data into engine events.
package market

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
	stream "hammer-trader/pkg/market/binance"
)

// Publisher delivers engine events.
type Publisher interface {
	Publish(e events.Event) bool
}

// Streamer is the websocket source used by Feed.
type Streamer interface {
	SubscribeKlines(ctx context.Context, symbol, interval string) (<-chan stream.Kline, func(), error)
	SubscribeMarkPrice(ctx context.Context, symbol string) (<-chan stream.MarkPriceUpdate, func(), error)
}

// Feed streams klines and mark prices from Binance and publishes them to
// the event bus. Subscriptions are added on demand and shared between
// strategies.
type Feed struct {
	stream Streamer
	bus    Publisher
	prices *MarkPriceCache
	log    *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	active map[string]func()
}

// NewFeed creates a feed. prices receives every mark price update.
func NewFeed(s Streamer, bus Publisher, prices *MarkPriceCache, log *zap.Logger) *Feed {
	return &Feed{
		stream: s,
		bus:    bus,
		prices: prices,
		log:    log,
		active: make(map[string]func()),
	}
}

// Start binds the feed to ctx. Subscriptions end when ctx is done.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for k, stop := range f.active {
			stop()
			delete(f.active, k)
		}
	}()
}

// Watch makes sure candles for symbol/interval and the symbol's mark price
// are being streamed.
func (f *Feed) Watch(symbol string, interval domain.Interval) error {
	symbol = strings.ToUpper(symbol)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx == nil {
		f.ctx = context.Background()
	}

	klineKey := "kline:" + symbol + ":" + string(interval)
	if _, ok := f.active[klineKey]; !ok {
		ch, stop, err := f.stream.SubscribeKlines(f.ctx, symbol, string(interval))
		if err != nil {
			f.log.Error("kline subscribe failed", zap.String("symbol", symbol), zap.String("interval", string(interval)), zap.Error(err))
			return err
		}
		f.active[klineKey] = stop
		go f.pumpKlines(ch)
		f.log.Info("kline stream subscribed", zap.String("symbol", symbol), zap.String("interval", string(interval)))
	}

	markKey := "mark:" + symbol
	if _, ok := f.active[markKey]; !ok {
		ch, stop, err := f.stream.SubscribeMarkPrice(f.ctx, symbol)
		if err != nil {
			f.log.Error("mark price subscribe failed", zap.String("symbol", symbol), zap.Error(err))
			return err
		}
		f.active[markKey] = stop
		go f.pumpMarkPrices(ch)
	}
	return nil
}

// Subscriptions returns the number of active streams.
func (f *Feed) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func (f *Feed) pumpKlines(ch <-chan stream.Kline) {
	for k := range ch {
		if !f.bus.Publish(events.CandleStickEvent{Candle: CandleFromKline(k)}) {
			f.log.Warn("candle event dropped", zap.String("symbol", k.Symbol))
		}
	}
}

func (f *Feed) pumpMarkPrices(ch <-chan stream.MarkPriceUpdate) {
	for u := range ch {
		mp := MarkPriceFromUpdate(u)
		if f.prices != nil {
			f.prices.Set(mp)
		}
		f.bus.Publish(events.MarkPriceRefreshEvent{MarkPrice: mp})
	}
}
