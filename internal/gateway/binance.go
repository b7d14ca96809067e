package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/balance"
	"hammer-trader/internal/domain"
	"hammer-trader/internal/market"
	"hammer-trader/internal/reconciliation"
	exfutusdt "hammer-trader/pkg/exchanges/binance/futures_usdt"
	exchange "hammer-trader/pkg/exchanges/common"
)

// FuturesClient is the subset of the USDT-M REST client used here.
type FuturesClient interface {
	MarkPrice(ctx context.Context, symbol string) (exfutusdt.PremiumIndex, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]exfutusdt.Kline, error)
	SymbolRules(ctx context.Context, symbol string) (exfutusdt.SymbolRules, error)
	GetBalance(ctx context.Context) ([]exfutusdt.FuturesBalance, error)
	GetPositions(ctx context.Context, symbol string) ([]exfutusdt.PositionRisk, error)
}

// BinanceMarket serves market data, account snapshots and positions from
// Binance USDT-M futures. Mark prices come from the stream cache while it
// is fresh.
type BinanceMarket struct {
	client FuturesClient
	prices *market.MarkPriceCache
	maxAge time.Duration
	log    *zap.Logger
}

// NewBinanceMarket creates the adapter. prices may be nil.
func NewBinanceMarket(client FuturesClient, prices *market.MarkPriceCache, maxAge time.Duration, log *zap.Logger) *BinanceMarket {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &BinanceMarket{client: client, prices: prices, maxAge: maxAge, log: log}
}

// NewFuturesClient builds the REST client from credentials.
func NewFuturesClient(apiKey, apiSecret string, testnet bool, log *zap.Logger) *exfutusdt.Client {
	return exfutusdt.NewClient(exfutusdt.Config{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Testnet:   testnet,
	}, log)
}

func (b *BinanceMarket) MarkPrice(ctx context.Context, symbol string) (domain.MarkPrice, error) {
	if b.prices != nil {
		if mp, ok := b.prices.Fresh(symbol, b.maxAge); ok {
			return mp, nil
		}
	}
	idx, err := b.client.MarkPrice(ctx, symbol)
	if err != nil {
		return domain.MarkPrice{}, exchange.Wrap("mark price", err)
	}
	mp := domain.MarkPrice{Symbol: idx.Symbol, Price: idx.MarkPrice, Time: time.UnixMilli(idx.Time)}
	if b.prices != nil {
		b.prices.Set(mp)
	}
	return mp, nil
}

func (b *BinanceMarket) CandleSticks(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.CandleStick, error) {
	rows, err := b.client.Klines(ctx, symbol, string(interval), limit)
	if err != nil {
		return nil, exchange.Wrap("candlesticks", err)
	}
	out := make([]domain.CandleStick, 0, len(rows))
	for _, k := range rows {
		out = append(out, domain.CandleStick{
			Symbol:         k.Symbol,
			Interval:       domain.Interval(k.Interval),
			Key:            k.OpenTime,
			Open:           k.Open,
			High:           k.High,
			Low:            k.Low,
			Close:          k.Close,
			Volume:         k.Volume,
			NumberOfTrades: k.NumberOfTrades,
		})
	}
	return out, nil
}

func (b *BinanceMarket) Instrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	r, err := b.client.SymbolRules(ctx, symbol)
	if err != nil {
		return domain.Instrument{}, exchange.Wrap("instrument", err)
	}
	return domain.Instrument{
		Symbol:            r.Symbol,
		QuantityPrecision: r.QuantityPrecision,
		PricePrecision:    r.PricePrecision,
		MinNotional:       r.MinNotional,
		TickSize:          r.TickSize,
		MinPrice:          r.MinPrice,
	}, nil
}

// Account implements balance.AccountSource.
func (b *BinanceMarket) Account(ctx context.Context, asset string) (balance.Snapshot, error) {
	rows, err := b.client.GetBalance(ctx)
	if err != nil {
		return balance.Snapshot{}, exchange.Wrap("account", err)
	}
	for _, r := range rows {
		if strings.EqualFold(r.Asset, asset) {
			return balance.Snapshot{Asset: strings.ToUpper(asset), Total: r.Total(), Available: r.Available()}, nil
		}
	}
	return balance.Snapshot{}, fmt.Errorf("%w: %s", balance.ErrUnknownAsset, asset)
}

// Positions implements reconciliation.ExchangeClient. Flat rows are
// skipped.
func (b *BinanceMarket) Positions(ctx context.Context) ([]reconciliation.Position, error) {
	rows, err := b.client.GetPositions(ctx, "")
	if err != nil {
		return nil, exchange.Wrap("positions", err)
	}
	out := make([]reconciliation.Position, 0, len(rows))
	for _, r := range rows {
		amt := r.Amount()
		if amt.IsZero() {
			continue
		}
		side := domain.SideLong
		switch strings.ToUpper(r.PositionSide) {
		case "SHORT":
			side = domain.SideShort
		case "LONG":
		default:
			if amt.IsNegative() {
				side = domain.SideShort
			}
		}
		out = append(out, reconciliation.Position{
			Symbol:     r.Symbol,
			Side:       side,
			Quantity:   amt.Abs(),
			EntryPrice: r.Entry(),
		})
	}
	return out, nil
}

// SimulatedMarket serves market data without exchange connectivity.
// Prices come from the cache fed by the mock feed; instruments use fixed
// rules.
type SimulatedMarket struct {
	prices      *market.MarkPriceCache
	instruments map[string]domain.Instrument
	fallback    domain.Instrument
}

// NewSimulatedMarket creates a simulated source. instruments overrides
// the default rules per symbol.
func NewSimulatedMarket(prices *market.MarkPriceCache, instruments map[string]domain.Instrument) *SimulatedMarket {
	return &SimulatedMarket{
		prices:      prices,
		instruments: instruments,
		fallback: domain.Instrument{
			QuantityPrecision: 3,
			PricePrecision:    2,
			MinNotional:       decimal.NewFromInt(5),
			TickSize:          decimal.RequireFromString("0.01"),
			MinPrice:          decimal.RequireFromString("0.01"),
		},
	}
}

func (s *SimulatedMarket) MarkPrice(_ context.Context, symbol string) (domain.MarkPrice, error) {
	mp, ok := s.prices.Get(symbol)
	if !ok {
		return domain.MarkPrice{}, &exchange.ExchangeError{Op: "mark price", Msg: "no simulated price for " + symbol}
	}
	return mp, nil
}

// CandleSticks returns no history; the first streamed candle seeds the
// cache instead.
func (s *SimulatedMarket) CandleSticks(context.Context, string, domain.Interval, int) ([]domain.CandleStick, error) {
	return nil, nil
}

func (s *SimulatedMarket) Instrument(_ context.Context, symbol string) (domain.Instrument, error) {
	if in, ok := s.instruments[symbol]; ok {
		return in, nil
	}
	in := s.fallback
	in.Symbol = symbol
	return in, nil
}
