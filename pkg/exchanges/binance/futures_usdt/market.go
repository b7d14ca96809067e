package futures_usdt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hammer-trader/pkg/exchanges/common"
)

// MarkPrice fetches the current mark price of symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (PremiumIndex, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/premiumIndex", url.Values{"symbol": {symbol}})
	if err != nil {
		return PremiumIndex{}, err
	}
	var raw struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
		Time      int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return PremiumIndex{}, common.Wrap("mark price", err)
	}
	return PremiumIndex{
		Symbol:    raw.Symbol,
		MarkPrice: parseDecimal(raw.MarkPrice),
		Time:      raw.Time,
	}, nil
}

// Klines fetches the latest limit klines for symbol.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, common.Wrap("klines", err)
	}
	out := make([]Kline, 0, len(rows))
	for _, r := range rows {
		k, err := parseKlineRow(symbol, interval, r)
		if err != nil {
			return nil, common.Wrap("klines", err)
		}
		out = append(out, k)
	}
	return out, nil
}

func parseKlineRow(symbol, interval string, r []json.RawMessage) (Kline, error) {
	if len(r) < 9 {
		return Kline{}, fmt.Errorf("kline row has %d fields", len(r))
	}
	var (
		o, h, l, cl, v      string
		openTime, closeTime int64
		trades              int64
	)
	if err := json.Unmarshal(r[0], &openTime); err != nil {
		return Kline{}, err
	}
	for i, dst := range []*string{&o, &h, &l, &cl, &v} {
		if err := json.Unmarshal(r[i+1], dst); err != nil {
			return Kline{}, err
		}
	}
	if err := json.Unmarshal(r[6], &closeTime); err != nil {
		return Kline{}, err
	}
	if err := json.Unmarshal(r[8], &trades); err != nil {
		return Kline{}, err
	}
	return Kline{
		Symbol:         symbol,
		Interval:       interval,
		OpenTime:       openTime,
		CloseTime:      closeTime,
		Open:           parseDecimal(o),
		High:           parseDecimal(h),
		Low:            parseDecimal(l),
		Close:          parseDecimal(cl),
		Volume:         parseDecimal(v),
		NumberOfTrades: trades,
	}, nil
}

// exchangeInfoCache holds trading rules for every symbol.
type exchangeInfoCache struct {
	mu        sync.RWMutex
	symbols   map[string]SymbolRules
	fetchedAt time.Time
}

var infoTTL = time.Hour

// SymbolRules returns the trading rules of symbol, fetching exchange info
// at most once per hour.
func (c *Client) SymbolRules(ctx context.Context, symbol string) (SymbolRules, error) {
	c.info.mu.RLock()
	rules, ok := c.info.symbols[symbol]
	fresh := time.Since(c.info.fetchedAt) < infoTTL
	c.info.mu.RUnlock()
	if ok && fresh {
		return rules, nil
	}
	if err := c.refreshExchangeInfo(ctx); err != nil {
		return SymbolRules{}, err
	}
	c.info.mu.RLock()
	defer c.info.mu.RUnlock()
	rules, ok = c.info.symbols[symbol]
	if !ok {
		return SymbolRules{}, &common.ExchangeError{Op: "exchange info", Msg: "unknown symbol " + symbol}
	}
	return rules, nil
}

func (c *Client) refreshExchangeInfo(ctx context.Context) error {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}
	rules, err := parseExchangeInfo(body)
	if err != nil {
		return common.Wrap("exchange info", err)
	}
	c.info.mu.Lock()
	c.info.symbols = rules
	c.info.fetchedAt = time.Now()
	c.info.mu.Unlock()
	return nil
}

func parseExchangeInfo(body []byte) (map[string]SymbolRules, error) {
	var raw struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			PricePrecision    int32  `json:"pricePrecision"`
			QuantityPrecision int32  `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				MinPrice   string `json:"minPrice"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]SymbolRules, len(raw.Symbols))
	for _, s := range raw.Symbols {
		r := SymbolRules{
			Symbol:            s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				r.MinPrice = parseDecimal(f.MinPrice)
				r.TickSize = parseDecimal(f.TickSize)
			case "LOT_SIZE":
				r.StepSize = parseDecimal(f.StepSize)
			case "MIN_NOTIONAL":
				r.MinNotional = parseDecimal(f.Notional)
			}
		}
		out[s.Symbol] = r
	}
	return out, nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
