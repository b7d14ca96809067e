package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StreamClient manages streaming from Binance USDT-M futures public
// websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
	log       *zap.Logger
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, log *zap.Logger) *StreamClient {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
		log:       log,
	}
}

// SubscribeKlines listens to the kline stream of symbol.
// It returns the channel and a stop function.
func (c *StreamClient) SubscribeKlines(ctx context.Context, symbol, interval string) (<-chan Kline, func(), error) {
	// Binance requires lowercase symbols for WebSocket streams
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
	return subscribe(ctx, c, stream, parseKlineMessage)
}

// SubscribeMarkPrice listens to the 1s mark price stream of symbol.
func (c *StreamClient) SubscribeMarkPrice(ctx context.Context, symbol string) (<-chan MarkPriceUpdate, func(), error) {
	stream := fmt.Sprintf("%s@markPrice@1s", strings.ToLower(symbol))
	return subscribe(ctx, c, stream, parseMarkPriceMessage)
}

func subscribe[T any](ctx context.Context, c *StreamClient, stream string, parse func([]byte) (T, error)) (<-chan T, func(), error) {
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws %s: %w", stream, err)
	}

	out := make(chan T, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil ||
					websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				c.log.Warn("binance ws read error", zap.String("stream", stream), zap.Error(err))
				return
			}

			parsed, err := parse(msg)
			if err != nil {
				c.log.Warn("binance ws parse error", zap.String("stream", stream), zap.Error(err))
				continue
			}
			select {
			case out <- parsed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// parseKlineMessage decodes only the fields we need.
func parseKlineMessage(msg []byte) (Kline, error) {
	var raw struct {
		Data struct {
			StartTime int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Symbol    string `json:"s"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			Close     string `json:"c"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Volume    string `json:"v"`
			Trades    int64  `json:"n"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Kline{}, err
	}
	if raw.Data.Symbol == "" {
		return Kline{}, fmt.Errorf("not a kline message")
	}
	k := Kline{
		Symbol:         raw.Data.Symbol,
		Interval:       raw.Data.Interval,
		OpenTime:       raw.Data.StartTime,
		CloseTime:      raw.Data.CloseTime,
		NumberOfTrades: raw.Data.Trades,
	}
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&k.Open, raw.Data.Open},
		{&k.High, raw.Data.High},
		{&k.Low, raw.Data.Low},
		{&k.Close, raw.Data.Close},
		{&k.Volume, raw.Data.Volume},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return Kline{}, fmt.Errorf("kline %s: %w", raw.Data.Symbol, err)
		}
	}
	return k, nil
}

func parseMarkPriceMessage(msg []byte) (MarkPriceUpdate, error) {
	var raw struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return MarkPriceUpdate{}, err
	}
	p, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return MarkPriceUpdate{}, fmt.Errorf("mark price %s: %w", raw.Symbol, err)
	}
	return MarkPriceUpdate{Symbol: raw.Symbol, MarkPrice: p, EventTime: raw.EventTime}, nil
}
