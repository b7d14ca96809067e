package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const klineMsg = `{"e":"kline","E":1700000000100,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m","o":"100","c":"99","h":"110","l":"99","v":"12.5","n":321,"x":false}}`

func TestParseKlineMessage(t *testing.T) {
	k, err := parseKlineMessage([]byte(klineMsg))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if k.Symbol != "BTCUSDT" || k.OpenTime != 1700000000000 || !k.High.Equal(decimal.NewFromInt(110)) || k.NumberOfTrades != 321 {
		t.Fatalf("kline=%+v", k)
	}
	if _, err := parseKlineMessage([]byte(`{"result":null,"id":1}`)); err == nil {
		t.Fatalf("expected error for non-kline message")
	}
}

func TestParseMarkPriceMessage(t *testing.T) {
	m, err := parseMarkPriceMessage([]byte(`{"e":"markPriceUpdate","E":1562305380000,"s":"BTCUSDT","p":"11794.15000000"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !m.MarkPrice.Equal(decimal.RequireFromString("11794.15")) || m.EventTime != 1562305380000 {
		t.Fatalf("update=%+v", m)
	}
}

func TestSubscribeKlinesOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/btcusdt@kline_1m") {
			t.Errorf("path=%s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(klineMsg))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewStreamClient(false, zap.NewNop())
	c.StreamURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, stop, err := c.SubscribeKlines(ctx, "BTCUSDT", "1m")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	select {
	case k := <-ch:
		if k.Symbol != "BTCUSDT" {
			t.Fatalf("kline=%+v", k)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no kline received")
	}
}
