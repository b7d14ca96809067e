package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/events"
)

func TestHandleOrderTradeUpdate(t *testing.T) {
	tests := []struct {
		name       string
		msg        string
		wantEvents int
	}{
		{
			name:       "filled opening order",
			msg:        `{"e":"ORDER_TRADE_UPDATE","E":1700000000000,"o":{"s":"BTCUSDT","c":"pos-1","S":"BUY","x":"TRADE","X":"FILLED","i":1,"ap":"101.5","L":"101.5","z":"0.01","T":1700000000001,"R":false}}`,
			wantEvents: 1,
		},
		{
			name:       "partial fill",
			msg:        `{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":"BTCUSDT","c":"pos-1","x":"TRADE","X":"PARTIALLY_FILLED","ap":"101","z":"0.005","T":1}}`,
			wantEvents: 0,
		},
		{
			name:       "reduce only close",
			msg:        `{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":"BTCUSDT","c":"x","x":"TRADE","X":"FILLED","ap":"101","z":"0.01","T":1,"R":true}}`,
			wantEvents: 0,
		},
		{
			name:       "new order ack",
			msg:        `{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":"BTCUSDT","c":"pos-1","x":"NEW","X":"NEW"}}`,
			wantEvents: 0,
		},
		{
			name:       "other event",
			msg:        `{"e":"ACCOUNT_UPDATE","E":1}`,
			wantEvents: 0,
		},
		{
			name:       "garbage",
			msg:        `not json`,
			wantEvents: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &fakeBus{}
			s := NewFuturesUserStream(nil, nil, bus, true, zap.NewNop())
			s.handleMessage(context.Background(), []byte(tt.msg))
			if len(bus.events) != tt.wantEvents {
				t.Fatalf("expected %d events, got %d", tt.wantEvents, len(bus.events))
			}
			if tt.wantEvents == 0 {
				return
			}
			ev := bus.events[0].(events.OrderFilledEvent)
			if ev.PositionID != "pos-1" || ev.Symbol != "BTCUSDT" {
				t.Fatalf("unexpected event %+v", ev)
			}
			if !ev.Fill.Price.Equal(decimal.RequireFromString("101.5")) || !ev.Fill.Amount.Equal(decimal.RequireFromString("0.01")) {
				t.Fatalf("unexpected fill %+v", ev.Fill)
			}
			if ev.Fill.Time.UnixMilli() != 1700000000001 {
				t.Fatalf("unexpected fill time %v", ev.Fill.Time)
			}
		})
	}
}
