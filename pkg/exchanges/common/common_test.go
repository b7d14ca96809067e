package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWeightLimiterUsage(t *testing.T) {
	l := NewWeightLimiter(100, time.Minute, 1000, 10, zap.NewNop())
	if l.Saturated() {
		t.Fatal("fresh limiter saturated")
	}
	l.Observe("91")
	if used, limit := l.Usage(); used != 91 || limit != 100 {
		t.Fatalf("usage = %d/%d", used, limit)
	}
	if !l.Saturated() {
		t.Fatal("expected saturation at 91/100")
	}
	l.Observe("garbage")
	if used, _ := l.Usage(); used != 91 {
		t.Fatalf("bad header changed usage to %d", used)
	}
}

func TestWeightLimiterWindowExpires(t *testing.T) {
	l := NewWeightLimiter(100, 20*time.Millisecond, 1000, 10, zap.NewNop())
	l.Observe("99")
	time.Sleep(30 * time.Millisecond)
	if used, _ := l.Usage(); used != 0 {
		t.Fatalf("usage after window = %d", used)
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestWeightLimiterWaitHonoursContext(t *testing.T) {
	l := NewWeightLimiter(100, time.Hour, 1000, 10, zap.NewNop())
	l.Observe("99")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestTimeSyncOffset(t *testing.T) {
	ts := NewTimeSync(func(context.Context) (int64, error) {
		return time.Now().Add(5 * time.Second).UnixMilli(), nil
	}, zap.NewNop())
	if ts.Synced() {
		t.Fatal("synced before first Sync")
	}
	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !ts.Synced() || ts.RoundTrip() < 0 {
		t.Fatal("sync not recorded")
	}
	if off := ts.Offset(); off < 4900 || off > 5100 {
		t.Fatalf("offset=%d, expected about 5000", off)
	}
}

func TestExchangeErrorWrapping(t *testing.T) {
	base := errors.New("connection reset")
	err := Wrap("submit order", base)
	if !IsExchangeError(err) || !errors.Is(err, base) {
		t.Fatalf("Wrap lost identity: %v", err)
	}
	if Wrap("x", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
	if again := Wrap("y", err); again != err {
		t.Fatalf("double wrap")
	}
	coded := &ExchangeError{Op: "order", Status: 400, Code: -2019, Msg: "Margin is insufficient."}
	if coded.Error() != "exchange order: status 400 code -2019: Margin is insufficient." {
		t.Fatalf("Error()=%q", coded.Error())
	}
}

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		in       string
		want     OrderStatus
		terminal bool
	}{
		{"NEW", StatusNew, false},
		{"PARTIALLY_FILLED", StatusPartial, false},
		{"FILLED", StatusFilled, true},
		{"EXPIRED_IN_MATCH", StatusExpired, true},
		{"REJECTED", StatusRejected, true},
		{"??", StatusUnknown, false},
	}
	for _, tt := range tests {
		got := ParseOrderStatus(tt.in)
		if got != tt.want || got.Terminal() != tt.terminal {
			t.Errorf("ParseOrderStatus(%q) = %s terminal=%v", tt.in, got, got.Terminal())
		}
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatal("Opposite mismatch")
	}
}

func TestTimeSyncKeepsOffsetOnFailure(t *testing.T) {
	calls := 0
	ts := NewTimeSync(func(context.Context) (int64, error) {
		calls++
		if calls > 1 {
			return 0, errors.New("unreachable")
		}
		return time.Now().Add(-2 * time.Second).UnixMilli(), nil
	}, zap.NewNop())
	if err := ts.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := ts.Offset()
	if err := ts.Sync(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if ts.Offset() != before {
		t.Fatalf("offset changed after failed sync: %d -> %d", before, ts.Offset())
	}
}
