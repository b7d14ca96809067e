package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
	"hammer-trader/internal/lock"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
)

// openPosition stores a position for spec with entry 100, amount 1 and
// the given unscaled tail, optionally confirming it.
func openPosition(t *testing.T, h *harness, spec strategy.Spec, side domain.Side, tail, scale string, synced bool) state.Position {
	t.Helper()
	if _, err := h.ledger.Withdraw(d("100"), "USDT"); err != nil {
		t.Fatal(err)
	}
	p, err := h.store.Open(context.Background(), state.Position{
		Key:        state.Key{Symbol: "BTCUSDT", Side: side},
		Asset:      "USDT",
		EntryPrice: d("100"),
		Amount:     d("1"),
		Margin:     d("100"),
		Reference: domain.Reference{
			TailLength: d(tail).Mul(d(scale)),
			Scale:      d(scale),
		},
	}, spec)
	if err != nil {
		t.Fatal(err)
	}
	if synced {
		p, err = h.store.MarkSynced(context.Background(), p.Key, domain.Fill{Price: d("100"), Amount: d("1"), Time: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func TestThresholdCheck(t *testing.T) {
	th := Thresholds{Entry: d("100"), StopLoss: d("10"), TakeProfit: d("10")}
	tests := []struct {
		side   domain.Side
		last   string
		reason state.CloseReason
		hit    bool
	}{
		{domain.SideLong, "89", state.ReasonStopLoss, true},
		{domain.SideLong, "90", "", false},
		{domain.SideLong, "110", "", false},
		{domain.SideLong, "111", state.ReasonTakeProfit, true},
		{domain.SideShort, "111", state.ReasonStopLoss, true},
		{domain.SideShort, "110", "", false},
		{domain.SideShort, "90", "", false},
		{domain.SideShort, "89", state.ReasonTakeProfit, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.side)+"@"+tt.last, func(t *testing.T) {
			reason, hit := th.Check(tt.side, d(tt.last))
			if hit != tt.hit || reason != tt.reason {
				t.Fatalf("got %s/%v want %s/%v", reason, hit, tt.reason, tt.hit)
			}
		})
	}
}

func TestCloseOnMarkPrice(t *testing.T) {
	tests := []struct {
		name   string
		side   domain.Side
		params map[string]decimal.Decimal
		last   string
		want   Outcome
		reason state.CloseReason
	}{
		{name: "long stop loss", side: domain.SideLong, last: "89", want: OutcomeClosed, reason: state.ReasonStopLoss},
		{name: "long take profit", side: domain.SideLong, last: "111", want: OutcomeClosed, reason: state.ReasonTakeProfit},
		{name: "long hold", side: domain.SideLong, last: "105", want: OutcomeHeld},
		{name: "short stop loss", side: domain.SideShort, last: "111", want: OutcomeClosed, reason: state.ReasonStopLoss},
		{name: "short take profit", side: domain.SideShort, last: "89", want: OutcomeClosed, reason: state.ReasonTakeProfit},
		{
			name:   "wider stop",
			side:   domain.SideLong,
			params: map[string]decimal.Decimal{strategy.ParamStopLossFactor: d("2")},
			last:   "85",
			want:   OutcomeHeld,
		},
		{
			name:   "take profit scales with factor",
			side:   domain.SideLong,
			params: map[string]decimal.Decimal{strategy.ParamTakeProfitFactor: d("2")},
			last:   "111",
			want:   OutcomeHeld,
		},
		{
			name:   "take profit beyond scaled target",
			side:   domain.SideLong,
			params: map[string]decimal.Decimal{strategy.ParamTakeProfitFactor: d("2")},
			last:   "121",
			want:   OutcomeClosed,
			reason: state.ReasonTakeProfit,
		},
		{
			name:   "short take profit scales with factor",
			side:   domain.SideShort,
			params: map[string]decimal.Decimal{strategy.ParamTakeProfitFactor: d("0.5")},
			last:   "94",
			want:   OutcomeClosed,
			reason: state.ReasonTakeProfit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec("s1", TypeHammer, tt.params)
			h := newHarness(t, "1000", spec)
			openPosition(t, h, spec, tt.side, "10", "1", true)
			e := NewCloseEngine(testPolicy(TypeHammer), h.deps, zap.NewNop())

			err := e.HandleMarkPrice(context.Background(), events.MarkPriceRefreshEvent{MarkPrice: domain.MarkPrice{Symbol: "BTCUSDT", Price: d(tt.last)}})
			if err != nil {
				t.Fatalf("HandleMarkPrice: %v", err)
			}
			if len(h.outcomes.got) != 1 || h.outcomes.got[0] != tt.want {
				t.Fatalf("outcomes=%v want %s", h.outcomes.got, tt.want)
			}
			_, open := h.store.Get(state.Key{Symbol: "BTCUSDT", Side: tt.side})
			if open == (tt.want == OutcomeClosed) {
				t.Fatalf("position open=%v after %s", open, tt.want)
			}
			if tt.want == OutcomeClosed && len(h.exchange.closed) != 1 {
				t.Fatal("exchange close not called")
			}
			if h.locks.Len() != 0 {
				t.Fatal("close lock leaked")
			}
		})
	}
}

func TestCloseSettlesLedger(t *testing.T) {
	spec := testSpec("s1", TypeHammer, nil)
	h := newHarness(t, "1000", spec)
	openPosition(t, h, spec, domain.SideLong, "10", "1", true)
	e := NewCloseEngine(testPolicy(TypeHammer), h.deps, zap.NewNop())

	out, err := e.Evaluate(context.Background(), spec, state.Key{Symbol: "BTCUSDT", Side: domain.SideLong}, d("111"))
	if err != nil || out != OutcomeClosed {
		t.Fatalf("outcome=%s err=%v", out, err)
	}
	// margin 100 back plus pnl 11 minus exit fee 111*0.0004
	acc, _ := h.ledger.Get("USDT")
	if !acc.Available.Equal(d("1010.9556")) || !acc.Unavailable.IsZero() {
		t.Fatalf("ledger=%+v", acc)
	}
}

func TestUnsyncedPositionIsInvisible(t *testing.T) {
	spec := testSpec("s1", TypeHammer, nil)
	h := newHarness(t, "1000", spec)
	openPosition(t, h, spec, domain.SideLong, "10", "1", false)
	e := NewCloseEngine(testPolicy(TypeHammer), h.deps, zap.NewNop())

	if err := e.HandleMarkPrice(context.Background(), events.MarkPriceRefreshEvent{MarkPrice: domain.MarkPrice{Symbol: "BTCUSDT", Price: d("50")}}); err != nil {
		t.Fatal(err)
	}
	if len(h.exchange.closed) != 0 || len(h.store.All()) != 1 {
		t.Fatal("unsynced position was closed")
	}
	out, _ := e.Evaluate(context.Background(), spec, state.Key{Symbol: "BTCUSDT", Side: domain.SideLong}, d("50"))
	if out != OutcomeNoPosition {
		t.Fatalf("outcome=%s", out)
	}
}

func TestCloseExchangeFailureKeepsPosition(t *testing.T) {
	spec := testSpec("s1", TypeHammer, nil)
	h := newHarness(t, "1000", spec)
	openPosition(t, h, spec, domain.SideLong, "10", "1", true)
	h.exchange.closeErr = errors.New("timeout")
	e := NewCloseEngine(testPolicy(TypeHammer), h.deps, zap.NewNop())

	out, err := e.Evaluate(context.Background(), spec, state.Key{Symbol: "BTCUSDT", Side: domain.SideLong}, d("50"))
	if err == nil || out != OutcomeFailed {
		t.Fatalf("outcome=%s err=%v", out, err)
	}
	p, ok := h.store.Get(state.Key{Symbol: "BTCUSDT", Side: domain.SideLong})
	if !ok || !p.IsSynced() {
		t.Fatal("position should stay open and synced")
	}
	acc, _ := h.ledger.Get("USDT")
	if !acc.Unavailable.Equal(d("100")) {
		t.Fatalf("ledger settled despite failure: %+v", acc)
	}
	if h.locks.Len() != 0 {
		t.Fatal("close lock leaked")
	}
}

func TestTailBasis(t *testing.T) {
	tests := []struct {
		basis TailBasis
		want  Outcome
	}{
		{TailUnscaled, OutcomeClosed},
		{TailLegacyMixed, OutcomeHeld},
	}
	for _, tt := range tests {
		t.Run(string(tt.basis), func(t *testing.T) {
			spec := testSpec("s1", TypeHammer, nil)
			h := newHarness(t, "1000", spec)
			openPosition(t, h, spec, domain.SideLong, "10", "10", true)
			policy := testPolicy(TypeHammer)
			policy.TailBasis = tt.basis
			e := NewCloseEngine(policy, h.deps, zap.NewNop())

			out, err := e.Evaluate(context.Background(), spec, state.Key{Symbol: "BTCUSDT", Side: domain.SideLong}, d("120"))
			if err != nil || out != tt.want {
				t.Fatalf("outcome=%s err=%v want %s", out, err, tt.want)
			}
		})
	}
}

func TestHandlePositionSynced(t *testing.T) {
	spec := testSpec("s1", TypeHammer, nil)
	h := newHarness(t, "1000", spec)
	p := openPosition(t, h, spec, domain.SideShort, "10", "1", true)
	h.exchange.marks["BTCUSDT"] = d("80")

	otherType := NewCloseEngine(testPolicy(TypeHammerMin), h.deps, zap.NewNop())
	if err := otherType.HandlePositionSynced(context.Background(), events.PositionSyncedEvent{Position: p}); err != nil {
		t.Fatal(err)
	}
	if len(h.exchange.closed) != 0 {
		t.Fatal("engine of another type closed the position")
	}

	e := NewCloseEngine(testPolicy(TypeHammer), h.deps, zap.NewNop())
	if err := e.HandlePositionSynced(context.Background(), events.PositionSyncedEvent{Position: p}); err != nil {
		t.Fatal(err)
	}
	if len(h.exchange.closed) != 1 {
		t.Fatal("synced position past take profit was not closed")
	}
}

func TestCloseManual(t *testing.T) {
	spec := testSpec("s1", TypeHammer, nil)
	h := newHarness(t, "1000", spec)
	e := NewCloseEngine(testPolicy(TypeHammer), h.deps, zap.NewNop())
	key := state.Key{Symbol: "BTCUSDT", Side: domain.SideLong}

	if err := e.CloseManual(context.Background(), spec, key, d("100")); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	openPosition(t, h, spec, domain.SideLong, "10", "1", false)
	if err := e.CloseManual(context.Background(), spec, key, d("100")); !errors.Is(err, ErrNotSynced) {
		t.Fatalf("expected not synced, got %v", err)
	}
	if _, err := h.store.MarkSynced(context.Background(), key, domain.Fill{Price: d("100"), Amount: d("1")}); err != nil {
		t.Fatal(err)
	}

	h.locks.TryAcquire(spec.Key, lock.UsageClose)
	if err := e.CloseManual(context.Background(), spec, key, d("100")); err == nil {
		t.Fatal("expected busy error")
	}
	h.locks.Release(spec.Key, lock.UsageClose)

	if err := e.CloseManual(context.Background(), spec, key, d("101")); err != nil {
		t.Fatalf("CloseManual: %v", err)
	}
	if _, ok := h.store.Get(key); ok {
		t.Fatal("position still open")
	}
	if h.locks.Len() != 0 {
		t.Fatal("close lock leaked")
	}
}
