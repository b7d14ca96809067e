package pattern

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"hammer-trader/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func candle(o, h, l, c string) domain.CandleStick {
	return domain.CandleStick{
		Symbol:   "BTCUSDT",
		Interval: "1m",
		Key:      1_700_000_000_000,
		Open:     d(o),
		High:     d(h),
		Low:      d(l),
		Close:    d(c),
	}
}

// noFloor disables the thin-body filter so pure tail geometry can be tested.
func noFloor() Params {
	p := DefaultParams()
	p.BodyRatioFloor = decimal.Zero
	return p
}

func TestAnalyzeTopTailShort(t *testing.T) {
	r := Analyze(candle("100", "110", "99", "99"), noFloor())
	m, ok := r.(Matching)
	if !ok {
		t.Fatalf("report=%#v, expected Matching", r)
	}
	if m.Side != domain.SideShort {
		t.Fatalf("Side=%s, expected SHORT", m.Side)
	}
	if !m.Reference.TailLength.Equal(d("10")) {
		t.Fatalf("TailLength=%s, expected 10", m.Reference.TailLength)
	}
	if !m.Reference.HammerRatio.Equal(d("10")) {
		t.Fatalf("HammerRatio=%s, expected 10", m.Reference.HammerRatio)
	}
	if m.Reference.Pattern != domain.PatternTopTail {
		t.Fatalf("Pattern=%s", m.Reference.Pattern)
	}
}

func TestAnalyzeDefaultFloorRejectsThinBody(t *testing.T) {
	// body 1 over range 11 is below the 0.15 floor.
	r := Analyze(candle("100", "110", "99", "99"), DefaultParams())
	nm, ok := r.(NonMatching)
	if !ok || nm.Reason != ReasonThinBody {
		t.Fatalf("report=%#v, expected thin body rejection", r)
	}
}

func TestAnalyzeClassification(t *testing.T) {
	tests := []struct {
		name    string
		c       domain.CandleStick
		side    domain.Side
		tail    string
		pattern domain.TailPattern
		reason  string
	}{
		{name: "doji", c: candle("100", "105", "95", "100"), reason: ReasonDoji},
		{name: "bottom tail long", c: candle("100", "104", "88", "104"), side: domain.SideLong, tail: "12", pattern: domain.PatternBottomTail},
		{name: "middle tail top wins", c: candle("100", "115", "98", "104"), side: domain.SideShort, tail: "11", pattern: domain.PatternMiddleTail},
		{name: "middle tail bottom wins", c: candle("104", "106", "90", "100"), side: domain.SideLong, tail: "10", pattern: domain.PatternMiddleTail},
		{name: "middle tail tie is long", c: candle("100", "113", "90", "103"), side: domain.SideLong, tail: "10", pattern: domain.PatternMiddleTail},
		{name: "marubozu", c: candle("100", "110", "100", "110"), reason: ReasonNoTail},
		{name: "ratio at threshold", c: candle("100", "112", "94", "104"), reason: ReasonRatioTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Analyze(tt.c, noFloor())
			if tt.reason != "" {
				nm, ok := r.(NonMatching)
				if !ok || !strings.HasPrefix(nm.Reason, tt.reason) {
					t.Fatalf("report=%#v, expected NonMatching(%s)", r, tt.reason)
				}
				return
			}
			m, ok := r.(Matching)
			if !ok {
				t.Fatalf("report=%#v, expected Matching", r)
			}
			if m.Side != tt.side || m.Reference.Pattern != tt.pattern || !m.Reference.TailLength.Equal(d(tt.tail)) {
				t.Fatalf("got side=%s pattern=%s tail=%s, expected %s %s %s",
					m.Side, m.Reference.Pattern, m.Reference.TailLength, tt.side, tt.pattern, tt.tail)
			}
		})
	}
}

func TestAnalyzeFeeGate(t *testing.T) {
	tests := []struct {
		name  string
		c     domain.CandleStick
		rate  string
		match bool
	}{
		// short: projected = bodyTop 100 - 10 = 90, gap 10, fees 190 * rate.
		{name: "short far below fees", c: candle("100", "110", "99", "99"), rate: "0.1"},
		{name: "short just below fees", c: candle("100", "110", "99", "99"), rate: "0.0529"},
		{name: "short just above fees", c: candle("100", "110", "99", "99"), rate: "0.0526", match: true},
		// long: projected = bodyBottom 100 + 12 = 112, gap 12, fees 212 * rate.
		{name: "long just above fees", c: candle("100", "104", "88", "104"), rate: "0.0555", match: true},
		{name: "long just below fees", c: candle("100", "104", "88", "104"), rate: "0.0567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := noFloor()
			p.TakerFeeRate = d(tt.rate)
			r := Analyze(tt.c, p)
			if tt.match {
				if _, ok := r.(Matching); !ok {
					t.Fatalf("report=%#v, expected Matching", r)
				}
				return
			}
			nm, ok := r.(NonMatching)
			if !ok || nm.Reason != ReasonUnprofitable {
				t.Fatalf("report=%#v, expected fee rejection", r)
			}
		})
	}
}

func TestAnalyzeScaleStoredOnReference(t *testing.T) {
	p := noFloor()
	p.Scale = d("2")
	m, ok := Analyze(candle("100", "110", "99", "99"), p).(Matching)
	if !ok {
		t.Fatalf("expected Matching")
	}
	if !m.Reference.TailLength.Equal(d("20")) {
		t.Fatalf("scaled TailLength=%s, expected 20", m.Reference.TailLength)
	}
	if !m.Reference.UnscaledTail().Equal(d("10")) {
		t.Fatalf("UnscaledTail=%s, expected 10", m.Reference.UnscaledTail())
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	c := candle("100", "104", "88", "104")
	first := Analyze(c, DefaultParams())
	for i := 0; i < 50; i++ {
		again := Analyze(c, DefaultParams())
		fm, ok1 := first.(Matching)
		am, ok2 := again.(Matching)
		if ok1 != ok2 {
			t.Fatalf("report kind changed between runs")
		}
		if ok1 && (fm.Side != am.Side || !fm.Reference.TailLength.Equal(am.Reference.TailLength)) {
			t.Fatalf("matching report changed between runs")
		}
	}
}
