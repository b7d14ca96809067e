package order

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	exchange "hammer-trader/pkg/exchanges/common"
)

// PriceSource returns the latest price of a symbol.
type PriceSource interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// PaperConfig tunes the simulated fills.
type PaperConfig struct {
	SlippageBps decimal.Decimal
	LatencyMin  time.Duration
	LatencyMax  time.Duration
}

// PaperGateway fills market orders immediately at the latest price. It is
// the gateway used in dry-run mode.
type PaperGateway struct {
	prices PriceSource
	cfg    PaperConfig
	seq    atomic.Int64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPaperGateway creates a paper gateway.
func NewPaperGateway(prices PriceSource, cfg PaperConfig) *PaperGateway {
	if cfg.LatencyMax > 0 && cfg.LatencyMin > cfg.LatencyMax {
		cfg.LatencyMin, cfg.LatencyMax = cfg.LatencyMax, cfg.LatencyMin
	}
	return &PaperGateway{
		prices: prices,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SubmitOrder simulates an immediate fill.
func (g *PaperGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if err := g.sleep(ctx); err != nil {
		return exchange.OrderResult{}, err
	}
	price, ok := g.prices.Price(req.Symbol)
	if !ok || !price.IsPositive() {
		return exchange.OrderResult{}, &exchange.ExchangeError{Op: "paper order", Msg: fmt.Sprintf("no price for %s", req.Symbol)}
	}
	if !req.Quantity.IsPositive() {
		return exchange.OrderResult{}, &exchange.ExchangeError{Op: "paper order", Msg: "quantity must be positive"}
	}

	slip := g.cfg.SlippageBps.Div(decimal.NewFromInt(10000))
	if slip.IsPositive() {
		g.mu.Lock()
		noise := decimal.NewFromFloat(g.rng.Float64())
		g.mu.Unlock()
		adj := slip.Mul(noise)
		if req.Side == exchange.SideBuy {
			price = price.Mul(decimal.NewFromInt(1).Add(adj))
		} else {
			price = price.Mul(decimal.NewFromInt(1).Sub(adj))
		}
	}

	return exchange.OrderResult{
		ExchangeOrderID: "paper-" + strconv.FormatInt(g.seq.Add(1), 10),
		Status:          exchange.StatusFilled,
		ClientID:        req.ClientID,
		FilledQuantity:  req.Quantity,
		AvgPrice:        price,
	}, nil
}

func (g *PaperGateway) sleep(ctx context.Context) error {
	if g.cfg.LatencyMax <= 0 {
		return nil
	}
	d := g.cfg.LatencyMin
	if span := g.cfg.LatencyMax - g.cfg.LatencyMin; span > 0 {
		g.mu.Lock()
		d += time.Duration(g.rng.Int63n(int64(span)))
		g.mu.Unlock()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
