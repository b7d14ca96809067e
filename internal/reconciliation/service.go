// Package reconciliation compares the engine's positions with the
// positions the exchange reports.
package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
	"hammer-trader/internal/state"
)

// ExchangeClient interface for reconciliation
type ExchangeClient interface {
	Positions(ctx context.Context) ([]Position, error)
}

// Position from exchange
type Position struct {
	Symbol     string
	Side       domain.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

// PositionSource lists local positions.
type PositionSource interface {
	All() []state.Position
}

// Publisher delivers engine events.
type Publisher interface {
	Publish(e events.Event) bool
}

// DiffKind classifies a mismatch.
type DiffKind string

const (
	// DiffConfirmed marks a pending position the exchange already holds.
	DiffConfirmed DiffKind = "CONFIRMED"
	// DiffMissing marks a synced local position the exchange does not hold.
	DiffMissing DiffKind = "MISSING_ON_EXCHANGE"
	// DiffUnknown marks an exchange position with no local counterpart.
	DiffUnknown DiffKind = "UNKNOWN_LOCALLY"
	// DiffQuantity marks a quantity mismatch.
	DiffQuantity DiffKind = "QUANTITY_MISMATCH"
	// DiffStalePending marks a pending position that stayed unconfirmed.
	DiffStalePending DiffKind = "STALE_PENDING"
)

// PositionDiff represents a position difference
type PositionDiff struct {
	Kind        DiffKind        `json:"kind"`
	Symbol      string          `json:"symbol"`
	Side        domain.Side     `json:"side"`
	PositionID  string          `json:"position_id,omitempty"`
	LocalQty    decimal.Decimal `json:"local_qty"`
	ExchangeQty decimal.Decimal `json:"exchange_qty"`
}

// Report contains reconciliation results
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Diffs     []PositionDiff `json:"diffs"`
	Confirmed int            `json:"confirmed"`
}

// HasDiffs reports whether anything other than confirmations was found.
func (r *Report) HasDiffs() bool {
	return len(r.Diffs) > r.Confirmed
}

// Service handles periodic reconciliation
type Service struct {
	exchange   ExchangeClient
	positions  PositionSource
	bus        Publisher
	interval   time.Duration
	staleAfter time.Duration
	log        *zap.Logger

	mu   sync.Mutex
	last *Report
}

// NewService creates a new reconciliation service. exchange may be nil in
// dry-run mode.
func NewService(exchange ExchangeClient, positions PositionSource, bus Publisher, interval time.Duration, log *zap.Logger) *Service {
	return &Service{
		exchange:   exchange,
		positions:  positions,
		bus:        bus,
		interval:   interval,
		staleAfter: 2 * interval,
		log:        log,
	}
}

// Start begins periodic reconciliation
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					s.log.Error("reconciliation failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info("reconciliation service started", zap.Duration("interval", s.interval))
}

// Reconcile compares local and exchange positions once. Pending positions
// the exchange already holds are confirmed through the normal fill path.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: time.Now()}
	if s.exchange == nil {
		s.last = report
		return report, nil
	}

	remote, err := s.exchange.Positions(ctx)
	if err != nil {
		return nil, err
	}
	bySide := make(map[state.Key]Position, len(remote))
	for _, p := range remote {
		bySide[state.Key{Symbol: p.Symbol, Side: p.Side}] = p
	}

	for _, local := range s.positions.All() {
		ex, held := bySide[local.Key]
		delete(bySide, local.Key)

		diff := PositionDiff{
			Symbol:      local.Symbol(),
			Side:        local.Side(),
			PositionID:  local.ID,
			LocalQty:    local.Amount,
			ExchangeQty: ex.Quantity,
		}

		if !local.IsSynced() {
			switch {
			case held && ex.Quantity.GreaterThanOrEqual(local.Amount):
				diff.Kind = DiffConfirmed
				report.Confirmed++
				s.bus.Publish(events.OrderFilledEvent{
					PositionID: local.ID,
					Symbol:     local.Symbol(),
					Fill:       domain.Fill{Price: ex.EntryPrice, Amount: local.Amount, Time: report.Timestamp},
				})
			case report.Timestamp.Sub(local.OpenedAt) > s.staleAfter:
				diff.Kind = DiffStalePending
			default:
				continue
			}
			report.Diffs = append(report.Diffs, diff)
			continue
		}

		switch {
		case !held:
			diff.Kind = DiffMissing
		case !ex.Quantity.Equal(local.Amount):
			diff.Kind = DiffQuantity
		default:
			continue
		}
		report.Diffs = append(report.Diffs, diff)
	}

	for key, ex := range bySide {
		report.Diffs = append(report.Diffs, PositionDiff{
			Kind:        DiffUnknown,
			Symbol:      key.Symbol,
			Side:        key.Side,
			ExchangeQty: ex.Quantity,
		})
	}

	s.handleReport(report)
	s.last = report
	return report, nil
}

// Last returns the most recent report.
func (s *Service) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) handleReport(r *Report) {
	if len(r.Diffs) == 0 {
		s.log.Debug("reconciliation ok")
		return
	}
	for _, d := range r.Diffs {
		fields := []zap.Field{
			zap.String("kind", string(d.Kind)),
			zap.String("symbol", d.Symbol),
			zap.String("side", string(d.Side)),
			zap.String("position_id", d.PositionID),
			zap.Stringer("local_qty", d.LocalQty),
			zap.Stringer("exchange_qty", d.ExchangeQty),
		}
		if d.Kind == DiffConfirmed {
			s.log.Info("pending position confirmed by exchange", fields...)
			continue
		}
		s.log.Warn("position drift detected", fields...)
	}
}
