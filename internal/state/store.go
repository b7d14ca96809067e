// Package state keeps the engine's positions.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/strategy"
	"hammer-trader/pkg/cache"
)

var (
	ErrAlreadyOpen   = errors.New("position already open")
	ErrNotFound      = errors.New("position not found")
	ErrAlreadySynced = errors.New("position already synced")
	ErrNotOwner      = errors.New("position owned by another strategy")
)

// Repository persists open positions.
type Repository interface {
	FindAll(ctx context.Context) ([]Position, error)
	Save(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position) error
	Delete(ctx context.Context, key Key) error
}

// HistoryWriter receives closed-position records.
type HistoryWriter interface {
	Enqueue(h History)
}

// Settler returns margin and realized PnL to the account ledger.
type Settler interface {
	ReleaseMargin(asset string, margin decimal.Decimal) error
	Deposit(amount decimal.Decimal, asset string) error
}

// Store holds open positions keyed by (symbol, side). Reads are lock free
// per shard; inserts are serialized so per-strategy limits hold.
type Store struct {
	positions *cache.ShardedMap[Position]
	openMu    sync.Mutex

	repo         Repository
	history      HistoryWriter
	settler      Settler
	takerFeeRate decimal.Decimal
	log          *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRepository persists positions.
func WithRepository(r Repository) Option { return func(s *Store) { s.repo = r } }

// WithHistory records closed positions.
func WithHistory(h HistoryWriter) Option { return func(s *Store) { s.history = h } }

// WithSettler settles closed positions against the ledger.
func WithSettler(st Settler, takerFeeRate decimal.Decimal) Option {
	return func(s *Store) {
		s.settler = st
		s.takerFeeRate = takerFeeRate
	}
}

// NewStore creates an empty store.
func NewStore(log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		positions: cache.NewShardedMap[Position](),
		log:       log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load seeds in-memory state from the repository on startup.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	all, err := s.repo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for _, p := range all {
		s.positions.Set(p.Key.String(), p)
	}
	s.log.Info("positions loaded", zap.Int("count", len(all)))
	return nil
}

// Open inserts p as Pending on behalf of spec.
func (s *Store) Open(ctx context.Context, p Position, spec strategy.Spec) (Position, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	p.StrategyKey = spec.Key
	p.StrategyType = spec.Type
	p.State = Pending{RequestedAt: p.OpenedAt}

	owned := s.FindByStrategy(spec.Key)
	limit := spec.MaxPositions
	if limit < 1 {
		limit = 1
	}
	if len(owned) >= limit {
		return Position{}, fmt.Errorf("%w: strategy %s holds %d", ErrAlreadyOpen, spec.Key, len(owned))
	}
	for _, o := range owned {
		if o.Key.Symbol == p.Key.Symbol {
			return Position{}, fmt.Errorf("%w: strategy %s on %s", ErrAlreadyOpen, spec.Key, p.Key.Symbol)
		}
	}
	if !s.positions.SetIfAbsent(p.Key.String(), p) {
		return Position{}, fmt.Errorf("%w: %s", ErrAlreadyOpen, p.Key)
	}

	if s.repo != nil {
		if err := s.repo.Save(ctx, p); err != nil {
			s.positions.Delete(p.Key.String())
			return Position{}, fmt.Errorf("save position %s: %w", p.Key, err)
		}
	}
	s.log.Info("position opened",
		zap.String("key", p.Key.String()),
		zap.String("strategy", spec.Key),
		zap.Stringer("amount", p.Amount),
		zap.Stringer("price", p.EntryPrice))
	return p, nil
}

// MarkSynced moves a Pending position to Synced using the exchange fill.
func (s *Store) MarkSynced(ctx context.Context, key Key, fill domain.Fill) (Position, error) {
	var stateErr error
	updated, ok := s.positions.Update(key.String(), func(cur Position, exists bool) (Position, bool) {
		if !exists {
			stateErr = fmt.Errorf("%w: %s", ErrNotFound, key)
			return cur, false
		}
		if cur.IsSynced() {
			stateErr = fmt.Errorf("%w: %s", ErrAlreadySynced, key)
			return cur, false
		}
		cur.State = Synced{Fill: fill}
		if fill.Price.IsPositive() {
			cur.EntryPrice = fill.Price
		}
		if fill.Amount.IsPositive() {
			cur.Amount = fill.Amount
		}
		return cur, true
	})
	if !ok {
		return Position{}, stateErr
	}

	if s.repo != nil {
		if err := s.repo.Update(ctx, updated); err != nil {
			s.log.Error("persist synced position failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	s.log.Info("position synced",
		zap.String("key", key.String()),
		zap.Stringer("entry", updated.EntryPrice),
		zap.Stringer("amount", updated.Amount))
	return updated, nil
}

// Close removes a position owned by spec, settles it and records history.
func (s *Store) Close(ctx context.Context, key Key, spec strategy.Spec, exit decimal.Decimal, reason CloseReason) (History, error) {
	var ownerErr error
	var removed Position
	_, _ = s.positions.Update(key.String(), func(cur Position, exists bool) (Position, bool) {
		if !exists {
			ownerErr = fmt.Errorf("%w: %s", ErrNotFound, key)
			return cur, false
		}
		if cur.StrategyKey != spec.Key {
			ownerErr = fmt.Errorf("%w: %s belongs to %s", ErrNotOwner, key, cur.StrategyKey)
			return cur, false
		}
		removed = cur
		return cur, true
	})
	if ownerErr != nil {
		return History{}, ownerErr
	}
	if _, ok := s.positions.LoadAndDelete(key.String()); !ok {
		return History{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	exitFee := exit.Mul(removed.Amount).Mul(s.takerFeeRate)
	h := History{
		ID:           uuid.NewString(),
		PositionID:   removed.ID,
		StrategyKey:  removed.StrategyKey,
		StrategyType: removed.StrategyType,
		Symbol:       key.Symbol,
		Side:         key.Side,
		EntryPrice:   removed.EntryPrice,
		ExitPrice:    exit,
		Amount:       removed.Amount,
		Fee:          removed.Fee.Add(exitFee),
		RealizedPnL:  removed.PnL(exit).Sub(removed.Fee).Sub(exitFee),
		Reason:       reason,
		OpenedAt:     removed.OpenedAt,
		ClosedAt:     time.Now(),
	}

	if s.settler != nil {
		if err := s.settler.ReleaseMargin(removed.Asset, removed.Margin); err != nil {
			s.log.Error("release margin failed", zap.String("key", key.String()), zap.Error(err))
		}
		if err := s.settler.Deposit(removed.PnL(exit).Sub(exitFee), removed.Asset); err != nil {
			s.log.Error("deposit pnl failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, key); err != nil {
			s.log.Error("delete closed position failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	if s.history != nil {
		s.history.Enqueue(h)
	}
	s.log.Info("position closed",
		zap.String("key", key.String()),
		zap.String("reason", string(reason)),
		zap.Stringer("pnl", h.RealizedPnL))
	return h, nil
}

// Discard drops a position whose order never reached the exchange.
func (s *Store) Discard(ctx context.Context, key Key) {
	if _, ok := s.positions.LoadAndDelete(key.String()); !ok {
		return
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, key); err != nil {
			s.log.Error("delete discarded position failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	s.log.Warn("position discarded", zap.String("key", key.String()))
}

// Get returns the position at key.
func (s *Store) Get(key Key) (Position, bool) {
	return s.positions.Get(key.String())
}

// FindByID returns the position with the given ID.
func (s *Store) FindByID(id string) (Position, bool) {
	var found Position
	var ok bool
	s.positions.Range(func(_ string, p Position) bool {
		if p.ID == id {
			found, ok = p, true
			return false
		}
		return true
	})
	return found, ok
}

// AllUsedSymbols returns every symbol with an open position.
func (s *Store) AllUsedSymbols() map[string]struct{} {
	used := make(map[string]struct{})
	s.positions.Range(func(_ string, p Position) bool {
		used[p.Key.Symbol] = struct{}{}
		return true
	})
	return used
}

// FindByStrategy returns the positions owned by strategyKey.
func (s *Store) FindByStrategy(strategyKey string) []Position {
	return s.filter(func(p Position) bool { return p.StrategyKey == strategyKey })
}

// FindBySymbol returns the positions on symbol.
func (s *Store) FindBySymbol(symbol string) []Position {
	return s.filter(func(p Position) bool { return p.Key.Symbol == symbol })
}

// All returns every open position.
func (s *Store) All() []Position {
	return s.filter(func(Position) bool { return true })
}

func (s *Store) filter(keep func(Position) bool) []Position {
	var out []Position
	s.positions.Range(func(_ string, p Position) bool {
		if keep(p) {
			out = append(out, p)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
