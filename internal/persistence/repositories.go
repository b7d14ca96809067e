package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/order"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
	"hammer-trader/pkg/db"
)

// StrategyRepository implements strategy.Repository.
type StrategyRepository struct {
	q *db.Queries
}

func NewStrategyRepository(q *db.Queries) *StrategyRepository {
	return &StrategyRepository{q: q}
}

func (r *StrategyRepository) FindAllService(ctx context.Context) ([]strategy.Spec, error) {
	rows, err := r.q.ListStrategySpecsByStatus(ctx, string(strategy.StatusService))
	if err != nil {
		return nil, err
	}
	out := make([]strategy.Spec, 0, len(rows))
	for _, row := range rows {
		s, err := specFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *StrategyRepository) FindByKey(ctx context.Context, key string) (strategy.Spec, error) {
	row, err := r.q.GetStrategySpec(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return strategy.Spec{}, fmt.Errorf("%w: %s", strategy.ErrNotFound, key)
	}
	if err != nil {
		return strategy.Spec{}, err
	}
	return specFromRow(row)
}

func (r *StrategyRepository) Save(ctx context.Context, s strategy.Spec) error {
	symbols, err := json.Marshal(s.Symbols)
	if err != nil {
		return err
	}
	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return err
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return r.q.UpsertStrategySpec(ctx, db.StrategySpec{
		Key:            s.Key,
		Type:           s.Type,
		Symbols:        string(symbols),
		Asset:          s.Asset,
		AllocatedRatio: s.AllocatedRatio,
		Interval:       string(s.Interval),
		MaxPositions:   s.MaxPositions,
		Parameters:     string(params),
		Status:         string(s.Status),
		UpdatedAt:      updated.UnixMilli(),
	})
}

func (r *StrategyRepository) UpdateStatus(ctx context.Context, key string, status strategy.Status) error {
	err := r.q.UpdateStrategySpecStatus(ctx, key, string(status))
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", strategy.ErrNotFound, key)
	}
	return err
}

func specFromRow(row db.StrategySpec) (strategy.Spec, error) {
	s := strategy.Spec{
		Key:            row.Key,
		Type:           row.Type,
		Asset:          row.Asset,
		AllocatedRatio: row.AllocatedRatio,
		Interval:       domain.Interval(row.Interval),
		MaxPositions:   row.MaxPositions,
		Status:         strategy.Status(row.Status),
		UpdatedAt:      time.UnixMilli(row.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(row.Symbols), &s.Symbols); err != nil {
		return strategy.Spec{}, fmt.Errorf("decode symbols of %s: %w", row.Key, err)
	}
	if err := json.Unmarshal([]byte(row.Parameters), &s.Parameters); err != nil {
		return strategy.Spec{}, fmt.Errorf("decode parameters of %s: %w", row.Key, err)
	}
	return s, nil
}

// PositionRepository implements state.Repository.
type PositionRepository struct {
	q *db.Queries
}

func NewPositionRepository(q *db.Queries) *PositionRepository {
	return &PositionRepository{q: q}
}

func (r *PositionRepository) FindAll(ctx context.Context) ([]state.Position, error) {
	rows, err := r.q.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]state.Position, 0, len(rows))
	for _, row := range rows {
		p, err := positionFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *PositionRepository) Save(ctx context.Context, p state.Position) error {
	row, err := positionToRow(p)
	if err != nil {
		return err
	}
	return r.q.InsertPosition(ctx, row)
}

func (r *PositionRepository) Update(ctx context.Context, p state.Position) error {
	row, err := positionToRow(p)
	if err != nil {
		return err
	}
	return r.q.UpdatePosition(ctx, row)
}

func (r *PositionRepository) Delete(ctx context.Context, key state.Key) error {
	return r.q.DeletePosition(ctx, key.Symbol, string(key.Side))
}

func positionToRow(p state.Position) (db.Position, error) {
	ref, err := json.Marshal(p.Reference)
	if err != nil {
		return db.Position{}, fmt.Errorf("encode reference: %w", err)
	}
	row := db.Position{
		ID:           p.ID,
		Symbol:       p.Key.Symbol,
		Side:         string(p.Key.Side),
		StrategyKey:  p.StrategyKey,
		StrategyType: p.StrategyType,
		Asset:        p.Asset,
		OrderType:    p.OrderType,
		EntryPrice:   p.EntryPrice,
		Amount:       p.Amount,
		Margin:       p.Margin,
		Fee:          p.Fee,
		Reference:    string(ref),
		SyncState:    p.Status(),
		OpenedAt:     p.OpenedAt.UnixMilli(),
	}
	if fill, ok := p.Fill(); ok {
		row.FillPrice = decimal.NewNullDecimal(fill.Price)
		row.FillAmount = decimal.NewNullDecimal(fill.Amount)
		row.FillTime = sql.NullInt64{Int64: fill.Time.UnixMilli(), Valid: true}
	}
	return row, nil
}

func positionFromRow(row db.Position) (state.Position, error) {
	p := state.Position{
		ID:           row.ID,
		Key:          state.Key{Symbol: row.Symbol, Side: domain.Side(row.Side)},
		StrategyKey:  row.StrategyKey,
		StrategyType: row.StrategyType,
		Asset:        row.Asset,
		OrderType:    row.OrderType,
		EntryPrice:   row.EntryPrice,
		Amount:       row.Amount,
		Margin:       row.Margin,
		Fee:          row.Fee,
		OpenedAt:     time.UnixMilli(row.OpenedAt),
	}
	if err := json.Unmarshal([]byte(row.Reference), &p.Reference); err != nil {
		return state.Position{}, fmt.Errorf("decode reference of %s: %w", row.ID, err)
	}
	if row.SyncState == (state.Synced{}).Name() && row.FillPrice.Valid {
		p.State = state.Synced{Fill: domain.Fill{
			Price:  row.FillPrice.Decimal,
			Amount: row.FillAmount.Decimal,
			Time:   time.UnixMilli(row.FillTime.Int64),
		}}
	} else {
		p.State = state.Pending{RequestedAt: p.OpenedAt}
	}
	return p, nil
}

// HistoryRepository stores closed positions.
type HistoryRepository struct {
	q *db.Queries
}

func NewHistoryRepository(q *db.Queries) *HistoryRepository {
	return &HistoryRepository{q: q}
}

// SaveHistory writes a batch of closed positions. It has the shape of a
// FlushFunc so it can back a BatchWriter.
func (r *HistoryRepository) SaveHistory(ctx context.Context, items []state.History) error {
	rows := make([]db.PositionHistory, 0, len(items))
	for _, h := range items {
		rows = append(rows, db.PositionHistory{
			ID:           h.ID,
			PositionID:   h.PositionID,
			StrategyKey:  h.StrategyKey,
			StrategyType: h.StrategyType,
			Symbol:       h.Symbol,
			Side:         string(h.Side),
			EntryPrice:   h.EntryPrice,
			ExitPrice:    h.ExitPrice,
			Amount:       h.Amount,
			Fee:          h.Fee,
			RealizedPnL:  h.RealizedPnL,
			Reason:       string(h.Reason),
			OpenedAt:     h.OpenedAt.UnixMilli(),
			ClosedAt:     h.ClosedAt.UnixMilli(),
		})
	}
	return r.q.InsertPositionHistory(ctx, rows)
}

// List returns recent history, newest first.
func (r *HistoryRepository) List(ctx context.Context, strategyKey string, limit int) ([]state.History, error) {
	rows, err := r.q.ListPositionHistory(ctx, strategyKey, limit)
	if err != nil {
		return nil, err
	}
	out := make([]state.History, 0, len(rows))
	for _, h := range rows {
		out = append(out, state.History{
			ID:           h.ID,
			PositionID:   h.PositionID,
			StrategyKey:  h.StrategyKey,
			StrategyType: h.StrategyType,
			Symbol:       h.Symbol,
			Side:         domain.Side(h.Side),
			EntryPrice:   h.EntryPrice,
			ExitPrice:    h.ExitPrice,
			Amount:       h.Amount,
			Fee:          h.Fee,
			RealizedPnL:  h.RealizedPnL,
			Reason:       state.CloseReason(h.Reason),
			OpenedAt:     time.UnixMilli(h.OpenedAt),
			ClosedAt:     time.UnixMilli(h.ClosedAt),
		})
	}
	return out, nil
}

// RealizedPnL sums realized PnL per strategy.
func (r *HistoryRepository) RealizedPnL(ctx context.Context) (map[string]decimal.Decimal, error) {
	return r.q.RealizedPnL(ctx)
}

// HistoryWriter batches closed positions into the history table. It
// implements state.HistoryWriter.
type HistoryWriter struct {
	*BatchWriter[state.History]
}

// NewHistoryWriter creates a batching history writer over repo.
func NewHistoryWriter(repo *HistoryRepository, maxSize int, interval time.Duration, log *zap.Logger) *HistoryWriter {
	return &HistoryWriter{BatchWriter: NewBatchWriter[state.History](repo.SaveHistory, maxSize, interval, log)}
}

// OrderRepository implements order.Store.
type OrderRepository struct {
	q *db.Queries
}

func NewOrderRepository(q *db.Queries) *OrderRepository {
	return &OrderRepository{q: q}
}

func (r *OrderRepository) CreateOrder(ctx context.Context, o order.Order) error {
	now := time.Now().UnixMilli()
	created := now
	if !o.CreatedAt.IsZero() {
		created = o.CreatedAt.UnixMilli()
	}
	row := db.Order{
		ID:          o.ID,
		PositionID:  o.PositionID,
		StrategyKey: o.StrategyKey,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Intent:      string(o.Intent),
		Qty:         o.Qty,
		FilledQty:   o.FilledQty,
		AvgPrice:    o.AvgPrice,
		Status:      o.Status,
		CreatedAt:   created,
		UpdatedAt:   now,
	}
	if o.ExchangeOrderID != "" {
		row.ExchangeOrderID = sql.NullString{String: o.ExchangeOrderID, Valid: true}
	}
	return r.q.UpsertOrder(ctx, row)
}

func (r *OrderRepository) UpdateOrderFill(ctx context.Context, id, status string, o order.Order) error {
	return r.q.UpdateOrderFill(ctx, id, status, o.FilledQty, o.AvgPrice)
}
