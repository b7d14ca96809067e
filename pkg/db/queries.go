package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("record not found")

// Queries groups the statements used by the repositories.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// ----------------------------------------
// Strategy specs
// ----------------------------------------

const specColumns = `key, type, symbols, asset, allocated_ratio, interval, max_positions, parameters, status, updated_at`

func scanSpec(row interface{ Scan(...any) error }) (StrategySpec, error) {
	var s StrategySpec
	err := row.Scan(&s.Key, &s.Type, &s.Symbols, &s.Asset, &s.AllocatedRatio, &s.Interval,
		&s.MaxPositions, &s.Parameters, &s.Status, &s.UpdatedAt)
	return s, err
}

// ListStrategySpecsByStatus returns specs with the given status.
func (q *Queries) ListStrategySpecsByStatus(ctx context.Context, status string) ([]StrategySpec, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+specColumns+` FROM strategy_specs WHERE status = ? ORDER BY key`, status)
	if err != nil {
		return nil, fmt.Errorf("query strategy specs: %w", err)
	}
	defer rows.Close()

	var out []StrategySpec
	for rows.Next() {
		s, err := scanSpec(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy spec: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStrategySpec returns one spec.
func (q *Queries) GetStrategySpec(ctx context.Context, key string) (StrategySpec, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+specColumns+` FROM strategy_specs WHERE key = ?`, key)
	s, err := scanSpec(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StrategySpec{}, ErrNotFound
	}
	if err != nil {
		return StrategySpec{}, fmt.Errorf("get strategy spec: %w", err)
	}
	return s, nil
}

// UpsertStrategySpec inserts or replaces a spec.
func (q *Queries) UpsertStrategySpec(ctx context.Context, s StrategySpec) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO strategy_specs (`+specColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			type = excluded.type,
			symbols = excluded.symbols,
			asset = excluded.asset,
			allocated_ratio = excluded.allocated_ratio,
			interval = excluded.interval,
			max_positions = excluded.max_positions,
			parameters = excluded.parameters,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, s.Key, s.Type, s.Symbols, s.Asset, s.AllocatedRatio, s.Interval, s.MaxPositions, s.Parameters, s.Status, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert strategy spec: %w", err)
	}
	return nil
}

// UpdateStrategySpecStatus sets the status of a spec.
func (q *Queries) UpdateStrategySpecStatus(ctx context.Context, key, status string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE strategy_specs SET status = ?, updated_at = ? WHERE key = ?`,
		status, time.Now().UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("update strategy status: %w", err)
	}
	return requireRow(res)
}

// ----------------------------------------
// Positions
// ----------------------------------------

const positionColumns = `id, symbol, side, strategy_key, strategy_type, asset, order_type, entry_price, amount,
	margin, fee, reference, sync_state, fill_price, fill_amount, fill_time, opened_at`

// ListPositions returns every open position.
func (q *Queries) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY symbol, side`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Side, &p.StrategyKey, &p.StrategyType, &p.Asset, &p.OrderType,
			&p.EntryPrice, &p.Amount, &p.Margin, &p.Fee, &p.Reference, &p.SyncState,
			&p.FillPrice, &p.FillAmount, &p.FillTime, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertPosition stores a new position.
func (q *Queries) InsertPosition(ctx context.Context, p Position) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Symbol, p.Side, p.StrategyKey, p.StrategyType, p.Asset, p.OrderType,
		p.EntryPrice, p.Amount, p.Margin, p.Fee, p.Reference, p.SyncState,
		p.FillPrice, p.FillAmount, p.FillTime, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// UpdatePosition rewrites the mutable columns of the position with p.ID.
func (q *Queries) UpdatePosition(ctx context.Context, p Position) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE positions SET entry_price = ?, amount = ?, margin = ?, fee = ?, sync_state = ?,
			fill_price = ?, fill_amount = ?, fill_time = ?
		WHERE id = ?`,
		p.EntryPrice, p.Amount, p.Margin, p.Fee, p.SyncState, p.FillPrice, p.FillAmount, p.FillTime, p.ID)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return requireRow(res)
}

// DeletePosition removes the position at (symbol, side).
func (q *Queries) DeletePosition(ctx context.Context, symbol, side string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ? AND side = ?`, symbol, side); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// ----------------------------------------
// Position history
// ----------------------------------------

// InsertPositionHistory writes closed positions in one transaction.
func (q *Queries) InsertPositionHistory(ctx context.Context, rows []PositionHistory) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO position_history (id, position_id, strategy_key, strategy_type, symbol, side,
			entry_price, exit_price, amount, fee, realized_pnl, reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, h := range rows {
		if _, err := stmt.ExecContext(ctx, h.ID, h.PositionID, h.StrategyKey, h.StrategyType, h.Symbol, h.Side,
			h.EntryPrice, h.ExitPrice, h.Amount, h.Fee, h.RealizedPnL, h.Reason, h.OpenedAt, h.ClosedAt); err != nil {
			return fmt.Errorf("insert history %s: %w", h.ID, err)
		}
	}
	return tx.Commit()
}

// ListPositionHistory returns the most recent closed positions, newest
// first. An empty strategyKey lists all strategies.
func (q *Queries) ListPositionHistory(ctx context.Context, strategyKey string, limit int) ([]PositionHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		where strings.Builder
		args  []any
	)
	if strategyKey != "" {
		where.WriteString(" WHERE strategy_key = ?")
		args = append(args, strategyKey)
	}
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, position_id, strategy_key, strategy_type, symbol, side, entry_price, exit_price,
			amount, fee, realized_pnl, reason, opened_at, closed_at
		FROM position_history`+where.String()+`
		ORDER BY closed_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []PositionHistory
	for rows.Next() {
		var h PositionHistory
		if err := rows.Scan(&h.ID, &h.PositionID, &h.StrategyKey, &h.StrategyType, &h.Symbol, &h.Side,
			&h.EntryPrice, &h.ExitPrice, &h.Amount, &h.Fee, &h.RealizedPnL, &h.Reason, &h.OpenedAt, &h.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RealizedPnL sums realized PnL per strategy. Summation happens in Go so
// the TEXT decimals stay exact.
func (q *Queries) RealizedPnL(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT strategy_key, realized_pnl FROM position_history`)
	if err != nil {
		return nil, fmt.Errorf("query pnl: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			key string
			pnl decimal.Decimal
		)
		if err := rows.Scan(&key, &pnl); err != nil {
			return nil, fmt.Errorf("scan pnl: %w", err)
		}
		out[key] = out[key].Add(pnl)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Orders
// ----------------------------------------

// UpsertOrder inserts an order or updates its execution state.
func (q *Queries) UpsertOrder(ctx context.Context, o Order) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (id, position_id, strategy_key, symbol, side, intent, qty, filled_qty, avg_price,
			status, exchange_order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filled_qty = excluded.filled_qty,
			avg_price = excluded.avg_price,
			status = excluded.status,
			exchange_order_id = COALESCE(excluded.exchange_order_id, orders.exchange_order_id),
			updated_at = excluded.updated_at`,
		o.ID, o.PositionID, o.StrategyKey, o.Symbol, o.Side, o.Intent, o.Qty, o.FilledQty, o.AvgPrice,
		o.Status, o.ExchangeOrderID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// UpdateOrderFill records execution progress reported by the exchange.
func (q *Queries) UpdateOrderFill(ctx context.Context, id, status string, filledQty, avgPrice decimal.Decimal) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_qty = ?, avg_price = ?, updated_at = ? WHERE id = ?`,
		status, filledQty, avgPrice, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update order fill: %w", err)
	}
	return requireRow(res)
}

// ListOrdersByPosition returns the orders of a position, oldest first.
func (q *Queries) ListOrdersByPosition(ctx context.Context, positionID string) ([]Order, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, position_id, strategy_key, symbol, side, intent, qty, filled_qty, avg_price,
			status, exchange_order_id, created_at, updated_at
		FROM orders WHERE position_id = ? ORDER BY created_at`, positionID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.PositionID, &o.StrategyKey, &o.Symbol, &o.Side, &o.Intent, &o.Qty,
			&o.FilledQty, &o.AvgPrice, &o.Status, &o.ExchangeOrderID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
