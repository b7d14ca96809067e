package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *Queries {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	// Second run must be a no-op.
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Re-applying migrations: %v", err)
	}
	return database.Queries()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStrategySpecs(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	spec := StrategySpec{
		Key:            "s1",
		Type:           "hammer",
		Symbols:        `["BTCUSDT"]`,
		Asset:          "USDT",
		AllocatedRatio: dec("0.25"),
		Interval:       "1m",
		MaxPositions:   1,
		Parameters:     `{"hammerRatio":"2.5"}`,
		Status:         "SERVICE",
		UpdatedAt:      time.Now().UnixMilli(),
	}
	if err := q.UpsertStrategySpec(ctx, spec); err != nil {
		t.Fatalf("UpsertStrategySpec: %v", err)
	}
	spec.AllocatedRatio = dec("0.5")
	if err := q.UpsertStrategySpec(ctx, spec); err != nil {
		t.Fatalf("UpsertStrategySpec again: %v", err)
	}

	got, err := q.GetStrategySpec(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStrategySpec: %v", err)
	}
	if !got.AllocatedRatio.Equal(dec("0.5")) || got.Parameters != spec.Parameters {
		t.Errorf("unexpected spec %+v", got)
	}

	if err := q.UpdateStrategySpecStatus(ctx, "s1", "STOPPED"); err != nil {
		t.Fatalf("UpdateStrategySpecStatus: %v", err)
	}
	serving, err := q.ListStrategySpecsByStatus(ctx, "SERVICE")
	if err != nil || len(serving) != 0 {
		t.Errorf("serving=%v err=%v", serving, err)
	}

	if _, err := q.GetStrategySpec(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := q.UpdateStrategySpecStatus(ctx, "missing", "STOPPED"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositions(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	p := Position{
		ID:           "p1",
		Symbol:       "BTCUSDT",
		Side:         "LONG",
		StrategyKey:  "s1",
		StrategyType: "hammer",
		Asset:        "USDT",
		OrderType:    "MARKET",
		EntryPrice:   dec("100.123456789"),
		Amount:       dec("0.001"),
		Margin:       dec("0.100123456789"),
		Fee:          dec("0.00004"),
		Reference:    `{"tail_length":"12"}`,
		SyncState:    "UNSYNCED",
		OpenedAt:     time.Now().UnixMilli(),
	}
	if err := q.InsertPosition(ctx, p); err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
	if err := q.InsertPosition(ctx, p); err == nil {
		t.Fatal("duplicate (symbol, side) accepted")
	}

	p.SyncState = "SYNCED"
	p.FillPrice = decimal.NewNullDecimal(dec("100.5"))
	p.FillAmount = decimal.NewNullDecimal(dec("0.001"))
	p.FillTime = sql.NullInt64{Int64: 42, Valid: true}
	if err := q.UpdatePosition(ctx, p); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}

	all, err := q.ListPositions(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListPositions: %v %v", all, err)
	}
	got := all[0]
	if !got.EntryPrice.Equal(p.EntryPrice) || got.SyncState != "SYNCED" || !got.FillPrice.Valid || !got.FillPrice.Decimal.Equal(dec("100.5")) {
		t.Errorf("unexpected position %+v", got)
	}

	if err := q.DeletePosition(ctx, "BTCUSDT", "LONG"); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
	all, _ = q.ListPositions(ctx)
	if len(all) != 0 {
		t.Errorf("position not deleted")
	}
}

func TestPositionHistory(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	rows := []PositionHistory{
		{ID: "h1", PositionID: "p1", StrategyKey: "s1", StrategyType: "hammer", Symbol: "BTCUSDT", Side: "LONG",
			EntryPrice: dec("100"), ExitPrice: dec("110"), Amount: dec("1"), Fee: dec("0.084"), RealizedPnL: dec("9.916"),
			Reason: "TAKE_PROFIT", OpenedAt: 1, ClosedAt: 2},
		{ID: "h2", PositionID: "p2", StrategyKey: "s1", StrategyType: "hammer", Symbol: "ETHUSDT", Side: "SHORT",
			EntryPrice: dec("50"), ExitPrice: dec("52"), Amount: dec("1"), Fee: dec("0.0408"), RealizedPnL: dec("-2.0408"),
			Reason: "STOP_LOSS", OpenedAt: 3, ClosedAt: 4},
		{ID: "h3", PositionID: "p3", StrategyKey: "s2", StrategyType: "hammer_min", Symbol: "BTCUSDT", Side: "LONG",
			EntryPrice: dec("100"), ExitPrice: dec("101"), Amount: dec("1"), RealizedPnL: dec("1"),
			Reason: "MANUAL", OpenedAt: 5, ClosedAt: 6},
	}
	if err := q.InsertPositionHistory(ctx, rows); err != nil {
		t.Fatalf("InsertPositionHistory: %v", err)
	}
	// Replays are ignored.
	if err := q.InsertPositionHistory(ctx, rows[:1]); err != nil {
		t.Fatalf("replay: %v", err)
	}

	s1, err := q.ListPositionHistory(ctx, "s1", 10)
	if err != nil || len(s1) != 2 || s1[0].ID != "h2" {
		t.Fatalf("history=%v err=%v", s1, err)
	}
	all, _ := q.ListPositionHistory(ctx, "", 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}

	pnl, err := q.RealizedPnL(ctx)
	if err != nil {
		t.Fatalf("RealizedPnL: %v", err)
	}
	if !pnl["s1"].Equal(dec("7.8752")) || !pnl["s2"].Equal(dec("1")) {
		t.Errorf("pnl=%v", pnl)
	}
}

func TestOrders(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	o := Order{
		ID: "p1", PositionID: "p1", StrategyKey: "s1", Symbol: "BTCUSDT", Side: "BUY", Intent: "OPEN",
		Qty: dec("0.01"), FilledQty: decimal.Zero, AvgPrice: decimal.Zero, Status: "NEW",
		ExchangeOrderID: sql.NullString{String: "123", Valid: true}, CreatedAt: 1, UpdatedAt: 1,
	}
	if err := q.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("UpsertOrder: %v", err)
	}
	if err := q.UpdateOrderFill(ctx, "p1", "FILLED", dec("0.01"), dec("101.5")); err != nil {
		t.Fatalf("UpdateOrderFill: %v", err)
	}
	if err := q.UpdateOrderFill(ctx, "missing", "FILLED", dec("1"), dec("1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	orders, err := q.ListOrdersByPosition(ctx, "p1")
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders=%v err=%v", orders, err)
	}
	got := orders[0]
	if got.Status != "FILLED" || !got.AvgPrice.Equal(dec("101.5")) || got.ExchangeOrderID.String != "123" {
		t.Errorf("unexpected order %+v", got)
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/dir/hammer.db"
	database, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer database.Close()
	if database.Path() != path {
		t.Fatalf("path = %q", database.Path())
	}
	var mode string
	if err := database.DB.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
