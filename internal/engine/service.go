// Package engine composes the trading core and exposes it to the control
// layer. The API only talks to the engine through Service.
package engine

import (
	"context"

	"hammer-trader/internal/balance"
	"hammer-trader/internal/monitor"
	"hammer-trader/internal/reconciliation"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
)

// Service defines the interface for trading engine operations.
type Service interface {
	// Strategy commands
	StartStrategy(ctx context.Context, spec strategy.Spec) (strategy.Spec, error)
	UpdateStrategy(ctx context.Context, spec strategy.Spec) (strategy.Spec, error)
	StopStrategy(ctx context.Context, key string) error

	// Strategy queries
	ListStrategies(ctx context.Context) []strategy.Spec
	GetStrategy(ctx context.Context, key string) (strategy.Spec, error)

	// Positions
	GetPositions(ctx context.Context, strategyKey string) []PositionView
	ClosePosition(ctx context.Context, key state.Key) error
	GetHistory(ctx context.Context, strategyKey string, limit int) ([]state.History, error)
	GetPerformance(ctx context.Context) ([]StrategyPnL, error)

	// Balance
	GetBalances(ctx context.Context) []balance.Account

	// System
	GetMetrics(ctx context.Context) monitor.MetricsSnapshot
	GetAlerts(ctx context.Context) []monitor.Alert
	GetReconciliation(ctx context.Context) *reconciliation.Report
	GetSystemStatus(ctx context.Context) SystemStatus
}
