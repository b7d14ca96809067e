package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"hammer-trader/internal/state"
)

// PositionView is an open position with its current valuation.
type PositionView struct {
	state.Position
	Status        string           `json:"status"`
	Fill          *FillView        `json:"fill,omitempty"`
	MarkPrice     *decimal.Decimal `json:"mark_price,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"`
}

// FillView is the confirmed execution of a synced position.
type FillView struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Time   time.Time       `json:"time"`
}

// StrategyPnL is the realized profit of one strategy.
type StrategyPnL struct {
	StrategyKey   string          `json:"strategy_key"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenPositions int             `json:"open_positions"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	DryRun      bool      `json:"dry_run"`
	Venue       string    `json:"venue"`
	Testnet     bool      `json:"testnet"`
	UseMockFeed bool      `json:"use_mock_feed"`
	QuoteAsset  string    `json:"quote_asset"`
	TailBasis   string    `json:"tail_basis"`
	Version     string    `json:"version"`
	Strategies  int       `json:"strategies"`
	Positions   int       `json:"positions"`
	ServerTime  time.Time `json:"server_time"`
}
