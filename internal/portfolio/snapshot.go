package portfolio

import (
	"time"

	"github.com/ducminhle1904/futures-risk-bot/internal/position"
)

// SnapshotVersion tags the persisted schema. Loaders reject snapshots
// written by an incompatible schema instead of guessing.
const SnapshotVersion = "1.0"

// Snapshot is the durable portfolio state. Saving and reloading a
// snapshot reproduces the portfolio exactly, modulo SavedAt.
type Snapshot struct {
	Version        string  `json:"version"`
	InitialBalance float64 `json:"initial_balance"`
	CurrentBalance float64 `json:"current_balance"`

	Positions       map[string]position.Position `json:"positions"`
	TradeHistory    []TradeRecord                `json:"trade_history"`
	DailyPnlHistory []float64                    `json:"daily_pnl_history"`

	MaxPositions           int     `json:"max_positions"`
	MaxPortfolioRisk       float64 `json:"max_portfolio_risk"`
	MaxCorrelationExposure float64 `json:"max_correlation_exposure"`

	SavedAt time.Time `json:"saved_at"`
}

// StateStore persists portfolio snapshots. The file implementation
// lives in portfolio/storage.
type StateStore interface {
	Save(snapshot *Snapshot) error
	Load() (*Snapshot, error)
	Exists() bool
}
