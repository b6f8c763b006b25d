package ports

import (
	"context"

	"marginBacktester/internal/domain"
)

// RunJournal stores backtest runs and their closed trades.
type RunJournal interface {
	// CreateRun saves a run summary and returns its assigned ID.
	CreateRun(ctx context.Context, run *domain.RunRecord) (int64, error)
	// SaveTrades stores the closed trades of a run atomically.
	SaveTrades(ctx context.Context, runID int64, trades []*domain.Trade) error
	// FindTradesByRun returns the trades of a run in close order.
	FindTradesByRun(ctx context.Context, runID int64) ([]*domain.Trade, error)
	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error)
}
