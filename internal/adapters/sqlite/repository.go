package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

// Repository implements ports.RunJournal using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for SQLite repository", ports.ErrConfigurationError)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/backtests.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY under the optimizer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite run journal ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		symbols TEXT NOT NULL,
		main_timeframe TEXT NOT NULL,
		initial_capital REAL NOT NULL,
		final_capital REAL NOT NULL,
		leverage REAL NOT NULL,
		spread_bp REAL NOT NULL,
		total_trades INTEGER NOT NULL,
		total_pnl REAL NOT NULL,
		win_rate REAL NOT NULL,
		max_drawdown_pct REAL NOT NULL,
		sharpe_ratio REAL NOT NULL,
		duration_ns INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id TEXT PRIMARY KEY,
		run_id INTEGER NOT NULL REFERENCES backtest_runs (id) ON DELETE CASCADE,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP NOT NULL,
		entry_price REAL NOT NULL,
		take_profit REAL NOT NULL,
		stop_loss REAL NOT NULL,
		leverage REAL NOT NULL,
		spread_bp REAL NOT NULL,
		notional REAL NOT NULL,
		margin REAL NOT NULL,
		order_fee REAL NOT NULL,
		slippage_reserve REAL NOT NULL,
		capital_committed REAL NOT NULL,
		liquidation_price REAL NOT NULL,
		break_even_price REAL NOT NULL,
		max_profit REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		close_price REAL NOT NULL,
		pnl REAL NOT NULL,
		close_reason TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_run_close_time ON trade_history (run_id, close_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// CreateRun saves a run summary and returns its assigned ID.
func (r *Repository) CreateRun(ctx context.Context, run *domain.RunRecord) (int64, error) {
	const query = `
	INSERT INTO backtest_runs (label, started_at, symbols, main_timeframe, initial_capital, final_capital,
	                           leverage, spread_bp, total_trades, total_pnl, win_rate, max_drawdown_pct,
	                           sharpe_ratio, duration_ns)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		run.Label, run.StartedAt.UTC(), strings.Join(run.Symbols, ","), string(run.MainTimeframe),
		run.InitialCapital, run.FinalCapital, run.Leverage, run.SpreadBP, run.TotalTrades, run.TotalPnL,
		run.WinRate, run.MaxDrawdownPct, run.SharpeRatio, int64(run.BacktestDuration))
	if err != nil {
		return 0, fmt.Errorf("failed to insert backtest run %q: %w", run.Label, mapError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for run %q: %w", run.Label, err)
	}
	run.ID = id
	r.logger.Debug(ctx, "Backtest run created", map[string]interface{}{"runID": id, "label": run.Label})
	return id, nil
}

// SaveTrades stores the closed trades of a run in one transaction.
func (r *Repository) SaveTrades(ctx context.Context, runID int64, trades []*domain.Trade) (err error) {
	const query = `
	INSERT INTO trade_history (id, run_id, symbol, direction, entry_time, close_time, entry_price, take_profit,
	                           stop_loss, leverage, spread_bp, notional, margin, order_fee, slippage_reserve,
	                           capital_committed, liquidation_price, break_even_price, max_profit, max_drawdown,
	                           close_price, pnl, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ports.ErrDBConnection, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare trade insert: %w", mapError(err))
	}
	defer stmt.Close()

	for _, t := range trades {
		if t.IsOpen() {
			return fmt.Errorf("%w: trade %s is still open", ports.ErrInvalidRequest, t.ID)
		}
		var reason sql.NullString
		if t.CloseReason != "" {
			reason = sql.NullString{String: string(t.CloseReason), Valid: true}
		}
		_, err = stmt.ExecContext(ctx,
			t.ID.String(), runID, t.Symbol, string(t.Direction), t.EntryTime.UTC(), t.CloseTime.UTC(),
			t.EntryPrice, t.TakeProfit, t.StopLoss, t.Leverage, t.SpreadBP, t.Notional, t.Margin,
			t.OrderFee, t.SlippageReserve, t.CapitalCommitted, t.LiquidationPrice, t.BreakEvenPrice,
			t.MaxProfit, t.MaxDrawdown, t.ClosePrice, t.PnL, reason)
		if err != nil {
			return fmt.Errorf("failed to insert trade %s for run %d: %w", t.ID, runID, mapError(err))
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trades for run %d: %w", runID, mapError(err))
	}
	r.logger.Debug(ctx, "Trades saved", map[string]interface{}{"runID": runID, "count": len(trades)})
	return nil
}

// FindTradesByRun returns the trades of a run in close order.
func (r *Repository) FindTradesByRun(ctx context.Context, runID int64) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, direction, entry_time, close_time, entry_price, take_profit, stop_loss, leverage,
	       spread_bp, notional, margin, order_fee, slippage_reserve, capital_committed, liquidation_price,
	       break_even_price, max_profit, max_drawdown, close_price, pnl, close_reason
	FROM trade_history
	WHERE run_id = ?
	ORDER BY close_time, rowid`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query trades for run %d: %v", ports.ErrQueryFailed, runID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade for run %d: %w", runID, err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// FindRun returns the run with the given ID.
func (r *Repository) FindRun(ctx context.Context, id int64) (*domain.RunRecord, error) {
	const query = `
	SELECT id, label, started_at, symbols, main_timeframe, initial_capital, final_capital, leverage,
	       spread_bp, total_trades, total_pnl, win_rate, max_drawdown_pct, sharpe_ratio, duration_ns
	FROM backtest_runs
	WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %d", ports.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find run %d: %v", ports.ErrQueryFailed, id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit returns all.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	const query = `
	SELECT id, label, started_at, symbols, main_timeframe, initial_capital, final_capital, leverage,
	       spread_bp, total_trades, total_pnl, win_rate, max_drawdown_pct, sharpe_ratio, duration_ns
	FROM backtest_runs
	ORDER BY id DESC
	LIMIT ?`

	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list runs: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	runs := make([]*domain.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// mapError translates SQLite constraint failures into port errors.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %v", ports.ErrDuplicateEntry, err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", ports.ErrNotFound, err)
	}
	return err
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*domain.RunRecord, error) {
	run := &domain.RunRecord{}
	var symbols, timeframe string
	var durationNS int64
	err := s.Scan(
		&run.ID, &run.Label, &run.StartedAt, &symbols, &timeframe, &run.InitialCapital, &run.FinalCapital,
		&run.Leverage, &run.SpreadBP, &run.TotalTrades, &run.TotalPnL, &run.WinRate, &run.MaxDrawdownPct,
		&run.SharpeRatio, &durationNS)
	if err != nil {
		return nil, err
	}
	if symbols != "" {
		run.Symbols = strings.Split(symbols, ",")
	}
	run.MainTimeframe = domain.Timeframe(timeframe)
	run.BacktestDuration = time.Duration(durationNS)
	return run, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var id, direction string
	var closeReason sql.NullString
	err := s.Scan(
		&id, &t.Symbol, &direction, &t.EntryTime, &t.CloseTime, &t.EntryPrice, &t.TakeProfit, &t.StopLoss,
		&t.Leverage, &t.SpreadBP, &t.Notional, &t.Margin, &t.OrderFee, &t.SlippageReserve,
		&t.CapitalCommitted, &t.LiquidationPrice, &t.BreakEvenPrice, &t.MaxProfit, &t.MaxDrawdown,
		&t.ClosePrice, &t.PnL, &closeReason)
	if err != nil {
		return nil, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid trade id %q: %w", id, err)
	}
	if t.Direction, err = domain.ParseDirection(direction); err != nil {
		return nil, err
	}
	t.CloseReason = domain.CloseReasonUnknown
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	return t, nil
}
