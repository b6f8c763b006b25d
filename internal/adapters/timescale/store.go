package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

// Config holds the connection settings.
type Config struct {
	DSN    string
	Logger ports.Logger
}

// Store keeps bars in a TimescaleDB hypertable. It also works on plain
// PostgreSQL, where the table stays a regular table.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// New connects, pings and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: timescale DSN is required", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", ports.ErrDBConnection, err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	cfg.Logger.Info(ctx, "Connected to TimescaleDB")
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS market`,
		`CREATE TABLE IF NOT EXISTS market.symbol_intervals (
			symbol_interval_id SERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			UNIQUE (symbol, interval)
		)`,
		`CREATE TABLE IF NOT EXISTS market.kline (
			symbol_interval_id INT NOT NULL REFERENCES market.symbol_intervals(symbol_interval_id),
			open_time TIMESTAMPTZ NOT NULL,
			close_time TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol_interval_id, open_time)
		)`,
		`DO $$
		BEGIN
			IF EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')
				AND NOT EXISTS (
					SELECT 1 FROM timescaledb_information.hypertables
					WHERE hypertable_schema = 'market' AND hypertable_name = 'kline'
				) THEN
				PERFORM create_hypertable('market.kline', 'open_time');
			END IF;
		END $$`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: creating schema: %w", ports.ErrQueryFailed, err)
		}
	}
	return nil
}

// Bars returns stored bars of symbol on tf whose open time is in [start, end).
func (s *Store) Bars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Kline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.open_time, k.close_time, k.open, k.high, k.low, k.close, k.volume
		FROM market.kline AS k
		JOIN market.symbol_intervals AS si ON k.symbol_interval_id = si.symbol_interval_id
		WHERE si.symbol = $1 AND si.interval = $2
			AND k.open_time >= $3 AND k.open_time < $4
		ORDER BY k.open_time`,
		symbol, string(tf), start.UTC(), end.UTC())
	if err != nil {
		return nil, mapError(ctx, err)
	}
	defer rows.Close()

	var out []*domain.Kline
	for rows.Next() {
		k := &domain.Kline{Symbol: symbol, Interval: tf}
		if err := rows.Scan(&k.OpenTime, &k.CloseTime, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
			return nil, fmt.Errorf("%w: scanning bar: %w", ports.ErrQueryFailed, err)
		}
		k.OpenTime = k.OpenTime.UTC()
		k.CloseTime = k.CloseTime.UTC()
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err)
	}
	s.logger.Debug(ctx, "Loaded bars from TimescaleDB", map[string]interface{}{
		"symbol": symbol, "timeframe": string(tf), "bars": len(out),
	})
	return out, nil
}

// SaveBars replaces stored bars covering the time span of bars and bulk
// loads them with COPY, all in one transaction.
func (s *Store) SaveBars(ctx context.Context, symbol string, tf domain.Timeframe, bars []*domain.Kline) error {
	if len(bars) == 0 {
		return nil
	}
	startTime := time.Now()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	}
	defer conn.Close()

	var copied int64
	err = conn.Raw(func(driverConn any) error {
		pg := driverConn.(*stdlib.Conn).Conn()
		tx, err := pg.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var id int64
		err = tx.QueryRow(ctx, `
			INSERT INTO market.symbol_intervals (symbol, interval)
			VALUES ($1, $2)
			ON CONFLICT (symbol, interval) DO UPDATE SET symbol = EXCLUDED.symbol
			RETURNING symbol_interval_id`,
			symbol, string(tf)).Scan(&id)
		if err != nil {
			return fmt.Errorf("upserting symbol interval: %w", err)
		}

		first, last := bars[0].OpenTime.UTC(), bars[len(bars)-1].OpenTime.UTC()
		if _, err := tx.Exec(ctx,
			`DELETE FROM market.kline WHERE symbol_interval_id = $1 AND open_time >= $2 AND open_time <= $3`,
			id, first, last); err != nil {
			return fmt.Errorf("clearing range: %w", err)
		}

		copied, err = tx.CopyFrom(ctx,
			pgx.Identifier{"market", "kline"},
			[]string{"symbol_interval_id", "open_time", "close_time", "open", "high", "low", "close", "volume"},
			pgx.CopyFromSlice(len(bars), func(i int) ([]any, error) {
				k := bars[i]
				return []any{id, k.OpenTime.UTC(), k.CloseTime.UTC(), k.Open, k.High, k.Low, k.Close, k.Volume}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying bars: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return mapError(ctx, err)
	}

	s.logger.Info(ctx, "Saved bars to TimescaleDB", map[string]interface{}{
		"symbol":   symbol,
		"interval": string(tf),
		"rows":     copied,
		"took":     time.Since(startTime).String(),
	})
	return nil
}

func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ports.ErrContextCanceled, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %w", ports.ErrDuplicateEntry, err)
		case "23503":
			return fmt.Errorf("%w: %w", ports.ErrNotFound, err)
		case "08000", "08003", "08006":
			return fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
		}
	}
	return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
}
