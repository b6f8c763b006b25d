package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

var tradeHeader = []string{
	"id", "symbol", "direction", "entry_time", "close_time", "entry_price", "close_price",
	"take_profit", "stop_loss", "leverage", "margin", "notional", "order_fee",
	"pnl", "close_reason",
}

// WriteKlines writes bars with a header row.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339Nano),
			k.CloseTime.UTC().Format(time.RFC3339Nano),
			k.Symbol,
			string(k.Interval),
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadKlines parses bars written by WriteKlines. Empty symbol or interval
// columns fall back to the given symbol and tf.
func ReadKlines(r io.Reader, symbol string, tf domain.Timeframe) ([]*domain.Kline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(klineHeader)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ports.ErrInvalidRequest, err)
	}
	if !strings.EqualFold(header[0], klineHeader[0]) {
		return nil, fmt.Errorf("%w: unexpected header %v", ports.ErrInvalidRequest, header)
	}

	var out []*domain.Kline
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ports.ErrInvalidRequest, line, err)
		}
		k, err := parseKline(rec, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ports.ErrInvalidRequest, line, err)
		}
		out = append(out, k)
	}
	return out, nil
}

func parseKline(rec []string, symbol string, tf domain.Timeframe) (*domain.Kline, error) {
	openTime, err := parseTime(rec[0])
	if err != nil {
		return nil, err
	}
	closeTime, err := parseTime(rec[1])
	if err != nil {
		return nil, err
	}
	k := &domain.Kline{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    rec[2],
		Interval:  domain.Timeframe(rec[3]),
	}
	if k.Symbol == "" {
		k.Symbol = symbol
	}
	if k.Interval == "" {
		k.Interval = tf
	}
	fields := []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(rec[4+i], 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", klineHeader[4+i], err)
		}
		*dst = v
	}
	return k, nil
}

// parseTime accepts RFC3339 timestamps or unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// WriteTrades writes closed trades, one row each, in the given order.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		err := writer.Write([]string{
			t.ID.String(),
			t.Symbol,
			string(t.Direction),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.CloseTime.UTC().Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			formatFloat(t.ClosePrice),
			formatFloat(t.TakeProfit),
			formatFloat(t.StopLoss),
			formatFloat(t.Leverage),
			formatFloat(t.Margin),
			formatFloat(t.Notional),
			formatFloat(t.OrderFee),
			formatFloat(t.PnL),
			string(t.CloseReason),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Store keeps one CSV file per symbol and timeframe under a directory.
type Store struct {
	dir    string
	logger ports.Logger
}

// New creates a store rooted at dir.
func New(dir string, logger ports.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: data directory is required", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Path returns the file holding bars of symbol on tf.
func (s *Store) Path(symbol string, tf domain.Timeframe) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", strings.ToUpper(symbol), tf))
}

// Bars returns the stored bars of symbol whose open time is in [start, end).
// A zero start or end leaves that side unbounded.
func (s *Store) Bars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Kline, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(ports.ErrContextCanceled, err)
	}
	path := s.Path(symbol, tf)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ports.ErrUnknown, path, err)
	}
	defer f.Close()

	all, err := ReadKlines(f, symbol, tf)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := make([]*domain.Kline, 0, len(all))
	for _, k := range all {
		if !start.IsZero() && k.OpenTime.Before(start) {
			continue
		}
		if !end.IsZero() && !k.OpenTime.Before(end) {
			continue
		}
		out = append(out, k)
	}
	s.logger.Debug(ctx, "Loaded bars from CSV", map[string]interface{}{
		"path":  path,
		"total": len(all),
		"kept":  len(out),
	})
	return out, nil
}

// SaveBars replaces the file of symbol on tf with bars.
func (s *Store) SaveBars(ctx context.Context, symbol string, tf domain.Timeframe, bars []*domain.Kline) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ports.ErrUnknown, s.dir, err)
	}
	path := s.Path(symbol, tf)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %w", ports.ErrUnknown, tmp, err)
	}
	if err := WriteKlines(f, bars); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: closing %s: %w", ports.ErrUnknown, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: renaming %s: %w", ports.ErrUnknown, tmp, err)
	}
	s.logger.Info(ctx, "Saved bars to CSV", map[string]interface{}{"path": path, "bars": len(bars)})
	return nil
}
