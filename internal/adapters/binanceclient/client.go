package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxPageLimit = 1500
)

// Client implements ports.BarProvider over the Binance USD-M futures klines endpoint.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	pageLimit     int
	maxRetries    int
	retryMin      time.Duration
	retryMax      time.Duration
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // overrides the production/testnet URL when set
	Logger     ports.Logger
	PageLimit  int           // klines per request, at most 1500
	MaxRetries int           // retries for rate limits and outages
	RetryDelay time.Duration // first retry delay, doubled per attempt
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Binance client", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance kline client configured", map[string]interface{}{"baseURL": client.BaseURL})

	pageLimit := cfg.PageLimit
	if pageLimit <= 0 || pageLimit > maxPageLimit {
		pageLimit = maxPageLimit
	}
	retryMin := cfg.RetryDelay
	if retryMin <= 0 {
		retryMin = time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		pageLimit:     pageLimit,
		maxRetries:    maxRetries,
		retryMin:      retryMin,
		retryMax:      30 * retryMin,
	}, nil
}

// Bars fetches every kline of symbol on tf whose open time lies in [start, end).
func (c *Client) Bars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Kline, error) {
	const op = "Bars"
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ports.ErrInvalidRequest, start, end)
	}

	var out []*domain.Kline
	from := start
	for {
		page, err := c.fetchPage(ctx, symbol, tf, from, end)
		if err != nil {
			return nil, err
		}
		for _, bk := range page {
			k, err := translateBinanceKline(bk, symbol, tf)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
			}
			if !k.OpenTime.Before(end) {
				continue
			}
			out = append(out, k)
		}
		if len(page) < c.pageLimit {
			break
		}
		from = time.UnixMilli(page[len(page)-1].OpenTime + 1)
		if !from.Before(end) {
			break
		}
	}

	c.logger.Debug(ctx, "Klines fetched", map[string]interface{}{
		"symbol":    symbol,
		"timeframe": tf,
		"count":     len(out),
	})
	return out, nil
}

// fetchPage requests one page and retries rate limits and outages with backoff.
func (c *Client) fetchPage(ctx context.Context, symbol string, tf domain.Timeframe, from, end time.Time) ([]*futures.Kline, error) {
	const op = "GetKlines"
	b := &backoff.Backoff{Min: c.retryMin, Max: c.retryMax, Factor: 2, Jitter: true}

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(string(tf)).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli() - 1).
			Limit(c.pageLimit).
			Do(ctx)
		if err == nil {
			return klines, nil
		}

		mapped := c.handleError(ctx, err, op)
		retryable := errors.Is(mapped, ports.ErrRateLimited) || errors.Is(mapped, ports.ErrExchangeUnavailable)
		if !retryable || int(b.Attempt()) >= c.maxRetries {
			return nil, mapped
		}

		delay := b.Duration()
		c.logger.Warn(ctx, "Retrying kline request", map[string]interface{}{
			"symbol":  symbol,
			"attempt": int(b.Attempt()),
			"delay":   delay.String(),
		})
		select {
		case <-ctx.Done():
			return nil, c.handleError(ctx, ctx.Err(), op)
		case <-time.After(delay):
		}
	}
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case 0, -1000, -1001, -1006, -1007: // Unknown, disconnected, unexpected response, timeout
			mappedErr = ports.ErrExchangeUnavailable
		case -1021: // Timestamp outside recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature or API key
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "use of closed network connection"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

func translateBinanceKline(bk *futures.Kline, symbol string, tf domain.Timeframe) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	fields := [...]struct {
		name string
		raw  string
	}{
		{"open", bk.Open}, {"high", bk.High}, {"low", bk.Low}, {"close", bk.Close}, {"volume", bk.Volume},
	}
	var values [len(fields)]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s '%s': %w", f.name, f.raw, err)
		}
		values[i] = v
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: time.UnixMilli(bk.CloseTime).UTC(),
		Symbol:    symbol,
		Interval:  tf,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}
