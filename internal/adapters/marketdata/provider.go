package marketdata

import (
	"context"
	"fmt"

	"marginBacktester/config"
	"marginBacktester/internal/adapters/binanceclient"
	"marginBacktester/internal/adapters/csvstore"
	"marginBacktester/internal/adapters/timescale"
	"marginBacktester/internal/ports"
)

// Open builds the bar provider selected by cfg.DataSource. The returned
// close function is never nil.
func Open(ctx context.Context, cfg *config.Config, logger ports.Logger) (ports.BarProvider, func() error, error) {
	noop := func() error { return nil }

	switch cfg.DataSource {
	case config.SourceCSV:
		store, err := csvstore.New(cfg.DataDir, logger)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case config.SourceBinance:
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     logger,
			MaxRetries: 5,
		})
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	case config.SourceTimescale:
		store, err := timescale.New(ctx, timescale.Config{DSN: cfg.TimescaleDSN, Logger: logger})
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: unknown data source %q", ports.ErrConfigurationError, cfg.DataSource)
	}
}
