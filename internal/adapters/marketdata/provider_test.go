package marketdata

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginBacktester/config"
	"marginBacktester/internal/adapters/binanceclient"
	"marginBacktester/internal/adapters/csvstore"
	"marginBacktester/internal/adapters/logger"
	"marginBacktester/internal/ports"
)

func TestOpen(t *testing.T) {
	log := logger.NewWriterLogger(io.Discard, logger.LevelInfo, 0)
	ctx := context.Background()

	provider, closeFn, err := Open(ctx, &config.Config{DataSource: config.SourceCSV, DataDir: t.TempDir()}, log)
	require.NoError(t, err)
	assert.IsType(t, &csvstore.Store{}, provider)
	assert.NoError(t, closeFn())

	provider, closeFn, err = Open(ctx, &config.Config{DataSource: config.SourceBinance}, log)
	require.NoError(t, err)
	assert.IsType(t, &binanceclient.Client{}, provider)
	assert.NoError(t, closeFn())

	_, closeFn, err = Open(ctx, &config.Config{DataSource: config.SourceTimescale}, log)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.NotNil(t, closeFn)

	_, _, err = Open(ctx, &config.Config{DataSource: "ftp"}, log)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, _, err = Open(ctx, &config.Config{DataSource: config.SourceCSV}, log)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
