package ports

import "errors"

// Standard application-level errors.
// Adapters and the backtest core wrap underlying failures with these.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Backtest Errors
	ErrInsufficientCapital    = errors.New("insufficient available capital")
	ErrInvalidEntry           = errors.New("invalid entry specification")
	ErrUnknownInstrumentClass = errors.New("unknown instrument class")
	ErrTradeAlreadyClosed     = errors.New("trade already closed")
	ErrInvariantViolation     = errors.New("ledger invariant violated")
	ErrNoBars                 = errors.New("no bars for requested timeframe")
	ErrNonMonotonicBars       = errors.New("bar timestamps are not strictly increasing")

	// Market Data Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
)
