package domain

import "errors"

// Errors raised by the pricing math and the trade entity.
var (
	ErrInvalidDirection = errors.New("invalid direction, expected long or short")
	ErrInvalidLeverage  = errors.New("leverage must be positive")
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrInvalidNotional  = errors.New("notional must be positive")
	ErrInvalidCapital   = errors.New("capital must be positive")
	ErrMissingField     = errors.New("required field is missing")
	ErrTradeClosed      = errors.New("trade is already closed")
)
