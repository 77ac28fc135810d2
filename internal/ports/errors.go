package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
//
// Constraint rejections (price limit, T+1, insufficient cash) are NOT errors:
// the funnel counts and skips them silently. Errors are reserved for
// configuration, data and infrastructure failures.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Data Errors
	ErrNoTickData    = errors.New("no tick data for symbol-day")
	ErrUnorderedData = errors.New("tick data not ordered by timestamp")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
)
