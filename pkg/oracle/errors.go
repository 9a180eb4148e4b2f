package oracle

import "errors"

// Oracle error values.
var (
	ErrInvalidFeedData      = errors.New("invalid feed data")
	ErrFeedNotConfigured    = errors.New("feed not configured")
	ErrNoValidCachedData    = errors.New("no valid cached data")
	ErrFeedUnavailable      = errors.New("feed unavailable")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrInvalidRoundID       = errors.New("invalid round id")
	ErrInvalidFeedConfig    = errors.New("invalid feed config")
	ErrInvalidServiceConfig = errors.New("invalid oracle service config")
)
