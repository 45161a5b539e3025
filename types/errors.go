package types

import (
	"errors"
	"fmt"
)

// Streaming client errors. Callers match with errors.Is; wrapped variants
// carry their base kind so a single Is check covers the whole family.
var (
	ErrAuthRequired    = errors.New("authentication required")
	ErrNotAvailable    = errors.New("not available")
	ErrWaitTimeout     = errors.New("timed out waiting for data")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTransport       = errors.New("transport failure")
	ErrFetchFailed     = errors.New("metadata fetch failed")

	ErrInvalidInterval  = fmt.Errorf("%w: unknown interval token", ErrInvalidArgument)
	ErrInvalidCondition = fmt.Errorf("%w: unparseable condition", ErrInvalidArgument)
	ErrEmptyQuery       = fmt.Errorf("%w: empty search query", ErrInvalidArgument)
	ErrSeriesRequired   = fmt.Errorf("%w: study requires a live candle subscription", ErrInvalidArgument)
)
