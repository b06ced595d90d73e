package rate

import "errors"

var (
	// ErrRateLimited is returned once a counter is over its budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
