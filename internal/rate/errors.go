package rate

import "errors"

var (
	// ErrRateLimited is returned by Check when the caller wants an error form
	// of a denied Decision.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures of the distributed limiter.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned for policies with non-positive limits.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
