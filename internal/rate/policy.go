package rate

import (
	"context"
	"fmt"
	"time"
)

// Policy is one call site's budget: at most MaxAttempts calls per Window for
// a single identifier.
type Policy struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
}

// Validate rejects empty names and non-positive limits.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPolicy)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: %s MaxAttempts must be > 0", ErrInvalidPolicy, p.Name)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: %s Window must be > 0", ErrInvalidPolicy, p.Name)
	}
	return nil
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool
	// Count is the number of calls recorded in the current window,
	// including this one when allowed.
	Count int
	// RetryAfter is the time until the window resets. Zero when allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds. A denied decision
// always reports at least one second.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter counts calls per (policy, identifier) in reset-on-expiry windows.
//
// A window starts as {count: 1, reset: now + window} on the first call and
// on the first call after reset. Within a window, a call is allowed and
// counted while count < MaxAttempts and denied without counting otherwise.
// Implementations must give concurrent calls for the same identifier a
// single linear order.
type Limiter interface {
	Check(ctx context.Context, policy Policy, identifier string) (Decision, error)
}

func windowKey(policy, identifier string) string {
	return policy + ":" + identifier
}
