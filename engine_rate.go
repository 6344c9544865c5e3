package authcore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CheckRateLimit counts one attempt by identifier against the named policy.
// Identifiers are case-insensitive and trimmed.
//
// A denied attempt is not counted and returns the decision together with an
// *AuthError of reason RATE_LIMITED whose RetryAfter is when the window
// resets, rounded up to whole seconds. A limiter backend failure returns
// STORE_UNAVAILABLE so the check fails closed.
func (e *Engine) CheckRateLimit(ctx context.Context, identifier, policyName string) (RateLimitDecision, error) {
	if e == nil {
		return RateLimitDecision{}, ErrEngineNotReady
	}
	policy, ok := e.policies[policyName]
	if !ok {
		return RateLimitDecision{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policyName)
	}
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return RateLimitDecision{}, ErrInvalidIdentifier
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	d, err := e.limiter.Check(sctx, policy, identifier)
	if err != nil {
		return RateLimitDecision{}, e.storeUnavailable(err)
	}

	decision := RateLimitDecision{
		Allowed:    d.Allowed,
		Count:      d.Count,
		Limit:      policy.MaxAttempts,
		RetryAfter: time.Duration(d.RetryAfterSeconds()) * time.Second,
	}
	if !d.Allowed {
		e.emitRateLimit(ctx, policyName, identifier, decision)
		return decision, &AuthError{Reason: ReasonRateLimited, RetryAfter: decision.RetryAfter}
	}
	return decision, nil
}
