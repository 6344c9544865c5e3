package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/halinh/authcore/internal/lockout"
)

// RecordFailedLogin counts one failed password check for account and locks
// it once the configured threshold is reached. A lock whose window has
// passed is cleared and counting restarts at 1.
//
// The increment is atomic per account through the repository's
// compare-and-swap. account is updated in place with the stored result.
func (e *Engine) RecordFailedLogin(ctx context.Context, account *Account) (LockoutStatus, error) {
	if e == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}
	if account == nil || account.ID == "" {
		return LockoutStatus{}, fmt.Errorf("%w: missing account id", ErrInvalidAccount)
	}
	if e.lockout == nil {
		return LockoutStatus{}, nil
	}

	now := e.clock.Now()
	wasLocked := lockout.Locked(lockout.State(account.Lockout()), now)

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	state, err := e.lockout.RecordFailure(sctx, account.ID)
	if err != nil {
		authErr := e.lockoutError(err)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", authErr, nil)
		return LockoutStatus{}, authErr
	}

	account.FailedAttempts = state.FailedAttempts
	account.LockUntil = state.LockUntil

	status := LockoutStatus{
		FailedAttempts: state.FailedAttempts,
		Locked:         lockout.Locked(state, now),
		LockUntil:      state.LockUntil,
	}
	if status.Locked {
		status.RetryAfter = lockout.Remaining(state, now)
	} else {
		status.RemainingAttempts = e.lockout.Config().MaxAttempts - state.FailedAttempts
	}

	e.metricInc(MetricLoginFailureRecorded)
	e.emitAudit(ctx, auditEventLoginFailure, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"failed_attempts": strconv.Itoa(state.FailedAttempts)}
	})
	if status.Locked && !wasLocked {
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditEventAccountLocked, true, account.ID, "", nil, func() map[string]string {
			return map[string]string{"lock_until": state.LockUntil.UTC().Format(time.RFC3339)}
		})
	}
	return status, nil
}

// RecordSuccessfulLogin clears the failed-attempt counter and any lock.
// account is updated in place.
func (e *Engine) RecordSuccessfulLogin(ctx context.Context, account *Account) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if account == nil || account.ID == "" {
		return fmt.Errorf("%w: missing account id", ErrInvalidAccount)
	}
	if e.lockout == nil {
		return nil
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.lockout.RecordSuccess(sctx, account.ID); err != nil {
		authErr := e.lockoutError(err)
		e.emitAudit(ctx, auditEventLoginSuccess, false, account.ID, "", authErr, nil)
		return authErr
	}

	account.FailedAttempts = 0
	account.LockUntil = time.Time{}
	e.metricInc(MetricLoginSuccessRecorded)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, "", nil, nil)
	return nil
}

// IsLocked reports whether account's lock window is open at the engine clock.
func (e *Engine) IsLocked(account *Account) bool {
	if e == nil || account == nil {
		return false
	}
	return lockout.Locked(lockout.State(account.Lockout()), e.clock.Now())
}

func (e *Engine) lockoutError(err error) *AuthError {
	if errors.Is(err, ErrAccountNotFound) {
		return newAuthError(ReasonAccountNotFound, err)
	}
	return e.storeUnavailable(err)
}

// lockoutRepository adapts an AccountRepository to the tracker.
type lockoutRepository struct {
	accounts AccountRepository
}

func (r lockoutRepository) Load(ctx context.Context, accountID string) (lockout.State, error) {
	account, err := r.accounts.FindByID(ctx, accountID)
	if err != nil {
		return lockout.State{}, err
	}
	if account == nil {
		return lockout.State{}, ErrAccountNotFound
	}
	return lockout.State(account.Lockout()), nil
}

func (r lockoutRepository) CompareAndSwap(ctx context.Context, accountID string, expected, next lockout.State) (bool, error) {
	return r.accounts.CompareAndSwapLockout(ctx, accountID, LockoutState(expected), LockoutState(next))
}
