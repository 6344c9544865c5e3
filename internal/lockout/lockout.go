package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halinh/authcore/clock"
)

const (
	// DefaultMaxAttempts is the failed-check count that locks an account.
	DefaultMaxAttempts = 5
	// DefaultWindow is how long a lock lasts.
	DefaultWindow = 2 * time.Hour

	defaultMaxRetries = 8
)

var (
	// ErrConflict is returned when every compare-and-swap attempt lost a race.
	ErrConflict = errors.New("lockout update conflict")
	// ErrDisabled is returned by NewTracker for a zero MaxAttempts.
	ErrDisabled = errors.New("lockout disabled")
)

// State is the lockout portion of an account record. A zero LockUntil means
// no lock has been set.
type State struct {
	FailedAttempts int
	LockUntil      time.Time
}

// Equal compares states by instant, ignoring time zone and monotonic reading.
func (s State) Equal(o State) bool {
	return s.FailedAttempts == o.FailedAttempts && s.LockUntil.Equal(o.LockUntil)
}

// Config holds the lock threshold and duration.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return errors.New("lockout MaxAttempts must be > 0")
	}
	if c.Window <= 0 {
		return errors.New("lockout Window must be > 0")
	}
	return nil
}

// Locked reports whether s is LOCKED at now.
func Locked(s State, now time.Time) bool {
	return !s.LockUntil.IsZero() && s.LockUntil.After(now)
}

// Remaining returns how long s stays locked after now, or zero.
func Remaining(s State, now time.Time) time.Duration {
	if !Locked(s, now) {
		return 0
	}
	return s.LockUntil.Sub(now)
}

// Evaluate returns the state after one failed password check at now.
//
// A lock that has lapsed (LockUntil at or before now) restarts counting at 1
// and is cleared.
// Otherwise the counter grows by one, and reaching MaxAttempts while OPEN
// sets LockUntil to now+Window. Failures while LOCKED still count but never
// extend the lock.
func Evaluate(s State, now time.Time, cfg Config) State {
	if !s.LockUntil.IsZero() && !s.LockUntil.After(now) {
		return State{FailedAttempts: 1}
	}

	next := State{FailedAttempts: s.FailedAttempts + 1, LockUntil: s.LockUntil}
	if next.FailedAttempts >= cfg.MaxAttempts && !Locked(s, now) {
		next.LockUntil = now.Add(cfg.Window)
	}
	return next
}

// Repository is the account storage the Tracker mutates.
//
// CompareAndSwap must write next only if the stored state still equals
// expected, and report whether it did.
type Repository interface {
	Load(ctx context.Context, accountID string) (State, error)
	CompareAndSwap(ctx context.Context, accountID string, expected, next State) (bool, error)
}

// Tracker applies lockout transitions atomically per account through the
// repository's compare-and-swap primitive.
type Tracker struct {
	repo       Repository
	config     Config
	clock      clock.Clock
	maxRetries int
}

// NewTracker validates cfg and returns a Tracker.
func NewTracker(repo Repository, cfg Config, clk clock.Clock) (*Tracker, error) {
	if repo == nil {
		return nil, errors.New("lockout repository is nil")
	}
	if cfg.MaxAttempts == 0 {
		return nil, ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Tracker{repo: repo, config: cfg, clock: clk, maxRetries: defaultMaxRetries}, nil
}

// Config returns the thresholds in use.
func (t *Tracker) Config() Config {
	return t.config
}

// RecordFailure applies one failed check and returns the stored result.
// Concurrent failures for the same account are never under-counted: a lost
// swap reloads and re-evaluates.
func (t *Tracker) RecordFailure(ctx context.Context, accountID string) (State, error) {
	return t.update(ctx, accountID, func(s State, now time.Time) (State, bool) {
		return Evaluate(s, now, t.config), true
	})
}

// RecordSuccess clears the counter and any lock.
func (t *Tracker) RecordSuccess(ctx context.Context, accountID string) error {
	_, err := t.update(ctx, accountID, func(s State, _ time.Time) (State, bool) {
		if s.Equal(State{}) {
			return s, false
		}
		return State{}, true
	})
	return err
}

// IsLocked is a pure check against the tracker clock.
func (t *Tracker) IsLocked(s State) bool {
	return Locked(s, t.clock.Now())
}

func (t *Tracker) update(ctx context.Context, accountID string, apply func(State, time.Time) (State, bool)) (State, error) {
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		current, err := t.repo.Load(ctx, accountID)
		if err != nil {
			return State{}, err
		}
		next, write := apply(current, t.clock.Now())
		if !write {
			return current, nil
		}
		swapped, err := t.repo.CompareAndSwap(ctx, accountID, current, next)
		if err != nil {
			return State{}, err
		}
		if swapped {
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return State{}, err
		}
	}
	return State{}, fmt.Errorf("%w: account %s after %d attempts", ErrConflict, accountID, t.maxRetries)
}
