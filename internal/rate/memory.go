package rate

import (
	"context"
	"sync"
	"time"

	"github.com/halinh/authcore/clock"
)

const defaultPruneInterval = time.Minute

type window struct {
	count int
	reset time.Time
}

// MemoryLimiter keeps windows in a process-local map. It is suitable for a
// single instance only; use RedisLimiter when several instances share
// traffic.
type MemoryLimiter struct {
	mu            sync.Mutex
	windows       map[string]*window
	clock         clock.Clock
	pruneInterval time.Duration
	lastPrune     time.Time
}

// NewMemory returns a MemoryLimiter reading time from clk. A nil clk uses
// the system clock.
func NewMemory(clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryLimiter{
		windows:       make(map[string]*window),
		clock:         clk,
		pruneInterval: defaultPruneInterval,
		lastPrune:     clk.Now(),
	}
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(_ context.Context, policy Policy, identifier string) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	now := l.clock.Now()
	key := windowKey(policy.Name, identifier)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= l.pruneInterval {
		l.pruneLocked(now)
	}

	w, ok := l.windows[key]
	if !ok || now.After(w.reset) {
		l.windows[key] = &window{count: 1, reset: now.Add(policy.Window)}
		return Decision{Allowed: true, Count: 1}, nil
	}
	if w.count >= policy.MaxAttempts {
		return Decision{Allowed: false, Count: w.count, RetryAfter: w.reset.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true, Count: w.count}, nil
}

// Prune drops every window whose reset time has passed and returns how many
// were removed.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.clock.Now())
}

// Len returns the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *MemoryLimiter) pruneLocked(now time.Time) int {
	removed := 0
	for key, w := range l.windows {
		if now.After(w.reset) {
			delete(l.windows, key)
			removed++
		}
	}
	l.lastPrune = now
	return removed
}
