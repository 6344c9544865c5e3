package authcore

import (
	"context"
	"regexp"
	"time"

	"github.com/halinh/authcore/clock"
	internalaudit "github.com/halinh/authcore/internal/audit"
	"github.com/halinh/authcore/internal/ids"
	"github.com/halinh/authcore/internal/lockout"
	"github.com/halinh/authcore/internal/rate"
	"github.com/halinh/authcore/jwt"
	"github.com/halinh/authcore/session"
	"github.com/rs/zerolog"
)

// Engine is the token lifecycle core. Every method is safe for concurrent
// use; shared mutable state lives only in the session store, the account
// repository and the rate limiter.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config Config
	clock  clock.Clock
	logger zerolog.Logger

	access   *jwt.Manager
	refresh  *jwt.Manager
	versions *ids.VersionSource

	sessions *session.Store
	accounts AccountRepository
	lockout  *lockout.Tracker

	limiter  rate.Limiter
	policies map[string]rate.Policy

	phonePattern *regexp.Regexp
	locales      map[string]struct{}
	timezones    map[string]struct{}

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close flushes pending audit events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Config returns a copy of the configuration in use.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the session store and returns its round-trip time.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	d, err := e.sessions.Ping(sctx)
	if err != nil {
		return 0, e.storeUnavailable(err)
	}
	return d, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.clock.Now().Sub(start))
}

// storeContext bounds one backing-store call. A timeout surfaces as
// STORE_UNAVAILABLE, never as a retry.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Session.StoreTimeout)
}

func (e *Engine) storeUnavailable(err error) *AuthError {
	e.metricInc(MetricStoreUnavailable)
	e.logger.Warn().Err(err).Msg("backing store unavailable")
	return newAuthError(ReasonStoreUnavailable, err)
}
