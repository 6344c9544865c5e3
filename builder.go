package authcore

import (
	"crypto/rand"
	"errors"
	"regexp"

	"github.com/halinh/authcore/clock"
	internalaudit "github.com/halinh/authcore/internal/audit"
	"github.com/halinh/authcore/internal/ids"
	"github.com/halinh/authcore/internal/lockout"
	"github.com/halinh/authcore/internal/rate"
	"github.com/halinh/authcore/jwt"
	"github.com/halinh/authcore/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an Engine.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	accounts AccountRepository

	auditSink AuditSink
	logger    zerolog.Logger
	clock     clock.Clock

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the whole configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session store and, when
// Config.RateLimit.Distributed is set, the rate limiter. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountRepository sets the account persistence dependency. Required.
func (b *Builder) WithAccountRepository(repo AccountRepository) *Builder {
	b.accounts = repo
	return b
}

// WithAuditSink sets where authentication events are delivered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger. The default discards everything.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the wall clock. Token validity, session expiry, lock
// windows and rate windows all read this clock.
func (b *Builder) WithClock(clk clock.Clock) *Builder {
	b.clock = clk
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the authenticate and refresh latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. A Builder
// can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account repository required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clk := b.clock
	if clk == nil {
		clk = clock.System{}
	}

	engine := &Engine{
		config:   cfg,
		clock:    clk,
		logger:   b.logger.With().Str("component", "authcore").Logger(),
		accounts: b.accounts,
		versions: ids.NewVersionSource(rand.Reader),
		sessions: session.NewStore(b.redis, cfg.Session.Namespace, clk),
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- TOKENS --------
	access, err := jwt.NewManager(managerConfig(cfg.JWT, jwt.KindAccess, clk))
	if err != nil {
		return nil, err
	}
	refresh, err := jwt.NewManager(managerConfig(cfg.JWT, jwt.KindRefresh, clk))
	if err != nil {
		return nil, err
	}
	engine.access = access
	engine.refresh = refresh

	// -------- CLAIMS --------
	if cfg.Claims.PhonePattern != "" {
		engine.phonePattern = regexp.MustCompile(cfg.Claims.PhonePattern)
	}
	engine.locales = toSet(cfg.Claims.SupportedLocales)
	engine.timezones = toSet(cfg.Claims.SupportedTimezones)

	// -------- LOCKOUT --------
	if cfg.Lockout.Enabled {
		tracker, err := lockout.NewTracker(lockoutRepository{accounts: b.accounts}, lockout.Config{
			MaxAttempts: cfg.Lockout.MaxAttempts,
			Window:      cfg.Lockout.Window,
		}, clk)
		if err != nil {
			return nil, err
		}
		engine.lockout = tracker
	}

	// -------- RATE LIMITING --------
	if cfg.RateLimit.Distributed {
		engine.limiter = rate.NewRedis(b.redis, cfg.RateLimit.RedisPrefix, clk)
	} else {
		engine.limiter = rate.NewMemory(clk)
	}
	engine.policies = make(map[string]rate.Policy, len(cfg.RateLimit.Policies))
	for name, p := range cfg.RateLimit.Policies {
		engine.policies[name] = rate.Policy{Name: name, MaxAttempts: p.MaxAttempts, Window: p.Window}
	}

	// -------- AUDIT --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, engine.logger)

	b.built = true

	return engine, nil
}

func managerConfig(cfg JWTConfig, kind jwt.Kind, clk clock.Clock) jwt.Config {
	out := jwt.Config{
		Kind:          kind,
		SigningMethod: jwt.SigningMethod(cfg.SigningMethod),
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		Leeway:        cfg.Leeway,
		Now:           clk.Now,
	}
	switch {
	case kind == jwt.KindAccess && out.SigningMethod == jwt.MethodHS256:
		out.TTL = cfg.AccessTTL
		out.PrivateKey = cloneBytes(cfg.AccessSecret)
	case kind == jwt.KindAccess:
		out.TTL = cfg.AccessTTL
		out.PrivateKey = cloneBytes(cfg.AccessPrivateKey)
		out.PublicKey = cloneBytes(cfg.AccessPublicKey)
	case out.SigningMethod == jwt.MethodHS256:
		out.TTL = cfg.RefreshTTL
		out.PrivateKey = cloneBytes(cfg.RefreshSecret)
	default:
		out.TTL = cfg.RefreshTTL
		out.PrivateKey = cloneBytes(cfg.RefreshPrivateKey)
		out.PublicKey = cloneBytes(cfg.RefreshPublicKey)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
