package authcore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/halinh/authcore/internal/lockout"
	"github.com/halinh/authcore/jwt"
	"github.com/halinh/authcore/session"
)

// Rate-limit policy names configured by default.
const (
	PolicyLogin          = "login"
	PolicyRegister       = "register"
	PolicyRefresh        = "refresh"
	PolicyChangePassword = "change-password"
)

// Config is the full engine configuration. Start from DefaultConfig or
// LoadConfigFromEnv and override fields before passing it to the builder.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	Claims    ClaimsConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds key material and validity windows for both token kinds.
// Access and refresh tokens are always signed with different keys.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"

	// HS256 secrets.
	AccessSecret  []byte
	RefreshSecret []byte

	// Ed25519 key pairs (raw or PEM).
	AccessPrivateKey  []byte
	AccessPublicKey   []byte
	RefreshPrivateKey []byte
	RefreshPublicKey  []byte

	Issuer   string
	Audience string
	Leeway   time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis session store.
type SessionConfig struct {
	Namespace string
	// StoreTimeout bounds every store call. A timeout is a hard failure.
	StoreTimeout time.Duration
}

// ClaimsConfig drives ValidateClaims and issuance defaults.
type ClaimsConfig struct {
	SupportedLocales []string
	// SupportedTimezones restricts the tz claim. Empty accepts any zone the
	// runtime can load.
	SupportedTimezones []string
	PhonePattern       string
	DefaultLocale      string
	DefaultTimezone    string
}

// LockoutConfig controls the failed-login lock.
type LockoutConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// RateLimitPolicy is one named budget.
type RateLimitPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitConfig selects the limiter backend and its policies.
type RateLimitConfig struct {
	// Distributed uses Redis so instances share windows. Otherwise windows
	// are process-local.
	Distributed bool
	RedisPrefix string
	Policies    map[string]RateLimitPolicy
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the defaults. Secrets are left empty and must be set.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "halinh-astrology",
			Audience:      "halinh-users",
		},
		Session: SessionConfig{
			Namespace:    session.DefaultNamespace,
			StoreTimeout: 2 * time.Second,
		},
		Claims: ClaimsConfig{
			SupportedLocales:   []string{"vi", "en"},
			SupportedTimezones: []string{"Asia/Ho_Chi_Minh"},
			PhonePattern:       `^(\+84|0)[3-9]\d{8}$`,
			DefaultLocale:      "vi",
			DefaultTimezone:    "Asia/Ho_Chi_Minh",
		},
		Lockout: LockoutConfig{
			Enabled:     true,
			MaxAttempts: lockout.DefaultMaxAttempts,
			Window:      lockout.DefaultWindow,
		},
		RateLimit: RateLimitConfig{
			Policies: map[string]RateLimitPolicy{
				PolicyLogin:          {MaxAttempts: 5, Window: 15 * time.Minute},
				PolicyRegister:       {MaxAttempts: 3, Window: time.Hour},
				PolicyRefresh:        {MaxAttempts: 20, Window: 15 * time.Minute},
				PolicyChangePassword: {MaxAttempts: 3, Window: time.Hour},
			},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	out.JWT.AccessPrivateKey = cloneBytes(cfg.JWT.AccessPrivateKey)
	out.JWT.AccessPublicKey = cloneBytes(cfg.JWT.AccessPublicKey)
	out.JWT.RefreshPrivateKey = cloneBytes(cfg.JWT.RefreshPrivateKey)
	out.JWT.RefreshPublicKey = cloneBytes(cfg.JWT.RefreshPublicKey)
	out.Claims.SupportedLocales = append([]string(nil), cfg.Claims.SupportedLocales...)
	out.Claims.SupportedTimezones = append([]string(nil), cfg.Claims.SupportedTimezones...)
	if cfg.RateLimit.Policies != nil {
		out.RateLimit.Policies = make(map[string]RateLimitPolicy, len(cfg.RateLimit.Policies))
		for name, p := range cfg.RateLimit.Policies {
			out.RateLimit.Policies[name] = p
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be greater than AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.AccessSecret) == 0 {
			return errors.New("JWT AccessSecret must be set")
		}
		if len(c.JWT.RefreshSecret) == 0 {
			return errors.New("JWT RefreshSecret must be set")
		}
		if bytes.Equal(c.JWT.AccessSecret, c.JWT.RefreshSecret) {
			return errors.New("JWT AccessSecret and RefreshSecret must differ")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.AccessPrivateKey) == 0 || len(c.JWT.RefreshPrivateKey) == 0 {
			return errors.New("JWT ed25519 requires access and refresh private keys")
		}
		if len(c.JWT.AccessPublicKey) == 0 || len(c.JWT.RefreshPublicKey) == 0 {
			return errors.New("JWT ed25519 requires access and refresh public keys")
		}
		if bytes.Equal(c.JWT.AccessPrivateKey, c.JWT.RefreshPrivateKey) {
			return errors.New("JWT access and refresh keys must differ")
		}
	default:
		return errors.New("JWT SigningMethod must be hs256 or ed25519")
	}

	// Session
	if c.Session.StoreTimeout <= 0 {
		return errors.New("Session StoreTimeout must be > 0")
	}
	if strings.TrimSpace(c.Session.Namespace) == "" {
		return errors.New("Session Namespace must be set")
	}

	// Claims
	if len(c.Claims.SupportedLocales) == 0 {
		return errors.New("Claims SupportedLocales must not be empty")
	}
	if !contains(c.Claims.SupportedLocales, c.Claims.DefaultLocale) {
		return errors.New("Claims DefaultLocale must be a supported locale")
	}
	if c.Claims.DefaultTimezone == "" {
		return errors.New("Claims DefaultTimezone must be set")
	}
	if len(c.Claims.SupportedTimezones) > 0 && !contains(c.Claims.SupportedTimezones, c.Claims.DefaultTimezone) {
		return errors.New("Claims DefaultTimezone must be a supported timezone")
	}
	for _, tz := range c.Claims.SupportedTimezones {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("Claims timezone %q cannot be loaded: %w", tz, err)
		}
	}
	if c.Claims.PhonePattern != "" {
		if _, err := regexp.Compile(c.Claims.PhonePattern); err != nil {
			return fmt.Errorf("Claims PhonePattern invalid: %w", err)
		}
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.MaxAttempts <= 0 {
			return errors.New("Lockout MaxAttempts must be > 0")
		}
		if c.Lockout.Window <= 0 {
			return errors.New("Lockout Window must be > 0")
		}
	}

	// Rate limits
	for name, p := range c.RateLimit.Policies {
		if name == "" {
			return errors.New("RateLimit policy name must not be empty")
		}
		if p.MaxAttempts <= 0 {
			return fmt.Errorf("RateLimit %s MaxAttempts must be > 0", name)
		}
		if p.Window <= 0 {
			return fmt.Errorf("RateLimit %s Window must be > 0", name)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// LoadConfigFromEnv starts from DefaultConfig and overrides it from the
// process environment. Durations accept Go syntax ("15m") and a day suffix
// ("7d"). The result is not validated.
//
// Recognized variables: JWT_SECRET, JWT_REFRESH_SECRET, JWT_ACCESS_TTL,
// JWT_REFRESH_TTL, JWT_ISSUER, JWT_AUDIENCE, JWT_LEEWAY, SESSION_NAMESPACE,
// SESSION_STORE_TIMEOUT, RATE_LIMIT_DISTRIBUTED, LOCKOUT_ENABLED,
// LOCKOUT_MAX_ATTEMPTS, LOCKOUT_WINDOW.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var errs []error

	if v, ok := os.LookupEnv("JWT_SECRET"); ok {
		cfg.JWT.AccessSecret = []byte(v)
	}
	if v, ok := os.LookupEnv("JWT_REFRESH_SECRET"); ok {
		cfg.JWT.RefreshSecret = []byte(v)
	}
	envDuration("JWT_ACCESS_TTL", &cfg.JWT.AccessTTL, &errs)
	envDuration("JWT_REFRESH_TTL", &cfg.JWT.RefreshTTL, &errs)
	envDuration("JWT_LEEWAY", &cfg.JWT.Leeway, &errs)
	if v, ok := os.LookupEnv("JWT_ISSUER"); ok {
		cfg.JWT.Issuer = v
	}
	if v, ok := os.LookupEnv("JWT_AUDIENCE"); ok {
		cfg.JWT.Audience = v
	}
	if v, ok := os.LookupEnv("SESSION_NAMESPACE"); ok && v != "" {
		cfg.Session.Namespace = v
	}
	envDuration("SESSION_STORE_TIMEOUT", &cfg.Session.StoreTimeout, &errs)
	envBool("RATE_LIMIT_DISTRIBUTED", &cfg.RateLimit.Distributed, &errs)
	envBool("LOCKOUT_ENABLED", &cfg.Lockout.Enabled, &errs)
	if v, ok := os.LookupEnv("LOCKOUT_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOCKOUT_MAX_ATTEMPTS: %w", err))
		} else {
			cfg.Lockout.MaxAttempts = n
		}
	}
	envDuration("LOCKOUT_WINDOW", &cfg.Lockout.Window, &errs)

	return cfg, errors.Join(errs...)
}

func envDuration(name string, dst *time.Duration, errs *[]error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	d, err := parseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}

func envBool(name string, dst *bool, errs *[]error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = b
}

func parseDuration(v string) (time.Duration, error) {
	if strings.HasSuffix(v, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(v, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}
