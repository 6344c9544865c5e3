package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/halinh/authcore/internal/audit"
	"github.com/halinh/authcore/jwt"
	"github.com/rs/zerolog"
)

// Account is the end-user record the engine reads and whose lockout fields
// it mutates. Persistence belongs to an AccountRepository.
type Account struct {
	ID           string
	Email        string
	Phone        string
	PasswordHash string
	Active       bool
	Locale       string
	Timezone     string

	FailedAttempts int
	// LockUntil is zero when the account has never been locked.
	LockUntil time.Time
}

// Lockout returns the lockout fields of a.
func (a *Account) Lockout() LockoutState {
	return LockoutState{FailedAttempts: a.FailedAttempts, LockUntil: a.LockUntil}
}

// LockoutState is the persisted lockout portion of an Account.
type LockoutState struct {
	FailedAttempts int
	LockUntil      time.Time
}

// Equal reports whether s and o hold the same counter and lock instant.
func (s LockoutState) Equal(o LockoutState) bool {
	return s.FailedAttempts == o.FailedAttempts && s.LockUntil.Equal(o.LockUntil)
}

// LockoutStatus is returned by Engine.RecordFailedLogin.
type LockoutStatus struct {
	FailedAttempts int
	Locked         bool
	LockUntil      time.Time
	// RemainingAttempts before the lock engages. Zero once locked.
	RemainingAttempts int
	RetryAfter        time.Duration
}

// AccountRepository is the inbound persistence dependency.
//
// FindByID returns ErrAccountNotFound when no account has id.
// CompareAndSwapLockout writes next only if the stored lockout fields still
// equal expected, and reports whether the write happened.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	Save(ctx context.Context, account *Account) error
	CompareAndSwapLockout(ctx context.Context, id string, expected, next LockoutState) (bool, error)
}

// DeviceInfo describes the client a session is issued to.
type DeviceInfo struct {
	UserAgent  string
	IP         string
	Location   string
	RememberMe bool
}

// TokenPair is returned by Engine.IssueTokens.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	// Version scopes the refresh token to its session record.
	Version string
}

// AccessGrant is returned by Engine.RefreshAccessToken.
type AccessGrant struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Claims is the verified token payload.
type Claims = jwt.Claims

// Identity is what the request pipeline attaches for downstream handlers.
type Identity struct {
	Account  *Account
	Locale   string
	Timezone string
	Version  string
	Claims   *Claims
}

// SessionSummary is the caller-facing view of one session record.
type SessionSummary struct {
	Version    string
	UserAgent  string
	IP         string
	Location   string
	RememberMe bool
	Locale     string
	Timezone   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// RateLimitDecision is the outcome of Engine.CheckRateLimit.
type RateLimitDecision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// AuditEvent is a structured authentication event emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an AuditSink that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON-encoded event per line to an io.Writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZerologSink renders each event as one structured log line.
type ZerologSink = internalaudit.ZerologSink

// MultiSink fans events out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink on w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZerologSink creates a ZerologSink on logger.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return internalaudit.NewZerologSink(logger)
}
