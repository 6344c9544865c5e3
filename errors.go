package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Reason tags every authentication failure. Callers switch on it to pick a
// user-facing message and status.
type Reason string

const (
	// ReasonMalformedToken covers structural, signature, issuer and audience failures.
	ReasonMalformedToken Reason = "MALFORMED_TOKEN"
	// ReasonExpiredToken is returned for tokens past exp.
	ReasonExpiredToken Reason = "EXPIRED_TOKEN"
	// ReasonRevokedToken is returned for refresh tokens whose session record is gone or does not match.
	ReasonRevokedToken Reason = "REVOKED_TOKEN"
	// ReasonWrongTokenKind is returned when an access token is used as a refresh token or vice versa.
	ReasonWrongTokenKind Reason = "WRONG_TOKEN_KIND"
	// ReasonInvalidClaims is returned when signed claims fail semantic validation.
	ReasonInvalidClaims Reason = "INVALID_CLAIMS"
	// ReasonUnauthenticated is returned when no credential was presented.
	ReasonUnauthenticated Reason = "UNAUTHENTICATED"
	// ReasonAccountNotFound is returned when the token subject has no account.
	ReasonAccountNotFound Reason = "ACCOUNT_NOT_FOUND"
	// ReasonAccountLocked is returned while a lockout window is open.
	ReasonAccountLocked Reason = "ACCOUNT_LOCKED"
	// ReasonAccountInactive is returned for deactivated accounts.
	ReasonAccountInactive Reason = "ACCOUNT_INACTIVE"
	// ReasonRateLimited is returned when a rate-limit policy denies the call.
	ReasonRateLimited Reason = "RATE_LIMITED"
	// ReasonStoreUnavailable is the only transient reason: a backing store did not answer.
	ReasonStoreUnavailable Reason = "STORE_UNAVAILABLE"
)

// Sentinels for errors.Is. An *AuthError matches the sentinel of its Reason.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrExpiredToken     = errors.New("token expired")
	ErrRevokedToken     = errors.New("token revoked")
	ErrWrongTokenKind   = errors.New("wrong token kind")
	ErrInvalidClaims    = errors.New("invalid claims")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountLocked    = errors.New("account locked")
	ErrAccountInactive  = errors.New("account inactive")
	ErrRateLimited      = errors.New("rate limited")
	ErrStoreUnavailable = errors.New("store unavailable")
)

var (
	// ErrEngineNotReady is returned when an Engine method is called on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUnknownPolicy is returned by CheckRateLimit for an unconfigured policy name.
	ErrUnknownPolicy = errors.New("unknown rate limit policy")
	// ErrInvalidAccount is returned when an account cannot be issued tokens.
	ErrInvalidAccount = errors.New("invalid account")
	// ErrInvalidIdentifier is returned by CheckRateLimit for a blank identifier.
	ErrInvalidIdentifier = errors.New("invalid rate limit identifier")
	// ErrForbidden matches every *AuthError whose HTTPStatus is 403.
	ErrForbidden = errors.New("forbidden")
)

var reasonSentinels = map[Reason]error{
	ReasonMalformedToken:   ErrMalformedToken,
	ReasonExpiredToken:     ErrExpiredToken,
	ReasonRevokedToken:     ErrRevokedToken,
	ReasonWrongTokenKind:   ErrWrongTokenKind,
	ReasonInvalidClaims:    ErrInvalidClaims,
	ReasonUnauthenticated:  ErrUnauthenticated,
	ReasonAccountNotFound:  ErrAccountNotFound,
	ReasonAccountLocked:    ErrAccountLocked,
	ReasonAccountInactive:  ErrAccountInactive,
	ReasonRateLimited:      ErrRateLimited,
	ReasonStoreUnavailable: ErrStoreUnavailable,
}

// AuthError is the single failure type returned by verification, refresh,
// authentication and rate limiting.
type AuthError struct {
	Reason Reason
	// RetryAfter is set for ACCOUNT_LOCKED and RATE_LIMITED.
	RetryAfter time.Duration
	// Err is the underlying cause. It is never shown to end users.
	Err error
}

func newAuthError(reason Reason, cause error) *AuthError {
	return &AuthError{Reason: reason, Err: cause}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Reason and any *AuthError with the same
// Reason. ErrUnauthenticated also matches every reason answered with 401 and
// ErrForbidden every reason answered with 403, so callers can branch on the
// class while the reason stays distinguishable.
func (e *AuthError) Is(target error) bool {
	if t, ok := target.(*AuthError); ok {
		return t.Reason == e.Reason
	}
	switch target {
	case ErrUnauthenticated:
		return e.HTTPStatus() == http.StatusUnauthorized
	case ErrForbidden:
		return e.HTTPStatus() == http.StatusForbidden
	}
	return reasonSentinels[e.Reason] == target
}

// Temporary reports whether retrying the same request later may succeed.
func (e *AuthError) Temporary() bool {
	return e.Reason == ReasonStoreUnavailable
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *AuthError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// PublicMessage is safe to show end users. Authentication failures share
// one message so responses do not reveal which check failed; lock and rate
// limit responses disclose the wait.
func (e *AuthError) PublicMessage() string {
	switch e.Reason {
	case ReasonAccountLocked:
		return fmt.Sprintf("account temporarily locked, try again in %s", humanWait(e.RetryAfter))
	case ReasonRateLimited:
		return fmt.Sprintf("too many attempts, try again in %d seconds", e.RetryAfterSeconds())
	case ReasonAccountInactive:
		return "account is not active"
	case ReasonStoreUnavailable:
		return "service temporarily unavailable"
	default:
		return "invalid credentials"
	}
}

// HTTPStatus maps Reason to the status a routing layer should answer with.
func (e *AuthError) HTTPStatus() int {
	switch e.Reason {
	case ReasonAccountLocked, ReasonAccountInactive:
		return http.StatusForbidden
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// ReasonOf extracts the Reason of err, or "" when err is not an *AuthError.
func ReasonOf(err error) Reason {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

func humanWait(d time.Duration) string {
	if d <= 0 {
		return "a moment"
	}
	mins := int((d + time.Minute - 1) / time.Minute)
	if mins <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}
