package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/halinh/authcore/internal/ids"
	"github.com/halinh/authcore/internal/lockout"
	"github.com/halinh/authcore/jwt"
	"github.com/halinh/authcore/session"
)

// VerifyAccess checks an access token's signature, issuer, audience, expiry
// and kind. It never consults the session store.
//
// Failures are *AuthError with reason MALFORMED_TOKEN, EXPIRED_TOKEN or
// WRONG_TOKEN_KIND.
func (e *Engine) VerifyAccess(ctx context.Context, token string) (*Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.parse(e.access, e.refresh, token)
}

// VerifyRefresh checks a refresh token like VerifyAccess and then requires a
// live session record whose stored hash matches the token. An absent,
// expired, unreadable or mismatched record is REVOKED_TOKEN; a store failure
// or timeout is STORE_UNAVAILABLE.
func (e *Engine) VerifyRefresh(ctx context.Context, token string) (*Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.parse(e.refresh, e.access, token)
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	rec, err := e.sessions.Get(sctx, claims.UID, claims.Version)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrInvalidKey):
		return nil, newAuthError(ReasonMalformedToken, err)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrCorrupt):
		e.metricInc(MetricRefreshRevoked)
		return nil, newAuthError(ReasonRevokedToken, err)
	default:
		return nil, e.storeUnavailable(err)
	}

	if !ids.EqualHash(rec.RefreshHash, ids.HashToken(token)) {
		e.metricInc(MetricRefreshRevoked)
		return nil, newAuthError(ReasonRevokedToken, errors.New("refresh hash mismatch"))
	}

	return claims, nil
}

// RefreshAccessToken exchanges a live refresh token for a new access token
// carrying the same version and claims. The refresh token itself is not
// rotated. The account is reloaded so that a lock or deactivation since
// login takes effect.
func (e *Engine) RefreshAccessToken(ctx context.Context, refreshToken string) (AccessGrant, error) {
	if e == nil {
		return AccessGrant{}, ErrEngineNotReady
	}
	start := e.clock.Now()
	defer e.observe(MetricRefreshLatency, start)

	grant, userID, version, err := e.refreshAccess(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, userID, version, err, nil)
		return AccessGrant{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, userID, version, nil, nil)
	return grant, nil
}

func (e *Engine) refreshAccess(ctx context.Context, refreshToken string) (AccessGrant, string, string, error) {
	claims, err := e.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return AccessGrant{}, "", "", err
	}

	account, err := e.loadAccount(ctx, claims.UID)
	if err != nil {
		return AccessGrant{}, claims.UID, claims.Version, err
	}
	if err := e.checkAccountUsable(account); err != nil {
		return AccessGrant{}, claims.UID, claims.Version, err
	}

	token, exp, err := e.access.Sign(jwt.Claims{
		UID:      claims.UID,
		Email:    claims.Email,
		Phone:    claims.Phone,
		Locale:   claims.Locale,
		Timezone: claims.Timezone,
		Version:  claims.Version,
	})
	if err != nil {
		return AccessGrant{}, claims.UID, claims.Version, err
	}
	return AccessGrant{AccessToken: token, ExpiresAt: exp}, claims.UID, claims.Version, nil
}

// Logout revokes exactly the session a refresh token belongs to. An already
// revoked or expired token is treated as logged out.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.VerifyRefresh(ctx, refreshToken)
	switch {
	case err == nil:
	case errors.Is(err, ErrRevokedToken), errors.Is(err, ErrExpiredToken):
		return nil
	default:
		return err
	}
	return e.RevokeSession(ctx, claims.UID, claims.Version)
}

// parse verifies token with primary. A token that fails as malformed but
// verifies under the other kind's manager is reported as WRONG_TOKEN_KIND.
func (e *Engine) parse(primary, other *jwt.Manager, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newAuthError(ReasonMalformedToken, errors.New("empty token"))
	}

	claims, err := primary.Parse(token)
	if err == nil {
		return claims, nil
	}

	switch {
	case errors.Is(err, jwt.ErrExpired):
		return nil, newAuthError(ReasonExpiredToken, err)
	case errors.Is(err, jwt.ErrWrongKind):
		return nil, newAuthError(ReasonWrongTokenKind, err)
	}
	if _, otherErr := other.Parse(token); otherErr == nil || errors.Is(otherErr, jwt.ErrExpired) {
		return nil, newAuthError(ReasonWrongTokenKind, err)
	}
	return nil, newAuthError(ReasonMalformedToken, err)
}

func (e *Engine) loadAccount(ctx context.Context, userID string) (*Account, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	account, err := e.accounts.FindByID(sctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, newAuthError(ReasonAccountNotFound, err)
		}
		return nil, e.storeUnavailable(err)
	}
	if account == nil {
		return nil, newAuthError(ReasonAccountNotFound, nil)
	}
	return account, nil
}

// checkAccountUsable refuses locked and inactive accounts. Lock wins so the
// caller learns the wait.
func (e *Engine) checkAccountUsable(account *Account) error {
	now := e.clock.Now()
	if state := lockout.State(account.Lockout()); lockout.Locked(state, now) {
		return &AuthError{Reason: ReasonAccountLocked, RetryAfter: lockout.Remaining(state, now)}
	}
	if !account.Active {
		return newAuthError(ReasonAccountInactive, nil)
	}
	return nil
}
