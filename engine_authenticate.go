package authcore

import (
	"context"
	"errors"
	"strings"
)

// Authenticate runs the request pipeline on a raw access token: verify,
// validate claims, load the account, refuse locked or inactive accounts,
// and return the identity to attach to the request.
//
// The lock is checked on every call, not only at login. Every outcome emits
// one audit event.
func (e *Engine) Authenticate(ctx context.Context, rawToken string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := e.clock.Now()
	defer e.observe(MetricAuthenticateLatency, start)

	identity, userID, err := e.authenticate(ctx, rawToken)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		e.emitAudit(ctx, auditEventAuthenticate, false, userID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricAuthenticateSuccess)
	e.emitAudit(ctx, auditEventAuthenticate, true, userID, identity.Version, nil, nil)
	return identity, nil
}

func (e *Engine) authenticate(ctx context.Context, rawToken string) (*Identity, string, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, "", newAuthError(ReasonUnauthenticated, errors.New("no credential presented"))
	}

	claims, err := e.VerifyAccess(ctx, rawToken)
	if err != nil {
		return nil, "", err
	}
	if !e.ValidateClaims(claims) {
		return nil, claims.UID, newAuthError(ReasonInvalidClaims, errors.New("claims incomplete"))
	}

	account, err := e.loadAccount(ctx, claims.UID)
	if err != nil {
		return nil, claims.UID, err
	}
	if err := e.checkAccountUsable(account); err != nil {
		return nil, claims.UID, err
	}

	return &Identity{
		Account:  account,
		Locale:   claims.Locale,
		Timezone: claims.Timezone,
		Version:  claims.Version,
		Claims:   claims,
	}, claims.UID, nil
}
