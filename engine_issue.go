package authcore

import (
	"context"
	"fmt"

	"github.com/halinh/authcore/internal/ids"
	"github.com/halinh/authcore/jwt"
	"github.com/halinh/authcore/session"
)

// IssueTokens mints a new token version for account, signs an access and a
// refresh token carrying it, and persists the session record before
// returning. The pair is never returned if the record could not be written.
//
// Inactive and locked accounts are refused with ACCOUNT_INACTIVE and
// ACCOUNT_LOCKED. Missing or unsupported locale and timezone fall back to the
// configured defaults. Empty DeviceInfo.IP and UserAgent are taken from ctx.
func (e *Engine) IssueTokens(ctx context.Context, account *Account, device DeviceInfo) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	if account == nil {
		return TokenPair{}, fmt.Errorf("%w: nil account", ErrInvalidAccount)
	}
	if err := session.ValidateKeyPart(account.ID); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}

	if err := e.checkAccountUsable(account); err != nil {
		e.failIssue(ctx, account.ID, err)
		return TokenPair{}, err
	}

	now := e.clock.Now()
	version, err := e.versions.Next(now)
	if err != nil {
		e.failIssue(ctx, account.ID, err)
		return TokenPair{}, err
	}

	claims := jwt.Claims{
		UID:      account.ID,
		Email:    account.Email,
		Phone:    account.Phone,
		Locale:   e.issueLocale(account),
		Timezone: e.issueTimezone(account),
		Version:  version,
	}

	accessToken, accessExp, err := e.access.Sign(claims)
	if err != nil {
		e.failIssue(ctx, account.ID, err)
		return TokenPair{}, err
	}
	refreshToken, refreshExp, err := e.refresh.Sign(claims)
	if err != nil {
		e.failIssue(ctx, account.ID, err)
		return TokenPair{}, err
	}

	if device.IP == "" {
		device.IP = ClientIPFromContext(ctx)
	}
	if device.UserAgent == "" {
		device.UserAgent = UserAgentFromContext(ctx)
	}

	rec := &session.Record{
		UserID:      account.ID,
		Version:     version,
		RefreshHash: ids.HashToken(refreshToken),
		Device: session.Device{
			UserAgent:  device.UserAgent,
			IP:         device.IP,
			Location:   device.Location,
			RememberMe: device.RememberMe,
		},
		Locale:    claims.Locale,
		Timezone:  claims.Timezone,
		CreatedAt: now,
		ExpiresAt: refreshExp,
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.sessions.Put(sctx, rec, refreshExp.Sub(now)); err != nil {
		authErr := e.storeUnavailable(err)
		e.failIssue(ctx, account.ID, authErr)
		return TokenPair{}, authErr
	}

	e.metricInc(MetricTokensIssued)
	e.emitAudit(ctx, auditEventTokensIssued, true, account.ID, version, nil, func() map[string]string {
		if !device.RememberMe {
			return nil
		}
		return map[string]string{"remember_me": "true"}
	})

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		Version:          version,
	}, nil
}

func (e *Engine) failIssue(ctx context.Context, userID string, err error) {
	e.metricInc(MetricIssueFailure)
	e.emitAudit(ctx, auditEventIssueFailure, false, userID, "", err, nil)
}
