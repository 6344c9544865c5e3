package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/halinh/authcore/session"
)

// RevokeSession deletes the session record for (userID, version). An empty
// version revokes every session of the user (global logout). Revoking an
// absent session succeeds.
//
// A global logout that could only delete some records returns
// STORE_UNAVAILABLE wrapping a *session.PartialDeleteError.
func (e *Engine) RevokeSession(ctx context.Context, userID, version string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := session.ValidateKeyPart(userID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	if version == "" {
		n, err := e.sessions.DeleteAllForUser(sctx, userID)
		if err != nil {
			authErr := e.storeUnavailable(err)
			e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", authErr, nil)
			return authErr
		}
		e.metricInc(MetricLogoutAll)
		e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
			return map[string]string{"revoked": strconv.Itoa(n)}
		})
		return nil
	}

	if err := e.sessions.Delete(sctx, userID, version); err != nil {
		if errors.Is(err, session.ErrInvalidKey) {
			return newAuthError(ReasonMalformedToken, err)
		}
		authErr := e.storeUnavailable(err)
		e.emitAudit(ctx, auditEventLogoutSession, false, userID, version, authErr, nil)
		return authErr
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventLogoutSession, true, userID, version, nil, nil)
	return nil
}

// ListSessions returns the user's live sessions, newest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if err := session.ValidateKeyPart(userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	records, err := e.sessions.List(sctx, userID)
	if err != nil {
		return nil, e.storeUnavailable(err)
	}

	out := make([]SessionSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, SessionSummary{
			Version:    rec.Version,
			UserAgent:  rec.Device.UserAgent,
			IP:         rec.Device.IP,
			Location:   rec.Device.Location,
			RememberMe: rec.Device.RememberMe,
			Locale:     rec.Locale,
			Timezone:   rec.Timezone,
			CreatedAt:  rec.CreatedAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
	return out, nil
}

// RepairSessions re-applies the refresh lifetime to every session record
// stored without an expiry and returns how many it fixed. It scans the whole
// namespace, so it runs under ctx alone rather than the per-call store
// timeout; schedule it off the request path.
func (e *Engine) RepairSessions(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	n, err := e.sessions.Repair(ctx, e.config.JWT.RefreshTTL)
	if err != nil {
		return n, e.storeUnavailable(err)
	}
	if n > 0 {
		e.metrics.Add(MetricSessionsRepaired, uint64(n))
		e.logger.Info().Int("repaired", n).Msg("session ttl repaired")
	}
	e.emitAudit(ctx, auditEventSessionsRepaired, true, "", "", nil, func() map[string]string {
		return map[string]string{"repaired": strconv.Itoa(n)}
	})
	return n, nil
}
