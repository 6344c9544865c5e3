package authcore

import (
	"context"

	"github.com/halinh/authcore/internal/ids"
)

const (
	auditEventTokensIssued     = "tokens_issued"
	auditEventIssueFailure     = "issue_failure"
	auditEventAuthenticate     = "authenticate"
	auditEventRefreshSuccess   = "refresh_success"
	auditEventRefreshFailure   = "refresh_failure"
	auditEventLogoutSession    = "logout_session"
	auditEventLogoutAll        = "logout_all"
	auditEventLoginFailure     = "login_failure_recorded"
	auditEventLoginSuccess     = "login_success_recorded"
	auditEventAccountLocked    = "account_locked"
	auditEventRateLimited      = "rate_limit_triggered"
	auditEventSessionsRepaired = "sessions_repaired"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	version string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        ids.NewEventID(),
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Version:   version,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Success:   success,
		Reason:    auditReason(err),
		Metadata:  metadata,
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, policy, identifier string, d RateLimitDecision) {
	e.metricInc(MetricRateLimitHit)
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		ID:         ids.NewEventID(),
		Timestamp:  e.clock.Now().UTC(),
		EventType:  auditEventRateLimited,
		Identifier: identifier,
		IP:         ClientIPFromContext(ctx),
		UserAgent:  UserAgentFromContext(ctx),
		Reason:     string(ReasonRateLimited),
		Metadata: map[string]string{
			"policy":      policy,
			"retry_after": d.RetryAfter.String(),
		},
	}
	e.audit.Emit(ctx, event)
}

func auditReason(err error) string {
	if err == nil {
		return ""
	}
	if r := ReasonOf(err); r != "" {
		return string(r)
	}
	return "internal_error"
}
