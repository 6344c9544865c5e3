package main

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"github.com/halinh/authcore"
	"github.com/rs/zerolog"
)

func initSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// sentrySink forwards every event to next and reports store outages to
// Sentry. Credential failures are expected traffic and stay out of Sentry.
type sentrySink struct {
	next authcore.AuditSink
}

func newSentrySink(next authcore.AuditSink) *sentrySink {
	return &sentrySink{next: next}
}

func (s *sentrySink) Emit(ctx context.Context, event authcore.AuditEvent) {
	if event.Reason == string(authcore.ReasonStoreUnavailable) {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("event_type", event.EventType)
			scope.SetTag("reason", event.Reason)
			scope.SetExtra("event_id", event.ID)
			sentry.CaptureMessage("authcore store unavailable")
		})
	}
	if s.next != nil {
		s.next.Emit(ctx, event)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.statusCode = status
	r.ResponseWriter.WriteHeader(status)
}

func recoverMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					sentry.WithScope(func(scope *sentry.Scope) {
						scope.SetExtra("panic", rec)
						scope.SetExtra("stack", string(debug.Stack()))
						sentry.CaptureMessage("panic in request")
					})

					logger.Error().
						Str("path", r.URL.Path).
						Str("method", r.Method).
						Interface("panic", rec).
						Msg("panic_recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
