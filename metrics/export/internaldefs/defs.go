package internaldefs

import (
	"math"

	"github.com/halinh/authcore"
)

// CounterDef names one engine counter for exporters. Unit is a UCUM
// annotation such as "{session}".
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
	Unit string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricTokensIssued, Name: "authcore_tokens_issued_total", Help: "Token pairs issued.", Unit: "{pair}"},
	{ID: authcore.MetricIssueFailure, Name: "authcore_issue_failure_total", Help: "Token issuance attempts that failed.", Unit: "{attempt}"},
	{ID: authcore.MetricAuthenticateSuccess, Name: "authcore_authenticate_success_total", Help: "Requests that passed the authentication pipeline.", Unit: "{request}"},
	{ID: authcore.MetricAuthenticateFailure, Name: "authcore_authenticate_failure_total", Help: "Requests rejected by the authentication pipeline.", Unit: "{request}"},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Access tokens minted from a refresh token.", Unit: "{token}"},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Refresh attempts that failed.", Unit: "{attempt}"},
	{ID: authcore.MetricRefreshRevoked, Name: "authcore_refresh_revoked_total", Help: "Refresh attempts against a revoked or unknown session.", Unit: "{attempt}"},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Single sessions revoked.", Unit: "{session}"},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Revoke-all operations.", Unit: "{operation}"},
	{ID: authcore.MetricLoginFailureRecorded, Name: "authcore_login_failure_recorded_total", Help: "Failed logins recorded against an account.", Unit: "{attempt}"},
	{ID: authcore.MetricLoginSuccessRecorded, Name: "authcore_login_success_recorded_total", Help: "Successful logins that reset lockout state.", Unit: "{attempt}"},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts that transitioned to locked.", Unit: "{account}"},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Rate-limit checks that denied the attempt.", Unit: "{attempt}"},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Requests refused because a backing store was unreachable.", Unit: "{request}"},
	{ID: authcore.MetricSessionsRepaired, Name: "authcore_sessions_repaired_total", Help: "Session records given a TTL by repair.", Unit: "{session}"},
}

// HistogramDefs lists the engine latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthenticateLatency, Name: "authcore_authenticate_latency_seconds", Help: "Authenticate latency."},
	{ID: authcore.MetricRefreshLatency, Name: "authcore_refresh_latency_seconds", Help: "RefreshAccessToken latency."},
}

// HistogramBounds are the bucket upper bounds in seconds. The last bucket is
// unbounded.
var HistogramBounds = [8]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, math.Inf(1)}

// HistogramBoundLabels renders HistogramBounds as "le" label values.
var HistogramBoundLabels = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets copies raw into a fixed array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
