// Package prometheus exposes authcore engine metrics through
// prometheus/client_golang.
//
// [Collector] reads Engine.MetricsSnapshot on every scrape and emits one
// counter per engine counter, one histogram per latency histogram and
// authcore_audit_dropped_total. Register it on any registry, or use
// [Handler] for a dedicated registry served by promhttp.
package prometheus
