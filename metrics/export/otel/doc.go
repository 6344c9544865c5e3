// Package otel exposes authcore engine metrics as OpenTelemetry observable
// instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per cumulative histogram bucket. A single
// callback reads Engine.MetricsSnapshot on each collection cycle. The caller
// owns the MeterProvider.
package otel
