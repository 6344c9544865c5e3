package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/halinh/authcore"
	"github.com/halinh/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource is returned when no metrics source is supplied.
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is the read side of an engine. *authcore.Engine satisfies it.
type MetricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type lifecycleCounter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

// latencyHistogram publishes one engine histogram as a cumulative bucket
// gauge keyed by "le" plus a sample counter.
type latencyHistogram struct {
	id      authcore.MetricID
	buckets metric.Int64ObservableGauge
	samples metric.Int64ObservableCounter
}

// bucketAttrs holds one precomputed "le" set per histogram bound.
var bucketAttrs = func() [8]metric.MeasurementOption {
	var out [8]metric.MeasurementOption
	for i, le := range internaldefs.HistogramBoundLabels {
		out[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return out
}()

// Exporter mirrors the engine's token lifecycle counters and latency
// histograms into OpenTelemetry observable instruments. Every collection
// reads one snapshot so all instruments agree.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration
	counters     []lifecycleCounter
	histograms   []latencyHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers instruments on meter that read from source. Call
// Close to unregister the callback.
func NewExporter(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil || isNilEngine(source) {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	observables, err := e.register(meter)
	if err != nil {
		return nil, err
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) register(meter metric.Meter) ([]metric.Observable, error) {
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name,
			metric.WithDescription(def.Help),
			metric.WithUnit(def.Unit))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, lifecycleCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative samples at or under le seconds."),
			metric.WithUnit("{sample}"))
		if err != nil {
			return nil, fmt.Errorf("histogram %s buckets: %w", def.Name, err)
		}
		samples, err := meter.Int64ObservableCounter(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{sample}"))
		if err != nil {
			return nil, fmt.Errorf("histogram %s count: %w", def.Name, err)
		}
		e.histograms = append(e.histograms, latencyHistogram{id: def.ID, buckets: buckets, samples: samples})
		observables = append(observables, buckets, samples)
	}

	dropped, err := meter.Int64ObservableCounter("authcore_audit_dropped_total",
		metric.WithDescription("Authentication audit events lost to a full dispatcher buffer."),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("counter authcore_audit_dropped_total: %w", err)
	}
	e.auditDropped = dropped
	return append(observables, dropped), nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snap.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
		for i, n := range cumulative {
			o.ObserveInt64(h.buckets, int64(n), bucketAttrs[i])
		}
		o.ObserveInt64(h.samples, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func isNilEngine(source MetricsSource) bool {
	e, ok := source.(*authcore.Engine)
	return ok && e == nil
}
