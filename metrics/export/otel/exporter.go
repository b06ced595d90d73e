package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/pyroalert/authcore"
	"github.com/pyroalert/authcore/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// histogramGauges holds one cumulative gauge per bucket bound plus a count.
type histogramGauges struct {
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine counters as observable instruments. All
// instruments of one collection cycle read the same snapshot.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	counters     map[authcore.MetricID]metric.Int64ObservableCounter
	histograms   map[authcore.MetricID]histogramGauges
	auditDropped metric.Int64ObservableCounter
	observables  []metric.Observable
}

// NewOTelExporter registers instruments for engine on meter.
func NewOTelExporter(meter metric.Meter, engine *authcore.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments for any snapshot source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:     source,
		counters:   make(map[authcore.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
		histograms: make(map[authcore.MetricID]histogramGauges, len(internaldefs.HistogramDefs)),
	}
	if err := e.createCounters(meter); err != nil {
		return nil, err
	}
	if err := e.createHistograms(meter); err != nil {
		return nil, err
	}

	registration, err := meter.RegisterCallback(e.observe, e.observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) createCounters(meter metric.Meter) error {
	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		e.observables = append(e.observables, c)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription("Audit events dropped under dispatcher backpressure."))
	if err != nil {
		return fmt.Errorf("otel: counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	e.observables = append(e.observables, dropped)
	return nil
}

// createHistograms exposes each histogram as flat gauges named
// <name>_bucket_le_<bound> and <name>_count, mirroring the Prometheus layout
// without requiring a synchronous histogram instrument.
func (e *OTelExporter) createHistograms(meter metric.Meter) error {
	for _, def := range internaldefs.HistogramDefs {
		g := histogramGauges{buckets: make([]metric.Int64ObservableGauge, len(internaldefs.HistogramBoundSuffix))}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			bucket, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative bucket."))
			if err != nil {
				return fmt.Errorf("otel: gauge %s: %w", name, err)
			}
			g.buckets[i] = bucket
			e.observables = append(e.observables, bucket)
		}

		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return fmt.Errorf("otel: gauge %s_count: %w", def.Name, err)
		}
		g.count = count
		e.observables = append(e.observables, count)
		e.histograms[def.ID] = g
	}
	return nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snapshot.Counters[id]))
	}
	for id, g := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[id]))
		for i, bucket := range g.buckets {
			o.ObserveInt64(bucket, int64(cumulative[i]))
		}
		o.ObserveInt64(g.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
