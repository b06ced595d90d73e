// Package prometheus exposes authcore engine metrics through
// client_golang.
//
// [Collector] implements prometheus.Collector over
// [authcore.Engine.MetricsSnapshot]; [PrometheusExporter] registers it in a
// private registry and serves it with promhttp. Counter names are prefixed
// authcore_*_total; the single histogram is authcore_grant_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry.
//   - Mutate engine state.
package prometheus
