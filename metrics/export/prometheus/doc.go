// Package prometheus exposes trustguard engine metrics through client_golang.
//
// [NewCollector] wraps an engine (or any [MetricsSource]) as a prometheus.Collector.
// Counter names are trustguard_*_total; the single histogram is
// trustguard_check_access_latency_seconds. [NewRegistry] and [Handler] give a
// ready-to-mount /metrics endpoint.
//
// # What this package must NOT do
//
//   - Register into the global default registry.
//   - Mutate engine state.
package prometheus
