// Package otel publishes trustguard engine metrics through an OpenTelemetry Meter.
//
// [New] registers an Int64ObservableCounter per engine counter and an
// Int64ObservableGauge per histogram bucket, all fed by a single callback.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
