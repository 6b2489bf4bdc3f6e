// Package otel bridges engine metrics into OpenTelemetry.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and
// Int64ObservableGauge instruments per histogram bucket. A single callback
// reads [authcore.Engine.MetricsSnapshot] on each collection cycle.
//
// The package never owns the MeterProvider; callers supply the Meter and
// keep control of readers and export intervals.
package otel
