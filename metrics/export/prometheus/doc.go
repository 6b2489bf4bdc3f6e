// Package prometheus exposes engine metrics as a Prometheus collector.
//
// [NewExporter] wraps an [authcore.Engine] in a prometheus.Collector that
// reads a fresh metrics snapshot on every scrape. Counter names are prefixed
// authcore_*_total; the single histogram is authcore_verify_latency_seconds.
//
// The package never registers with the global Prometheus registry. Callers
// either register the collector themselves or mount [Exporter.Handler],
// which serves a private registry.
package prometheus
