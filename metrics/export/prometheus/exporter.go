package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authcore "github.com/mwhitlock/authcore"
	"github.com/mwhitlock/authcore/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type counterMetric struct {
	id   authcore.MetricID
	desc *prometheus.Desc
}

type histogramMetric struct {
	id   authcore.MetricID
	desc *prometheus.Desc
}

// Exporter is a prometheus.Collector over the engine's metrics snapshot.
// Every scrape reads a fresh snapshot, so registered instances need no
// bookkeeping between collections.
type Exporter struct {
	source     metricsSource
	counters   []counterMetric
	histograms []histogramMetric
	dropped    *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter creates a collector that reads from the given engine.
func NewExporter(engine *authcore.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource creates a collector over a custom snapshot source.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:     source,
		counters:   make([]counterMetric, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramMetric, 0, len(internaldefs.HistogramDefs)),
		dropped: prometheus.NewDesc(
			"authcore_audit_dropped_total",
			"Audit events dropped by dispatcher backpressure.",
			nil, nil,
		),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterMetric{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramMetric{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	return e
}

// Handler returns an http.Handler serving only this exporter's metrics.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.dropped
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
	}

	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for i, bound := range internaldefs.HistogramBoundValues {
			buckets[bound] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]
		// The core snapshot tracks bucket counts only, so the sum is
		// reported as zero.
		ch <- prometheus.MustNewConstHistogram(h.desc, count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(e.dropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
}
