package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are optional; a nil *Metrics records nothing.
type Metrics struct {
	documents  *prometheus.CounterVec
	chunks     *prometheus.CounterVec
	retrievals *prometheus.CounterVec
	latency    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbot",
			Name:      "documents_ingested_total",
			Help:      "Documents processed by the ingestion pipeline, by outcome.",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbot",
			Name:      "chunks_total",
			Help:      "Chunks attempted during ingestion, by result.",
		}, []string{"result"}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbot",
			Name:      "retrievals_total",
			Help:      "Knowledge base retrievals, by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wellbot",
			Name:      "retrieval_duration_seconds",
			Help:      "Time spent embedding, searching and assembling context.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.documents, m.chunks, m.retrievals, m.latency)
	}
	return m
}

func (m *Metrics) document(outcome string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) chunkResults(stored, failed int) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues("stored").Add(float64(stored))
	m.chunks.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) retrieval(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome).Inc()
	m.latency.Observe(time.Since(started).Seconds())
}
