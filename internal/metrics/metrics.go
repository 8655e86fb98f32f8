package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Requests   *prometheus.CounterVec
	Ingested   *prometheus.CounterVec
	Queries    *prometheus.CounterVec
	Chunks     prometheus.Counter
	QueryTime  prometheus.Histogram
	IngestTime prometheus.Histogram
	// GenerateTime covers the language model call alone.
	GenerateTime prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Name:      "ingest_total",
			Help:      "Document ingestions by outcome.",
		}, []string{"outcome"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Name:      "query_total",
			Help:      "Answered queries by outcome.",
		}, []string{"outcome"}),
		Chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Name:      "chunks_ingested_total",
			Help:      "Chunks written to the vector store.",
		}),
		QueryTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pdfrag",
			Name:      "query_duration_seconds",
			Help:      "Time to retrieve context and generate an answer.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		IngestTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pdfrag",
			Name:      "ingest_duration_seconds",
			Help:      "Time to extract, embed and store a document.",
			Buckets:   prometheus.DefBuckets,
		}),
		GenerateTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pdfrag",
			Name:      "generation_duration_seconds",
			Help:      "Time spent waiting on the inference model.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.Ingested, m.Queries, m.Chunks, m.QueryTime, m.IngestTime, m.GenerateTime,
	)
	return m
}

// Outcome labels an operation result as "ok" or its error kind.
func Outcome(kind string) string {
	if kind == "" {
		return "ok"
	}
	return kind
}

func (m *Metrics) ObserveIngest(start time.Time, chunks int, kind string) {
	m.IngestTime.Observe(time.Since(start).Seconds())
	m.Ingested.WithLabelValues(Outcome(kind)).Inc()
	m.Chunks.Add(float64(chunks))
}

func (m *Metrics) ObserveQuery(start time.Time, kind string) {
	m.QueryTime.Observe(time.Since(start).Seconds())
	m.Queries.WithLabelValues(Outcome(kind)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
