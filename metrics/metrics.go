// Package metrics holds the Prometheus collectors for the memory core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups all collectors. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	EmbedRequests   *prometheus.CounterVec // result: ok, degraded, cached
	EmbedLatency    prometheus.Histogram
	ChunksStored    *prometheus.CounterVec // embedded: true, false
	SearchRequests  *prometheus.CounterVec // source, outcome: ranked, fallback, empty
	SearchLatency   *prometheus.HistogramVec
	MemoriesCreated *prometheus.CounterVec // type
	MemoriesSkipped prometheus.Counter
	Deactivations   *prometheus.CounterVec // reason
	Classifications *prometheus.CounterVec // kind, result
	PreferenceRuns  *prometheus.CounterVec // result
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EmbedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nim_recall_embed_requests_total",
			Help: "Embedding gateway requests by result",
		}, []string{"result"}),

		EmbedLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nim_recall_embed_duration_seconds",
			Help:    "Embedding provider latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		ChunksStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nim_recall_chunks_stored_total",
			Help: "Document chunks persisted, split by whether an embedding was stored",
		}, []string{"embedded"}),

		SearchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nim_recall_search_requests_total",
			Help: "Similarity searches by candidate source and outcome",
		}, []string{"source", "outcome"}),

		SearchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nim_recall_search_duration_seconds",
			Help:    "Similarity search latency in seconds including the query embedding",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),

		MemoriesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nim_recall_memories_created_total",
			Help: "Conversation memories created by type",
		}, []string{"type"}),

		MemoriesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "nim_recall_memories_skipped_total",
			Help: "Processed messages that scored below the importance threshold",
		}),

		Deactivations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nim_recall_memory_deactivations_total",
			Help: "Memories deactivated by the decay job, by reason",
		}, []string{"reason"}),

		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nim_recall_classifications_total",
			Help: "Text analysis calls by kind and result",
		}, []string{"kind", "result"}),

		PreferenceRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nim_recall_preference_runs_total",
			Help: "Preference learning runs by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) EmbedResult(result string) {
	if m == nil {
		return
	}
	m.EmbedRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEmbed(seconds float64) {
	if m == nil {
		return
	}
	m.EmbedLatency.Observe(seconds)
}

func (m *Metrics) ChunkStored(embedded bool) {
	if m == nil {
		return
	}
	label := "false"
	if embedded {
		label = "true"
	}
	m.ChunksStored.WithLabelValues(label).Inc()
}

func (m *Metrics) Search(source, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(source, outcome).Inc()
	m.SearchLatency.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) MemoryCreated(memType string) {
	if m == nil {
		return
	}
	m.MemoriesCreated.WithLabelValues(memType).Inc()
}

func (m *Metrics) MemorySkipped() {
	if m == nil {
		return
	}
	m.MemoriesSkipped.Inc()
}

func (m *Metrics) Deactivated(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Deactivations.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Classification(kind, result string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) PreferenceRun(result string) {
	if m == nil {
		return
	}
	m.PreferenceRuns.WithLabelValues(result).Inc()
}
