package metrics

import (
	"net/http"
	"time"

	"neopilot/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neopilot"

// Fetch results
const (
	FetchOK        = "ok"
	FetchEmpty     = "empty"
	FetchError     = "error"
	FetchStale     = "stale"
	FetchCancelled = "cancelled"
)

// Cache lookup results
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// CompletionMetrics describes one shown suggestion set
type CompletionMetrics struct {
	ID        string
	Additions int
	Deletions int
	ShownAt   time.Time
}

// Tracker records suggestion lifecycle metrics into its own registry
type Tracker struct {
	registry *prometheus.Registry

	fetches      *prometheus.CounterVec
	fetchLatency prometheus.Histogram
	cacheLookups *prometheus.CounterVec
	shown        prometheus.Counter
	accepted     *prometheus.CounterVec
	disposed     prometheus.Counter
	linesAdded   prometheus.Counter
	lifespan     prometheus.Histogram
}

// NewTracker creates a tracker with a fresh registry
func NewTracker() *Tracker {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Tracker{
		registry: reg,
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Provider requests by result",
		}, []string{"result"}),
		fetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Time from request start to parsed result",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Suggestion cache lookups by result",
		}, []string{"result"}),
		shown: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suggestion",
			Name:      "shown_total",
			Help:      "Suggestion sets drawn in the editor",
		}),
		accepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suggestion",
			Name:      "accepted_total",
			Help:      "Accepted suggestions by granularity",
		}, []string{"kind"}),
		disposed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suggestion",
			Name:      "disposed_total",
			Help:      "Suggestion sets dismissed without being fully accepted",
		}),
		linesAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suggestion",
			Name:      "lines_added_total",
			Help:      "Lines written into buffers by accepted items",
		}),
		lifespan: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "suggestion",
			Name:      "lifespan_seconds",
			Help:      "How long a suggestion set stayed on screen",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
}

// Registry exposes the tracker's registry, mostly for tests
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// Handler serves the registry in the Prometheus text format
func (t *Tracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// TrackFetch records a finished provider request
func (t *Tracker) TrackFetch(result string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.fetches.WithLabelValues(result).Inc()
	if result == FetchOK || result == FetchEmpty {
		t.fetchLatency.Observe(elapsed.Seconds())
	}
}

// TrackCache records a cache lookup
func (t *Tracker) TrackCache(hit bool) {
	if t == nil {
		return
	}
	if hit {
		t.cacheLookups.WithLabelValues(CacheHit).Inc()
		return
	}
	t.cacheLookups.WithLabelValues(CacheMiss).Inc()
}

func (t *Tracker) TrackShown(m *CompletionMetrics) {
	if t == nil {
		return
	}
	t.shown.Inc()
	if m == nil {
		return
	}
	logger.Debug("metrics: shown %s (+%d -%d)", m.ID, m.Additions, m.Deletions)
}

// TrackAccepted records an accept; kind is "item" or "word"
func (t *Tracker) TrackAccepted(kind string, linesAdded int) {
	if t == nil {
		return
	}
	t.accepted.WithLabelValues(kind).Inc()
	if linesAdded > 0 {
		t.linesAdded.Add(float64(linesAdded))
	}
}

func (t *Tracker) TrackDisposed(m *CompletionMetrics) {
	if t == nil {
		return
	}
	t.disposed.Inc()
	if m != nil && !m.ShownAt.IsZero() {
		t.lifespan.Observe(time.Since(m.ShownAt).Seconds())
	}
}
