package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

// RetrievalMetrics records search, resolution and verification outcomes.
type RetrievalMetrics struct {
	service string

	searchDuration      *prometheus.HistogramVec
	searchCacheTotal    *prometheus.CounterVec
	searchCacheErrors   *prometheus.CounterVec
	searchResultsTotal  *prometheus.CounterVec
	searchDegradedTotal *prometheus.CounterVec
	resolutionsTotal    *prometheus.CounterVec
	resolutionWitnesses *prometheus.HistogramVec
	verifiedSentences   *prometheus.CounterVec
}

func NewRetrievalMetrics(service string, registerer prometheus.Registerer) *RetrievalMetrics {
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Hybrid search duration in seconds by cache outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "cache"},
	)
	searchCacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "cache_total",
			Help:      "Search cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	searchCacheErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "cache_errors_total",
			Help:      "Search cache failures by operation.",
		},
		[]string{"service", "op"},
	)
	searchResultsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results_total",
			Help:      "Returned search results by match type.",
		},
		[]string{"service", "match_type"},
	)
	searchDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Searches answered by a single retrieval side.",
		},
		[]string{"service"},
	)
	resolutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "witness",
			Name:      "resolutions_total",
			Help:      "Witness resolutions by contributing source.",
		},
		[]string{"service", "source"},
	)
	resolutionWitnesses := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "witness",
			Name:      "witnesses",
			Help:      "Distribution of witnesses per resolution.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	verifiedSentences := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "sentences_total",
			Help:      "Verified answer sentences by status.",
		},
		[]string{"service", "status"},
	)

	registerer.MustRegister(
		searchDuration,
		searchCacheTotal,
		searchCacheErrors,
		searchResultsTotal,
		searchDegradedTotal,
		resolutionsTotal,
		resolutionWitnesses,
		verifiedSentences,
	)

	return &RetrievalMetrics{
		service:             service,
		searchDuration:      searchDuration,
		searchCacheTotal:    searchCacheTotal,
		searchCacheErrors:   searchCacheErrors,
		searchResultsTotal:  searchResultsTotal,
		searchDegradedTotal: searchDegradedTotal,
		resolutionsTotal:    resolutionsTotal,
		resolutionWitnesses: resolutionWitnesses,
		verifiedSentences:   verifiedSentences,
	}
}

func (m *RetrievalMetrics) ObserveSearch(analytics domain.SearchAnalytics) {
	cache := "miss"
	if analytics.CacheHit {
		cache = "hit"
	}
	m.searchCacheTotal.WithLabelValues(m.service, cache).Inc()
	m.searchDuration.WithLabelValues(m.service, cache).Observe(analytics.Duration.Seconds())

	if analytics.Degraded {
		m.searchDegradedTotal.WithLabelValues(m.service).Inc()
	}
	if analytics.VectorMatches > 0 {
		m.searchResultsTotal.WithLabelValues(m.service, string(domain.MatchVector)).Add(float64(analytics.VectorMatches))
	}
	if analytics.FulltextMatches > 0 {
		m.searchResultsTotal.WithLabelValues(m.service, string(domain.MatchFulltext)).Add(float64(analytics.FulltextMatches))
	}
	if analytics.HybridMatches > 0 {
		m.searchResultsTotal.WithLabelValues(m.service, string(domain.MatchHybrid)).Add(float64(analytics.HybridMatches))
	}
}

func (m *RetrievalMetrics) ObserveCacheError(op string) {
	if op == "" {
		op = "unknown"
	}
	m.searchCacheErrors.WithLabelValues(m.service, op).Inc()
}

func (m *RetrievalMetrics) ObserveResolution(source domain.ResolutionSource, witnesses int) {
	if source == "" {
		source = domain.SourceNone
	}
	m.resolutionsTotal.WithLabelValues(m.service, string(source)).Inc()
	m.resolutionWitnesses.WithLabelValues(m.service).Observe(float64(witnesses))
}

func (m *RetrievalMetrics) ObserveVerification(total, unsourced int) {
	if unsourced > 0 {
		m.verifiedSentences.WithLabelValues(m.service, "unsourced").Add(float64(unsourced))
	}
	if sourced := total - unsourced; sourced > 0 {
		m.verifiedSentences.WithLabelValues(m.service, "sourced").Add(float64(sourced))
	}
}
