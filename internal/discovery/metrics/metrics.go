package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TxsServed tracks transactions surfaced to the user per media kind
	TxsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamer_txs_served_total",
			Help: "Total number of transactions served from the discovery queue",
		},
		[]string{"media"},
	)

	// PagesFetched tracks GraphQL result pages pulled from the gateway
	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roamer_pages_fetched_total",
			Help: "Total number of GraphQL pages fetched",
		},
	)

	// WindowSlides tracks how often the discovery window moved
	WindowSlides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamer_window_slides_total",
			Help: "Total number of sliding-window moves",
		},
		[]string{"recency"},
	)

	// SeenFiltered tracks candidates dropped because they were already served
	SeenFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roamer_seen_filtered_total",
			Help: "Total number of candidates filtered by the seen-id set",
		},
	)

	// ResolverProbes tracks block lookups performed by the binary search
	ResolverProbes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roamer_resolver_probes_total",
			Help: "Total number of block probes issued by timestamp resolution",
		},
	)

	// CacheHits tracks resolver cache hits per tier
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamer_cache_hits_total",
			Help: "Total resolver cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses tracks resolver cache misses per tier
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamer_cache_misses_total",
			Help: "Total resolver cache misses",
		},
		[]string{"cache"},
	)

	// GatewayCalls tracks gateway requests per protocol
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamer_gateway_calls_total",
			Help: "Total number of gateway calls",
		},
		[]string{"protocol"},
	)

	// GatewayErrors tracks gateway failures per error type
	GatewayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamer_gateway_errors_total",
			Help: "Total number of gateway errors",
		},
		[]string{"error_type"},
	)

	// GatewayLatency tracks gateway call latency
	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roamer_gateway_latency_seconds",
			Help:    "Gateway call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	// ChainTip tracks the last observed chain height
	ChainTip = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roamer_chain_tip",
			Help: "Last observed chain tip height",
		},
	)

	// WindowMin tracks the lower bound of the current discovery window
	WindowMin = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roamer_window_min",
			Help: "Lower bound of the current discovery window",
		},
	)

	// WindowMax tracks the upper bound of the current discovery window
	WindowMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roamer_window_max",
			Help: "Upper bound of the current discovery window",
		},
	)

	// HistoryDepth tracks the number of entries in navigation history
	HistoryDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roamer_history_depth",
			Help: "Number of entries in the navigation history",
		},
	)
)
