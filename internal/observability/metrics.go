package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "court_matching"

var (
	SwipesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "swipes_total", Help: "Swipes recorded by action"},
		[]string{"action"},
	)
	SwipesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "swipes_rejected_total", Help: "Swipes rejected by reason"},
		[]string{"reason"},
	)
	MatchesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_total", Help: "Total number of matches created"})
	MatchRaces      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "match_create_races_total", Help: "Match creations resolved to an existing match"})
	MatchTransition = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "match_transitions_total", Help: "Match lifecycle transitions"},
		[]string{"to"},
	)
	CandidateLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "candidate_search_seconds", Help: "Candidate search latency seconds"})

	ProposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "proposals_total", Help: "Proposal outcomes"},
		[]string{"outcome"},
	)
	CollaboratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "collaborator_call_seconds", Help: "External collaborator call latency", Buckets: prometheus.DefBuckets},
		[]string{"collaborator", "op"},
	)

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_connections", Help: "Live realtime connections"})
	RealtimeEvents      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_total", Help: "Realtime events delivered to local connections"},
		[]string{"event"},
	)
	RealtimeDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_dropped_total", Help: "Realtime events dropped"},
		[]string{"reason"},
	)
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "chat_messages_total", Help: "Chat messages appended by type"},
		[]string{"type"},
	)

	ConsumerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "consumer_messages_total", Help: "Payment events consumed by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
