package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blq_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blq_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Live connection metrics
	LiveMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blq_live_messages_total",
			Help: "Total live-room messages received",
		},
		[]string{"kind"}, // danmaku, gift, guard, super_chat
	)

	LiveReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blq_live_reconnects_total",
			Help: "Total live connection reconnect attempts",
		},
	)

	LivePopularity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blq_live_popularity",
			Help: "Last popularity value reported by the live room",
		},
	)

	// Queue metrics
	QueueRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blq_queue_requests_total",
			Help: "Total queue join requests",
		},
		[]string{"kind", "outcome"}, // kind: queue/cutline/boarding, outcome: ok/rejected
	)

	QueueCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blq_queue_completions_total",
			Help: "Total completed queue entries",
		},
		[]string{"kind"},
	)

	GuardRewards = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blq_guard_rewards_total",
			Help: "Total queue counts granted for guard purchases",
		},
	)

	LotteryDraws = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blq_lottery_draws_total",
			Help: "Total lottery draws",
		},
	)

	VoteBallots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blq_vote_ballots_total",
			Help: "Total vote ballots processed",
		},
		[]string{"outcome"}, // counted, rejected
	)

	// Event fan-out metrics
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blq_ws_clients",
			Help: "Connected websocket event subscribers",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blq_notifications_sent_total",
			Help: "Total desktop notifications sent",
		},
		[]string{"kind"}, // guard, super_chat, lottery
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blq_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blq_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blq_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	ArchiveLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blq_archive_latency_seconds",
			Help:    "Archive store write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
