package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveTorrents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "active_torrents",
		Help:      "Number of torrents held by the engine.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all torrents.",
	})

	ActivePlaybackSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "playback_sessions_active",
		Help:      "Number of running playback sessions.",
	})

	PlaybackSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "playback_sessions_total",
		Help:      "Total playback sessions started by media kind.",
	}, []string{"kind"})

	RungTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "playback_rung_transitions_total",
		Help:      "Playback strategy fallbacks by source rung, target rung and failure event.",
	}, []string{"from", "to", "reason"})

	PlaybackFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "playback_failures_total",
		Help:      "Playback sessions that exhausted every strategy.",
	})

	AppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "buffer_appends_total",
		Help:      "Buffer append completions by result.",
	}, []string{"result"})

	HealthRecoveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "buffer_health_recoveries_total",
		Help:      "Actions taken by the buffer health check by kind.",
	}, []string{"kind"})

	PriorityHintsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "priority_hints_total",
		Help:      "Piece priority hints issued to the swarm.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveTorrents,
		DownloadSpeedBytes,
		PeersConnected,
		ActivePlaybackSessions,
		PlaybackSessionsTotal,
		RungTransitionsTotal,
		PlaybackFailuresTotal,
		AppendsTotal,
		HealthRecoveriesTotal,
		PriorityHintsTotal,
	)
}
