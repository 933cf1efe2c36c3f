package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "companion",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	HTTPRateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected by the API rate limiter, by route.",
	}, []string{"route"})

	HTTPPanicsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "http_panics_total",
		Help:      "Handler panics recovered by the API, by route.",
	}, []string{"route"})

	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "downloads_total",
		Help:      "Finished download jobs by outcome.",
	}, []string{"outcome"})

	DownloadActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "companion",
		Name:      "download_active_jobs",
		Help:      "Number of download jobs currently running.",
	})

	DownloadSegmentRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "download_segment_retries_total",
		Help:      "Segment fetches retried after a rate-limit response.",
	})

	DownloadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "download_bytes_total",
		Help:      "Total segment bytes downloaded.",
	})

	ChannelMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "channel_messages_total",
		Help:      "Remote control messages by direction and kind.",
	}, []string{"direction", "kind"})

	ChannelDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "channel_dropped_total",
		Help:      "Remote control messages dropped before the frame announced readiness.",
	}, []string{"kind"})

	RelayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "companion",
		Name:      "relay_connections",
		Help:      "Number of open relay websocket connections.",
	})

	PlayerStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "player_state_transitions_total",
		Help:      "Playback controller state transitions.",
	}, []string{"from", "to"})

	PlayerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "player_errors_total",
		Help:      "Classified playback errors.",
	}, []string{"kind"})

	ResumeWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "resume_writes_total",
		Help:      "Resume checkpoint writes by result (written, stale, rejected).",
	}, []string{"result"})

	ResumeSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "companion",
		Name:      "resume_swept_total",
		Help:      "Resume checkpoints removed by the retention sweep.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRateLimitedTotal,
		HTTPPanicsTotal,
		DownloadsTotal,
		DownloadActiveJobs,
		DownloadSegmentRetries,
		DownloadBytesTotal,
		ChannelMessagesTotal,
		ChannelDroppedTotal,
		RelayConnections,
		PlayerStateTransitionsTotal,
		PlayerErrorsTotal,
		ResumeWritesTotal,
		ResumeSweptTotal,
	)
}
