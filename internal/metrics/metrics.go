package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"torrentsession/internal/domain"
)

const namespace = "torrentsession"

var (
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of engine sessions currently open.",
	})

	RegisteredTorrents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_torrents",
		Help:      "Number of torrents registered across all sessions.",
	})

	TorrentsAddedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "torrents_added_total",
		Help:      "Total torrents added by source kind (file, magnet).",
	}, []string{"source"})

	TorrentAddFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "torrent_add_failures_total",
		Help:      "Total failed torrent adds by source kind and reason.",
	}, []string{"source", "reason"})

	TorrentsRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "torrents_removed_total",
		Help:      "Total torrents removed from a session.",
	})

	EngineCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "engine_call_duration_seconds",
		Help:      "Duration of native engine calls in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"op"})

	AlertsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_published_total",
		Help:      "Total engine alerts accepted by the alert bridge.",
	})

	AlertsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_dropped_total",
		Help:      "Total alerts dropped by reason (backlog, subscriber, rate, closed).",
	}, []string{"reason"})

	AlertSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "alert_subscribers",
		Help:      "Number of open alert subscriptions.",
	})

	AlertPollFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_poll_failures_total",
		Help:      "Total failed alert flushes. The poller keeps running after each.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all torrents.",
	})

	SeedsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "seeds_connected",
		Help:      "Total number of seeds connected across all torrents.",
	})

	TorrentsByActivity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "torrents",
		Help:      "Registered torrents by activity (active, paused).",
	}, []string{"activity"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ActiveSessions,
		RegisteredTorrents,
		TorrentsAddedTotal,
		TorrentAddFailuresTotal,
		TorrentsRemovedTotal,
		EngineCallDuration,
		AlertsPublishedTotal,
		AlertsDroppedTotal,
		AlertSubscribers,
		AlertPollFailuresTotal,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		SeedsConnected,
		TorrentsByActivity,
	)
}

// ObserveEngineCall records the duration of one engine call since start.
func ObserveEngineCall(op string, start time.Time) {
	EngineCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveStatistics publishes an aggregated session snapshot.
func ObserveStatistics(stats domain.SessionStatistics) {
	DownloadSpeedBytes.Set(float64(stats.DownloadRate))
	UploadSpeedBytes.Set(float64(stats.UploadRate))
	PeersConnected.Set(float64(stats.TotalPeers))
	SeedsConnected.Set(float64(stats.TotalSeeds))
	TorrentsByActivity.WithLabelValues("active").Set(float64(stats.ActiveTorrents))
	TorrentsByActivity.WithLabelValues("paused").Set(float64(stats.PausedTorrents))
}
