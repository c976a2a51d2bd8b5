// Package metrics declares the Prometheus collectors of the bot.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Result label values.
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
	ResultSkipped  = "skipped"
)

var (
	Ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_ticks_total",
		Help: "Auto-post checks by outcome.",
	}, []string{"result"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_deliveries_total",
		Help: "Item deliveries by outcome.",
	}, []string{"result"})

	ScheduledDestinations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autopost_scheduled_destinations",
		Help: "Destinations with a live auto-post timer.",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autopost_tick_duration_seconds",
		Help:    "Duration of a single auto-post check.",
		Buckets: prometheus.DefBuckets,
	})

	Likes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autopost_likes_total",
		Help: "Like button presses.",
	})
)

// SelectionSessions reports the open filter selection sessions as counted by count.
func SelectionSessions(count func() int) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "autopost_selection_sessions",
		Help: "Open filter selection sessions, expired ones included until swept.",
	}, func() float64 { return float64(count()) })
}

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		Ticks,
		Deliveries,
		ScheduledDestinations,
		TickDuration,
		Likes,
	)
}
