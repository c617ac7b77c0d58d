// Package metrics holds the Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grievd/internal/domain"
	"grievd/internal/feed"
	"grievd/internal/live"
	"grievd/internal/notifier"
)

// Metrics is registered on its own registry so tests and multiple instances
// never collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	LogWriteFailures *prometheus.CounterVec
	FeedEvents       *prometheus.CounterVec
	FeedDropped      *prometheus.CounterVec
	LiveSessions     prometheus.Gauge
	LiveDropped      prometheus.Counter
	Reaped           prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grievd_deliveries_total",
			Help: "Delivery attempts by channel and final status.",
		}, []string{"channel", "status"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grievd_delivery_duration_seconds",
			Help:    "Time from attempt creation to recorded outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"channel"}),
		LogWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grievd_log_write_failures_total",
			Help: "Notification log writes that failed, by operation.",
		}, []string{"op"}),
		FeedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grievd_feed_events_total",
			Help: "Change events published to the feed.",
		}, []string{"entity", "operation"}),
		FeedDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grievd_feed_dropped_total",
			Help: "Change events a subscription did not receive.",
		}, []string{"subscription"}),
		LiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "grievd_live_sessions",
			Help: "Connected live sessions.",
		}),
		LiveDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "grievd_live_dropped_total",
			Help: "Live frames dropped because a client was too slow.",
		}),
		Reaped: f.NewCounter(prometheus.CounterOpts{
			Name: "grievd_reaped_attempts_total",
			Help: "Pending attempts closed as abandoned.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) DispatcherHooks() notifier.Hooks {
	return notifier.Hooks{
		Delivered: func(ch domain.Channel, status domain.AttemptStatus, took time.Duration) {
			m.Deliveries.WithLabelValues(string(ch), string(status)).Inc()
			m.DeliveryDuration.WithLabelValues(string(ch)).Observe(took.Seconds())
		},
		LogFailed: func(op string) { m.LogWriteFailures.WithLabelValues(op).Inc() },
	}
}

func (m *Metrics) FeedHooks() feed.Hooks {
	return feed.Hooks{
		Published: func(ev domain.ChangeEvent) {
			m.FeedEvents.WithLabelValues(string(ev.Entity), string(ev.Op)).Inc()
		},
		Dropped: func(sub string, _ domain.ChangeEvent) {
			// Live sessions have per-connection names; collapse them.
			if len(sub) > 5 && sub[:5] == "live:" {
				sub = "live"
			}
			m.FeedDropped.WithLabelValues(sub).Inc()
		},
	}
}

func (m *Metrics) LiveHooks() live.Hooks {
	return live.Hooks{
		Sessions: func(n int) { m.LiveSessions.Set(float64(n)) },
		Dropped:  m.LiveDropped.Inc,
	}
}

// ReaperHook counts attempts closed by the pending-attempt reaper.
func (m *Metrics) ReaperHook() func(n int) {
	return func(n int) { m.Reaped.Add(float64(n)) }
}
