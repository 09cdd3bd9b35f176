package evcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics 在 Registerer 为 nil 时仍然可用，只是不注册
type metrics struct {
	attached   prometheus.Counter
	closed     prometheus.Counter
	bound      prometheus.Gauge
	tasks      *prometheus.CounterVec
	retries    *prometheus.CounterVec
	fallbacks  prometheus.Counter
	pings      prometheus.Counter
	sweeps     prometheus.Counter
	broadcasts prometheus.Counter
	cycles     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, name string) *metrics {
	if reg != nil && name != "" {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"server": name}, reg)
	}
	f := promauto.With(reg)
	return &metrics{
		attached: f.NewCounter(prometheus.CounterOpts{
			Name: "evcore_protocols_attached_total",
			Help: "Protocols attached to a connection slot",
		}),
		closed: f.NewCounter(prometheus.CounterOpts{
			Name: "evcore_protocols_closed_total",
			Help: "Protocol OnClose callbacks delivered",
		}),
		bound: f.NewGauge(prometheus.GaugeOpts{
			Name: "evcore_connections_bound",
			Help: "Connection slots with a bound protocol",
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evcore_tasks_total",
			Help: "Deferred tasks executed against a protocol, by kind",
		}, []string{"kind"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evcore_task_retries_total",
			Help: "Deferred tasks rescheduled because a lock was busy, by kind",
		}, []string{"kind"}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "evcore_task_fallbacks_total",
			Help: "Single tasks resolved through their fallback",
		}),
		pings: f.NewCounter(prometheus.CounterOpts{
			Name: "evcore_pings_total",
			Help: "Ping callbacks delivered to idle connections",
		}),
		sweeps: f.NewCounter(prometheus.CounterOpts{
			Name: "evcore_timeout_sweeps_total",
			Help: "Completed timeout sweeps over the connection table",
		}),
		broadcasts: f.NewCounter(prometheus.CounterOpts{
			Name: "evcore_broadcasts_completed_total",
			Help: "Broadcast tasks whose completion callback fired",
		}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "evcore_cycles_total",
			Help: "Run loop iterations",
		}),
	}
}

const (
	kindData     = "data"
	kindReady    = "ready"
	kindShutdown = "shutdown"
	kindPing     = "ping"
	kindClose    = "close"
	kindSingle   = "single"
	kindEach     = "each"
	kindSweep    = "sweep"
)
