// Package obs exposes the engine's Prometheus metrics.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imbalancebot"

// Metrics holds the orchestrator counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	signals      *prometheus.CounterVec
	riskBlocks   *prometheus.CounterVec
	orders       *prometheus.CounterVec
	errors       *prometheus.CounterVec
	reconnects   prometheus.Counter
	killSwitch   prometheus.Gauge
	equity       prometheus.Gauge
	openPos      prometheus.Gauge
	eventLatency prometheus.Histogram
}

// New creates the metric set on its own registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Market events processed, by kind",
		}, []string{"kind"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals emitted by the strategy, by side",
		}, []string{"side"}),
		riskBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_blocks_total",
			Help:      "Signals rejected by risk, by check",
		}, []string{"check"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders dispatched to the broker, by side and result",
		}, []string{"side", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Contained per-event errors, by audit type",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Feed reconnect attempts",
		}),
		killSwitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kill_switch_tripped",
			Help:      "1 once the kill switch has tripped",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_equity",
			Help:      "Broker balance plus unrealized P&L at the last event",
		}),
		openPos: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions reported by the broker at the last event",
		}),
		eventLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_processing_seconds",
			Help:      "Wall time spent processing one event",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}
	m.registry.MustRegister(
		m.events, m.signals, m.riskBlocks, m.orders, m.errors,
		m.reconnects, m.killSwitch, m.equity, m.openPos, m.eventLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Event(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
	m.eventLatency.Observe(took.Seconds())
}

func (m *Metrics) Signal(side string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(side).Inc()
}

func (m *Metrics) RiskBlock(check string) {
	if m == nil {
		return
	}
	m.riskBlocks.WithLabelValues(check).Inc()
}

func (m *Metrics) Order(side, result string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, result).Inc()
}

func (m *Metrics) Error(auditType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(auditType).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) KillSwitchTripped() {
	if m == nil {
		return
	}
	m.killSwitch.Set(1)
}

// Account records the broker state observed for the last event.
func (m *Metrics) Account(equity float64, openPositions int) {
	if m == nil {
		return
	}
	m.equity.Set(equity)
	m.openPos.Set(float64(openPositions))
}
