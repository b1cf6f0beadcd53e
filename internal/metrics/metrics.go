// Package metrics exports pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"live_commerce/internal/live"
	"live_commerce/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "live_commerce"

// Collector implements live.Observer on a private registry.
type Collector struct {
	registry *prometheus.Registry

	comments    *prometheus.CounterVec
	matches     *prometheus.CounterVec
	orders      *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	connections *prometheus.CounterVec
	faults      prometheus.Counter
	sessions    prometheus.Gauge
}

var _ live.Observer = (*Collector)(nil)

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		comments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_processed_total",
			Help:      "Comments that went through the matcher, by platform.",
		}, []string{"platform"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Comments that resolved to a catalog code, by rule.",
		}, []string{"rule"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by source.",
		}, []string{"source"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_skipped_total",
			Help:      "Matches that did not produce an order, by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Platform connection state changes.",
		}, []string{"platform", "state"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_faults_total",
			Help:      "Session workers restarted after a crash.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently running a pipeline.",
		}),
	}
	c.registry.MustRegister(
		c.comments, c.matches, c.orders, c.skipped, c.connections, c.faults, c.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// GaugeFunc registers a gauge read from fn at scrape time.
func (c *Collector) GaugeFunc(name, help string, fn func() float64) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) CommentProcessed(platform string) {
	c.comments.WithLabelValues(platform).Inc()
}

func (c *Collector) Matched(rule live.MatchRule) {
	c.matches.WithLabelValues(string(rule)).Inc()
}

func (c *Collector) OrderCreated(source model.OrderSource) {
	c.orders.WithLabelValues(string(source)).Inc()
}

func (c *Collector) OrderSkipped(reason string) {
	c.skipped.WithLabelValues(reason).Inc()
}

func (c *Collector) ConnectionState(platform string, state model.ConnectionState) {
	c.connections.WithLabelValues(platform, string(state)).Inc()
}

func (c *Collector) PipelineFault() { c.faults.Inc() }

func (c *Collector) SessionsActive(n int) { c.sessions.Set(float64(n)) }
