// Package metrics exports monitor traffic as Prometheus metrics.
//
// Metrics collected (namespace defaults to "vicebridge"):
//   - commands_sent_total: frames written, by command
//   - responses_total: replies received, by response type and error code
//   - response_duration_seconds: time from write to reply, by response type
//   - command_timeouts_total: requests that got no reply in time, by command
//   - unsolicited_total: frames matching no request, by response type
//   - connected: 1 while a monitor session is up
//   - queue_depth: commands waiting to be sent, when a depth source is set
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// Config configures the profiler.
type Config struct {
	// Namespace prefixes every metric name (default: "vicebridge").
	Namespace string

	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for response latency.
	Buckets []float64

	// Registry receives the collectors and backs Handler. A fresh registry
	// is created when nil.
	Registry *prometheus.Registry

	// ProcessCollectors adds the Go runtime and process collectors.
	ProcessCollectors bool
}

// Option configures the profiler.
type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) { c.Registry = registry }
}

func WithProcessCollectors() Option {
	return func(c *Config) { c.ProcessCollectors = true }
}

func defaultConfig() Config {
	return Config{
		Namespace: "vicebridge",
		// Local socket round trips: 100µs to ~5s.
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 9),
	}
}

// Profiler implements the dispatcher's performance sink.
type Profiler struct {
	registry *prometheus.Registry
	factory  promauto.Factory
	cfg      Config

	commandsSent     *prometheus.CounterVec
	responses        *prometheus.CounterVec
	responseDuration *prometheus.HistogramVec
	timeouts         *prometheus.CounterVec
	unsolicited      *prometheus.CounterVec
	connected        prometheus.Gauge
}

// New registers the profiler's collectors.
func New(opts ...Option) *Profiler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "vicebridge"
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = defaultConfig().Buckets
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.ProcessCollectors {
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(cfg.Registry)
	return &Profiler{
		registry: cfg.Registry,
		factory:  factory,
		cfg:      cfg,

		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "commands_sent_total",
			Help:        "Command frames written to the monitor",
			ConstLabels: cfg.ConstLabels,
		}, []string{"command"}),

		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "responses_total",
			Help:        "Replies received from the monitor",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type", "error_code"}),

		responseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "response_duration_seconds",
			Help:        "Time from writing a command to receiving its reply",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"type"}),

		timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "command_timeouts_total",
			Help:        "Commands that received no reply within the response timeout",
			ConstLabels: cfg.ConstLabels,
		}, []string{"command"}),

		unsolicited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "unsolicited_total",
			Help:        "Frames that matched no outstanding request",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),

		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connected",
			Help:        "1 while a monitor session is established",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

func (p *Profiler) CommandSent(t protocol.CommandType) {
	p.commandsSent.WithLabelValues(t.String()).Inc()
}

func (p *Profiler) ResponseReceived(t protocol.ResponseType, code protocol.ErrorCode, elapsed time.Duration) {
	p.responses.WithLabelValues(t.String(), code.String()).Inc()
	p.responseDuration.WithLabelValues(t.String()).Observe(elapsed.Seconds())
}

func (p *Profiler) CommandTimedOut(t protocol.CommandType) {
	p.timeouts.WithLabelValues(t.String()).Inc()
}

func (p *Profiler) UnsolicitedReceived(t protocol.ResponseType) {
	p.unsolicited.WithLabelValues(t.String()).Inc()
}

// SetConnected tracks session state; pass it to the bridge's
// connectivity observer.
func (p *Profiler) SetConnected(connected bool) {
	if connected {
		p.connected.Set(1)
		return
	}
	p.connected.Set(0)
}

// TrackQueueDepth exposes depth as the queue_depth gauge. Call it once.
func (p *Profiler) TrackQueueDepth(depth func() int) {
	p.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   p.cfg.Namespace,
		Name:        "queue_depth",
		Help:        "Commands waiting to be sent",
		ConstLabels: p.cfg.ConstLabels,
	}, func() float64 { return float64(depth()) })
}

// Registry returns the registry holding the profiler's collectors.
func (p *Profiler) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Profiler) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
