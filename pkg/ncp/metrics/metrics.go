// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robotalks/ncp.go/pkg/ncp"
)

// Config configures the metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "ncp").
	Namespace string
	// Subsystem is the metrics subsystem.
	Subsystem string
	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels
	// Buckets are the buckets of the command duration histogram.
	Buckets []float64
	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures the metrics.
type Option func(*Config)

// WithNamespace sets the namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithSubsystem sets the subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) { c.Subsystem = subsystem }
}

// WithConstLabels sets constant labels.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithRegistry sets the registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

// DefaultBuckets are tuned for command processing on a target.
var DefaultBuckets = []float64{.0001, .0005, .001, .005, .01, .05, .1, .5}

// Observer implements ncp.Observer.
type Observer struct {
	commands        *prometheus.CounterVec
	commandDuration prometheus.Histogram
	eventsQueued    prometheus.Counter
	eventsDropped   prometheus.Counter
	eventBytes      prometheus.Counter
	rxTimeouts      prometheus.Counter
	pending         prometheus.Gauge
	used            prometheus.Gauge
}

// New creates an Observer and registers its metrics.
func New(opts ...Option) *Observer {
	config := Config{
		Namespace: "ncp",
		Buckets:   DefaultBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	return &Observer{
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "commands_total",
			Help:        "Total number of commands processed",
			ConstLabels: config.ConstLabels,
		}, []string{"message"}),
		commandDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "command_duration_seconds",
			Help:        "Command processing duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
		eventsQueued:  counter("events_queued_total", "Total number of events queued for transmission"),
		eventsDropped: counter("events_dropped_total", "Total number of events dropped for lack of space"),
		eventBytes:    counter("event_bytes_total", "Total bytes of events queued"),
		rxTimeouts:    counter("receive_timeouts_total", "Total number of partially received commands discarded"),
		pending:       gauge("tx_segments_pending", "Segments waiting for the transport"),
		used:          gauge("tx_segments_used", "Segments not yet confirmed by the transport"),
	}
}

// CommandProcessed implements ncp.Observer.
func (o *Observer) CommandProcessed(id ncp.MessageID, dur time.Duration) {
	o.commands.WithLabelValues(id.String()).Inc()
	o.commandDuration.Observe(dur.Seconds())
}

// EventQueued implements ncp.Observer.
func (o *Observer) EventQueued(size int) {
	o.eventsQueued.Inc()
	o.eventBytes.Add(float64(size))
}

// EventDropped implements ncp.Observer.
func (o *Observer) EventDropped(int) {
	o.eventsDropped.Inc()
}

// ReceiveTimeout implements ncp.Observer.
func (o *Observer) ReceiveTimeout() {
	o.rxTimeouts.Inc()
}

// QueueDepth implements ncp.Observer.
func (o *Observer) QueueDepth(pending, used int) {
	o.pending.Set(float64(pending))
	o.used.Set(float64(used))
}
