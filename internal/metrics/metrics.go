// Package metrics exports the counters of an mcp.Server to Prometheus and serves them over HTTP
// together with liveness and readiness probes.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Label constants.
const (
	Method  = "method"
	Outcome = "outcome"
	Code    = "code"
	Kind    = "kind"
)

// Collector implements mcp.Metrics on a dedicated Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	framesReceived   prometheus.Counter
	frameBytes       prometheus.Counter
	framesOverflowed prometheus.Counter
	overflowBytes    prometheus.Counter
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	protocolErrors   *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	sentBytes        *prometheus.CounterVec
	writeFailures    prometheus.Counter
}

// NewCollector creates a Collector whose metrics are prefixed with namespace. The Go runtime and
// process collectors are registered alongside.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of complete messages read from the link",
		}),
		frameBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_received_total",
			Help:      "Total number of bytes in complete messages read from the link",
		}),
		framesOverflowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_overflowed_total",
			Help:      "Total number of messages dropped for exceeding the buffer",
		}),
		overflowBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflow_bytes_discarded_total",
			Help:      "Total number of bytes discarded by buffer overflows",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of dispatched requests and notifications",
		}, []string{Method, Outcome}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent dispatching a request, including its handler",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{Method}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of messages rejected before dispatch",
		}, []string{Code}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of responses and notifications written",
		}, []string{Kind}),
		sentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Total number of bytes written",
		}, []string{Kind}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Total number of messages the link rejected",
		}),
	}

	c.registry.MustRegister(
		c.framesReceived,
		c.frameBytes,
		c.framesOverflowed,
		c.overflowBytes,
		c.requests,
		c.requestDuration,
		c.protocolErrors,
		c.messagesSent,
		c.sentBytes,
		c.writeFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry the collector's metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// FrameReceived implements mcp.Metrics.
func (c *Collector) FrameReceived(size int) {
	c.framesReceived.Inc()
	c.frameBytes.Add(float64(size))
}

// FrameOverflow implements mcp.Metrics.
func (c *Collector) FrameOverflow(discarded int) {
	c.framesOverflowed.Inc()
	c.overflowBytes.Add(float64(discarded))
}

// RequestHandled implements mcp.Metrics.
func (c *Collector) RequestHandled(method, outcome string, elapsed time.Duration) {
	c.requests.WithLabelValues(method, outcome).Inc()
	c.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ProtocolError implements mcp.Metrics.
func (c *Collector) ProtocolError(code int) {
	c.protocolErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// MessageSent implements mcp.Metrics.
func (c *Collector) MessageSent(kind string, size int) {
	c.messagesSent.WithLabelValues(kind).Inc()
	c.sentBytes.WithLabelValues(kind).Add(float64(size))
}

// WriteFailed implements mcp.Metrics.
func (c *Collector) WriteFailed() {
	c.writeFailures.Inc()
}
