// Package metrics exposes Prometheus counters for billing decisions,
// settlements, HTTP traffic and rate limiting.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the rest of the gateway reports to
type Recorder interface {
	RecordDecision(mode string, allowed bool, reason string)
	RecordSettlement(mode, outcome string, units float64)
	RecordRequest(method, route string, status int, duration time.Duration)
	RecordRateLimitHit(route string)
}

// Noop discards everything
type Noop struct{}

func (Noop) RecordDecision(string, bool, string)              {}
func (Noop) RecordSettlement(string, string, float64)         {}
func (Noop) RecordRequest(string, string, int, time.Duration) {}
func (Noop) RecordRateLimitHit(string)                        {}

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Prometheus implements Recorder on a private registry
type Prometheus struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	settledUnits   *prometheus.CounterVec
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

// NewPrometheus registers the gateway collectors plus Go and process stats
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "transcribe"
	}

	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "decisions_total",
			Help:      "Billing decisions by mode and outcome",
		}, []string{"mode", "allowed", "reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "settlements_total",
			Help:      "Settlement attempts by mode and outcome",
		}, []string{"mode", "outcome"}),
		settledUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "settled_seconds_total",
			Help:      "Transcription seconds settled per mode",
		}, []string{"mode"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route"}),
	}

	p.registry.MustRegister(
		p.decisions,
		p.settlements,
		p.settledUnits,
		p.requestTotal,
		p.requestLatency,
		p.rateLimitHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) RecordDecision(mode string, allowed bool, reason string) {
	if mode == "" {
		mode = "none"
	}
	p.decisions.WithLabelValues(mode, strconv.FormatBool(allowed), reason).Inc()
}

func (p *Prometheus) RecordSettlement(mode, outcome string, units float64) {
	p.settlements.WithLabelValues(mode, outcome).Inc()
	if outcome == "applied" && units > 0 {
		p.settledUnits.WithLabelValues(mode).Add(units)
	}
}

func (p *Prometheus) RecordRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	p.requestTotal.With(labels).Inc()
	p.requestLatency.With(labels).Observe(duration.Seconds())
}

func (p *Prometheus) RecordRateLimitHit(route string) {
	p.rateLimitHits.WithLabelValues(route).Inc()
}

// Handler serves the registry in the Prometheus text format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry exposes the underlying registry
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
