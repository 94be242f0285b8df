package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records request handling and job outcomes.
type Metrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
	IncOutcome(imageType, outcome string)
	IncDispatch(imageType, result string)
	IncUpstreamError(service string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) IncOutcome(string, string)                      {}
func (Noop) IncDispatch(string, string)                     {}
func (Noop) IncUpstreamError(string)                        {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
}

// NewProm builds the collectors and registers them with reg. A nil reg uses
// the default registerer.
func NewProm(namespace string, reg prometheus.Registerer) (*Prom, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60, 120, 180},
		}, []string{"method", "route"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extract_outcomes_total",
			Help:      "Extraction request outcomes by image type",
		}, []string{"image_type", "outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_dispatches_total",
			Help:      "Workflow dispatch attempts by image type and result",
		}, []string{"image_type", "result"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed calls to external services",
		}, []string{"service"}),
	}

	for _, c := range []prometheus.Collector{p.requests, p.latency, p.outcomes, p.dispatches, p.upstreamErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *Prom) IncOutcome(imageType, outcome string) {
	p.outcomes.WithLabelValues(imageType, outcome).Inc()
}

func (p *Prom) IncDispatch(imageType, result string) {
	p.dispatches.WithLabelValues(imageType, result).Inc()
}

func (p *Prom) IncUpstreamError(service string) {
	p.upstreamErrors.WithLabelValues(service).Inc()
}

// Handler returns an HTTP handler for /metrics serving the given gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
