// Package monitoring - prometheus.go exposes gateway metrics for scraping.
//
// Uses a private registry so the gateway only exports what it registers;
// histogram buckets are tuned for LLM latencies (seconds to minutes).
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus holds the gateway's scrape-exported metrics.
type Prometheus struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	UpstreamLatency prometheus.Histogram
	TTFT            prometheus.Histogram
	TokensTotal     *prometheus.CounterVec
}

// NewPrometheus builds the registry and registers all collectors.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Prometheus{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Requests by route and status code.",
		}, []string{"route", "status"}),
		UpstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "upstream_latency_seconds",
			Help:      "Wall-clock latency of upstream completion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 13), // 0.1s .. ~13m
		}),
		TTFT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "ttft_seconds",
			Help:      "Time to first token for streaming completions.",
			Buckets:   prometheus.ExponentialBuckets(0.02, 2, 12), // 20ms .. ~40s
		}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "tokens_total",
			Help:      "Tokens reported by upstream usage, by direction.",
		}, []string{"direction"}),
	}
}

// Handler serves the scrape endpoint for this registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request for scraping.
func (p *Prometheus) ObserveRequest(route string, status string) {
	p.RequestsTotal.WithLabelValues(route, status).Inc()
}

// ObserveUsage records upstream-reported token counts.
func (p *Prometheus) ObserveUsage(promptTokens, completionTokens int) {
	if promptTokens > 0 {
		p.TokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		p.TokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
}
