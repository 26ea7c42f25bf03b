package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	renders         *prometheus.CounterVec
	outputBytes     prometheus.Histogram
}

func newMetrics(cache CacheStats) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelproxy_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelproxy_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelproxy_renders_total",
			Help: "Render attempts by outcome: ok or the failing stage.",
		}, []string{"outcome"}),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelproxy_render_output_bytes",
			Help:    "Size of rendered images in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.renders,
		m.outputBytes,
	)
	if cache != nil {
		registerCacheMetrics(registry, cache)
	}
	return m
}

func registerCacheMetrics(registry *prometheus.Registry, cache CacheStats) {
	counter := func(name, help string, read func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, read)
	}
	gauge := func(name, help string, read func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, read)
	}

	registry.MustRegister(
		counter("pixelproxy_fetch_cache_hits_total", "Retrievals served from the fetch cache.",
			func() float64 { return float64(cache.Stats().Hits) }),
		counter("pixelproxy_fetch_cache_misses_total", "Retrievals that missed the fetch cache.",
			func() float64 { return float64(cache.Stats().Misses) }),
		counter("pixelproxy_fetch_cache_fetches_total", "Upstream fetches started by the fetch cache.",
			func() float64 { return float64(cache.Stats().Fetches) }),
		counter("pixelproxy_fetch_cache_evictions_total", "Entries evicted from the fetch cache.",
			func() float64 { return float64(cache.Stats().Evictions) }),
		gauge("pixelproxy_fetch_cache_entries", "Entries currently held by the fetch cache.",
			func() float64 { return float64(cache.Stats().Entries) }),
		gauge("pixelproxy_fetch_cache_capacity", "Configured fetch cache capacity.",
			func() float64 { return float64(cache.Stats().Capacity) }),
	)
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeLabel(c)
		status := strconv.Itoa(c.Writer.Status())
		m.requestTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

// routeLabel keeps label cardinality bounded by using the matched route template.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
