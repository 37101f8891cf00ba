// Package metrics provides Prometheus metrics for monitoring gatewayd.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests by route and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"route", "status"},
	)

	// RequestDuration tracks request duration by route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewayd_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"route"},
	)

	// BrowserPoolSize shows the configured pool size.
	BrowserPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_browser_pool_size",
			Help: "Configured browser pool size",
		},
	)

	// BrowserPoolAvailable shows available browsers in the pool.
	BrowserPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_browser_pool_available",
			Help: "Available browsers in pool",
		},
	)

	// BrowserPoolAcquired counts total browser acquisitions.
	BrowserPoolAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_browser_pool_acquired_total",
			Help: "Total browser acquisitions from pool",
		},
	)

	// BrowserPoolRecycled counts browser recycles.
	BrowserPoolRecycled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_browser_pool_recycled_total",
			Help: "Total browsers recycled",
		},
	)

	// CacheLookups counts cache reads by result: hit, stale, miss.
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_cache_lookups_total",
			Help: "Total cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheSingleFlightWaits counts requests that had to wait on an
	// in-flight producer rather than becoming the producer themselves.
	CacheSingleFlightWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_cache_singleflight_waits_total",
			Help: "Total requests that waited on an in-flight cache producer",
		},
	)

	// ImagesReingested counts images processed by the reingest pipeline,
	// by outcome: stored, skipped_cached (already in Redis/Postgres),
	// rejected (size/MIME validation), failed (fetch or upload error).
	ImagesReingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_images_reingested_total",
			Help: "Total images processed by the reingest pipeline",
		},
		[]string{"outcome"},
	)

	// ChatConnections shows the current number of live WebSocket chat
	// connections.
	ChatConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_chat_connections",
			Help: "Number of live WebSocket chat connections",
		},
	)

	// ChatMessagesTotal counts persisted chat messages by room.
	ChatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_chat_messages_total",
			Help: "Total chat messages persisted",
		},
		[]string{"room"},
	)

	// ScrapeFailures counts scrape attempts that ended in a terminal
	// upstream error (challenge, blockpage, access denied, rate limit,
	// geo block, or "other"), by reason.
	ScrapeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_scrape_failures_total",
			Help: "Total scrape attempts that failed, by reason",
		},
		[]string{"reason"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatewayd_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		BrowserPoolSize,
		BrowserPoolAvailable,
		BrowserPoolAcquired,
		BrowserPoolRecycled,
		CacheLookups,
		CacheSingleFlightWaits,
		ImagesReingested,
		ChatConnections,
		ChatMessagesTotal,
		ScrapeFailures,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

// updateMemoryMetrics updates memory-related metrics.
func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed HTTP request.
func RecordRequest(route, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(route, status).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache read outcome: "hit", "stale", or "miss".
func RecordCacheLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheSingleFlightWait records a request that waited on an in-flight
// producer instead of becoming one.
func RecordCacheSingleFlightWait() {
	CacheSingleFlightWaits.Inc()
}

// RecordImageReingested records one reingest outcome: "stored",
// "skipped_cached", "rejected", or "failed".
func RecordImageReingested(outcome string) {
	ImagesReingested.WithLabelValues(outcome).Inc()
}

// RecordChatMessage records one persisted chat message in room.
func RecordChatMessage(room string) {
	ChatMessagesTotal.WithLabelValues(room).Inc()
}

// RecordScrapeFailure records a scrape attempt that failed for reason.
func RecordScrapeFailure(reason string) {
	ScrapeFailures.WithLabelValues(reason).Inc()
}

// UpdatePoolMetrics updates browser pool metrics.
func UpdatePoolMetrics(size, available int, acquired, recycled int64) {
	BrowserPoolSize.Set(float64(size))
	BrowserPoolAvailable.Set(float64(available))
	// Note: acquired and recycled are ignored; counters only increase, and
	// BrowserPoolAcquired/BrowserPoolRecycled are not incremented by any caller.
}

// UpdateChatConnections updates the live chat connection count.
func UpdateChatConnections(count int) {
	ChatConnections.Set(float64(count))
}
