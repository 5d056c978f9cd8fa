package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the call crawler
type PrometheusMetrics struct {
	// Crawl metrics
	CallsRegisteredTotal  *prometheus.CounterVec
	DecodeFailuresTotal   *prometheus.CounterVec
	BlocksCrawledTotal    prometheus.Counter
	BlockCrawlDuration    prometheus.Histogram
	TransactionsSeenTotal prometheus.Counter

	// Connection and error metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Progress metrics
	LatestCrawledBlock prometheus.Gauge
	BlocksBehind       prometheus.Gauge

	// Storage metrics
	StoreFlushesTotal  *prometheus.CounterVec
	StoreFlushDuration *prometheus.HistogramVec
	PendingCalls       prometheus.Gauge

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		CallsRegisteredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_calls_registered_total",
				Help: "Total number of decoded contract calls registered with the store",
			},
			[]string{"contract_address", "function_name"},
		),

		DecodeFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_decode_failures_total",
				Help: "Total number of transactions whose calldata could not be decoded",
			},
			[]string{"contract_address", "reason"},
		),

		BlocksCrawledTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_blocks_crawled_total",
				Help: "Total number of blocks scanned",
			},
		),

		BlockCrawlDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_block_crawl_duration_seconds",
				Help:    "Time spent scanning individual blocks",
				Buckets: prometheus.DefBuckets,
			},
		),

		TransactionsSeenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_transactions_seen_total",
				Help: "Total number of transactions addressed to watched contracts",
			},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_connection_errors_total",
				Help: "Total number of connection errors to RPC nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_rpc_requests_total",
				Help: "Total number of RPC requests made to nodes",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		LatestCrawledBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_latest_crawled_block",
				Help: "Last block recorded by the crawl cursor",
			},
		),

		BlocksBehind: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_blocks_behind",
				Help: "Number of blocks between the cursor and the chain head",
			},
		),

		StoreFlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_store_flushes_total",
				Help: "Total number of store flushes",
			},
			[]string{"backend", "status"},
		),

		StoreFlushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_store_flush_duration_seconds",
				Help:    "Duration of store flushes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),

		PendingCalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_store_pending_calls",
				Help: "Calls registered but not yet flushed",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordCallRegistered records a decoded call
func (m *PrometheusMetrics) RecordCallRegistered(contractAddress, functionName string) {
	m.CallsRegisteredTotal.WithLabelValues(contractAddress, functionName).Inc()
}

// RecordDecodeFailure records a transaction that failed to decode
func (m *PrometheusMetrics) RecordDecodeFailure(contractAddress, reason string) {
	m.DecodeFailuresTotal.WithLabelValues(contractAddress, reason).Inc()
}

// RecordBlockCrawled records a scanned block and how long it took
func (m *PrometheusMetrics) RecordBlockCrawled(duration time.Duration) {
	m.BlocksCrawledTotal.Inc()
	m.BlockCrawlDuration.Observe(duration.Seconds())
}

// RecordTransactionsSeen records transactions returned by the reader
func (m *PrometheusMetrics) RecordTransactionsSeen(count int) {
	m.TransactionsSeenTotal.Add(float64(count))
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// UpdateLatestCrawledBlock updates the cursor gauge
func (m *PrometheusMetrics) UpdateLatestCrawledBlock(blockNumber int64) {
	m.LatestCrawledBlock.Set(float64(blockNumber))
}

// UpdateBlocksBehind updates the blocks behind gauge
func (m *PrometheusMetrics) UpdateBlocksBehind(behind uint64) {
	m.BlocksBehind.Set(float64(behind))
}

// RecordStoreFlush records a flush attempt
func (m *PrometheusMetrics) RecordStoreFlush(backend, status string, duration time.Duration) {
	m.StoreFlushesTotal.WithLabelValues(backend, status).Inc()
	m.StoreFlushDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// UpdatePendingCalls updates the unflushed call gauge
func (m *PrometheusMetrics) UpdatePendingCalls(count int) {
	m.PendingCalls.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateMemoryUsage updates memory usage
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
