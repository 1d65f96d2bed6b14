// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 检索管线指标收集器
type Collector struct {
	// 检索指标
	retrievalTotal    *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec

	// 融合指标
	fusionDuration *prometheus.HistogramVec
	fusedItems     prometheus.Histogram

	// 时效过滤指标
	temporalFiltered *prometheus.CounterVec

	// 缓存指标
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// 查询指标
	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 registerer。
// registerer 为 nil 时使用全局默认注册表。
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.retrievalTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Total retrieval requests per origin and status",
		},
		[]string{"origin", "status"},
	)

	c.retrievalDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration per origin",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"origin"},
	)

	c.fusionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fusion_duration_seconds",
			Help:      "Evidence fusion duration per strategy",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"strategy"},
	)

	c.fusedItems = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fused_items",
			Help:      "Number of items in fused evidence sets",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		},
	)

	c.temporalFiltered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temporal_filtered_total",
			Help:      "Graph facts excluded by temporal filtering",
		},
		[]string{"reason"},
	)

	c.cacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Result cache hits",
		},
	)

	c.cacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Result cache misses",
		},
	)

	c.queriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total pipeline queries per final status",
		},
		[]string{"status"},
	)

	c.queryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end pipeline query duration",
			Buckets:   prometheus.DefBuckets,
		},
	)

	return c
}

// RecordRetrieval 记录一次检索调用。
func (c *Collector) RecordRetrieval(origin, status string, duration time.Duration) {
	c.retrievalTotal.WithLabelValues(origin, status).Inc()
	c.retrievalDuration.WithLabelValues(origin).Observe(duration.Seconds())
}

// RecordFusion 记录一次融合。
func (c *Collector) RecordFusion(strategy string, itemCount int, duration time.Duration) {
	c.fusionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	c.fusedItems.Observe(float64(itemCount))
}

// RecordTemporalFiltered 记录被时效过滤排除的事实数。
func (c *Collector) RecordTemporalFiltered(reason string, count int) {
	if count > 0 {
		c.temporalFiltered.WithLabelValues(reason).Add(float64(count))
	}
}

// RecordCacheHit 记录缓存命中。
func (c *Collector) RecordCacheHit() { c.cacheHits.Inc() }

// RecordCacheMiss 记录缓存未命中。
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Inc() }

// RecordQuery 记录一次端到端查询。
func (c *Collector) RecordQuery(status string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(status).Inc()
	c.queryDuration.Observe(duration.Seconds())
}
