// Package monitoring exposes Prometheus metrics for the matching core:
// promauto-registered counters, histograms and gauges labeled by energy
// category and side.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector collects the exchange's Prometheus metrics.
type Collector struct {
	logger          *zap.Logger
	systemStartTime time.Time

	ordersSubmitted  *prometheus.CounterVec
	ordersMatched    *prometheus.CounterVec
	ordersCancelled  *prometheus.CounterVec
	ordersCompleted  *prometheus.CounterVec
	submitLatency    *prometheus.HistogramVec

	contractsDeployed *prometheus.CounterVec
	contractsExecuted *prometheus.CounterVec
	contractsFailed   *prometheus.CounterVec
	executeLatency    *prometheus.HistogramVec
	verifyLatency     *prometheus.HistogramVec

	bookVolume *prometheus.GaugeVec
}

// NewCollector builds and registers the exchange's metric vectors.
func NewCollector(logger *zap.Logger) *Collector {
	c := &Collector{logger: logger, systemStartTime: time.Now()}
	c.initialize()
	return c
}

func (c *Collector) initialize() {
	c.ordersSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_submitted_total", Help: "Total number of orders submitted"},
		[]string{"category", "side"},
	)
	c.ordersMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_matched_total", Help: "Total number of orders matched"},
		[]string{"category"},
	)
	c.ordersCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_cancelled_total", Help: "Total number of orders cancelled"},
		[]string{"category"},
	)
	c.ordersCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_completed_total", Help: "Total number of orders completed"},
		[]string{"category"},
	)
	c.submitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_submit_latency_seconds",
			Help:    "Latency of Submit calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		},
		[]string{"category", "side"},
	)

	c.contractsDeployed = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "contracts_deployed_total", Help: "Total number of contracts deployed"},
		[]string{"category"},
	)
	c.contractsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "contracts_executed_total", Help: "Total number of contracts executed"},
		[]string{"category"},
	)
	c.contractsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "contracts_failed_total", Help: "Total number of contracts failed"},
		[]string{"category"},
	)
	c.executeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contract_execute_latency_seconds",
			Help:    "Latency of contract execute calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"category"},
	)
	c.verifyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contract_verify_latency_seconds",
			Help:    "Latency of contract verify calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		},
		[]string{"category"},
	)

	c.bookVolume = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "book_resting_volume", Help: "Resting volume currently in the order book"},
		[]string{"category", "side"},
	)
}

func (c *Collector) RecordSubmit(category, side string, latency time.Duration) {
	c.ordersSubmitted.WithLabelValues(category, side).Inc()
	c.submitLatency.WithLabelValues(category, side).Observe(latency.Seconds())
}

func (c *Collector) RecordMatch(category string) {
	c.ordersMatched.WithLabelValues(category).Inc()
}

func (c *Collector) RecordCancel(category string) {
	c.ordersCancelled.WithLabelValues(category).Inc()
}

func (c *Collector) RecordCompletion(category string) {
	c.ordersCompleted.WithLabelValues(category).Inc()
}

func (c *Collector) RecordDeploy(category string) {
	c.contractsDeployed.WithLabelValues(category).Inc()
}

func (c *Collector) RecordExecute(category string, latency time.Duration, failed bool) {
	if failed {
		c.contractsFailed.WithLabelValues(category).Inc()
		return
	}
	c.contractsExecuted.WithLabelValues(category).Inc()
	c.executeLatency.WithLabelValues(category).Observe(latency.Seconds())
}

func (c *Collector) RecordVerify(category string, latency time.Duration) {
	c.verifyLatency.WithLabelValues(category).Observe(latency.Seconds())
}

func (c *Collector) SetBookVolume(category, side string, volume float64) {
	c.bookVolume.WithLabelValues(category, side).Set(volume)
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.systemStartTime)
}
