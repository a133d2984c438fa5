// Package metrics provides Prometheus metrics for the limit order engine
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PendingOrders 当前内存中的挂单总数。
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "limit_engine",
		Name:      "pending_orders",
		Help:      "Number of unfilled orders currently held in memory",
	})

	// OrdersSubmitted 按执行类别统计的提交总数。
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "limit_engine",
		Name:      "orders_submitted_total",
		Help:      "Orders accepted by submit, by execution kind",
	}, []string{"kind"})

	// OrdersFilled 成交总数；immediate 标记提交即成交的订单。
	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "limit_engine",
		Name:      "orders_filled_total",
		Help:      "Orders filled, by execution kind and path (sweep/immediate/edit)",
	}, []string{"kind", "path"})

	// OrdersCancelled 取消总数。
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "limit_engine",
		Name:      "orders_cancelled_total",
		Help:      "Orders cancelled, by execution kind",
	}, []string{"kind"})

	// OrdersRejected 校验拒绝总数。
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "limit_engine",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected by validation",
	})

	// SweepPasses 扫单轮次。
	SweepPasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "limit_engine",
		Name:      "sweep_passes_total",
		Help:      "Completed sweep passes",
	})

	// SweepDuration 单轮扫单耗时。
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "limit_engine",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one sweep pass",
		Buckets:   prometheus.DefBuckets,
	})

	// PersistErrors 磁盘读写失败次数。
	PersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "limit_engine",
		Name:      "persist_errors_total",
		Help:      "Failed disk writes/deletes (memory stays authoritative)",
	})

	// FillFailures 触发确认后成交失败（订单转入取消终态）。
	FillFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "limit_engine",
		Name:      "fill_failures_total",
		Help:      "Fills that failed after trigger confirmation",
	})
)

// RecordFill 记录一次成交。
func RecordFill(kind, path string) {
	OrdersFilled.WithLabelValues(kind, path).Inc()
}

// RecordSubmit 记录一次提交受理。
func RecordSubmit(kind string) {
	OrdersSubmitted.WithLabelValues(kind).Inc()
}

// RecordCancel 记录一次取消。
func RecordCancel(kind string) {
	OrdersCancelled.WithLabelValues(kind).Inc()
}
