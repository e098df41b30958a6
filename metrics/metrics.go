// Package metrics provides Prometheus metrics for the execution engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlaced 按场所/方向/类型统计的下单数量
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_orders_placed_total",
		Help: "下单数量",
	}, []string{"venue", "side", "type"})

	// OrderFailures 下单失败数量（含校验拒绝与场所拒单）
	OrderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_order_failures_total",
		Help: "下单失败数量",
	}, []string{"venue", "reason"})

	// SlippageRejects 保护单因滑点超限被拒数量
	SlippageRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_slippage_rejects_total",
		Help: "滑点超限拒单数量",
	})

	// ThinBook 盘口深度不足请求量一半的估算次数
	ThinBook = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_thin_book_total",
		Help: "薄盘口估算次数",
	})

	// SlippageEstimate 最近一次滑点估算值
	SlippageEstimate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exec_slippage_estimate",
		Help: "最近一次滑点估算",
	}, []string{"venue"})

	// ActiveBrackets 活跃 bracket 控制器数量
	ActiveBrackets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_active_brackets",
		Help: "活跃 bracket 数量",
	})

	// ActiveTwaps 活跃 TWAP 调度器数量
	ActiveTwaps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exec_active_twaps",
		Help: "活跃 TWAP 数量",
	})

	// TwapSlices 按结果统计的 TWAP 分片数量
	TwapSlices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_twap_slices_total",
		Help: "TWAP 分片数量",
	}, []string{"result"})

	// PersistFailures 持久化写入失败数量（降级续跑）
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exec_persist_failures_total",
		Help: "持久化失败数量",
	})
)

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
