package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器。多个网格共用一个注册表，按 symbol 标签区分。
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersPlaced   *prometheus.CounterVec
	ordersCanceled *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	cancelFailures *prometheus.CounterVec

	// 成交指标
	fills        *prometheus.CounterVec
	tradedVolume *prometheus.CounterVec
	feesPaid     *prometheus.CounterVec

	// 仓位与盈亏
	baseBalance   *prometheus.GaugeVec
	quoteBalance  *prometheus.GaugeVec
	realizedPnL   *prometheus.GaugeVec
	unrealizedPnL *prometheus.GaugeVec

	// 网格状态
	lastPrice      *prometheus.GaugeVec
	liveOrders     *prometheus.GaugeVec
	boundaryEvents *prometheus.CounterVec
	ticks          *prometheus.CounterVec
	halted         *prometheus.GaugeVec

	// 行情连接
	wsConnections *prometheus.CounterVec
	wsDisconnects *prometheus.CounterVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "grid",
		Subsystem: "trader",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, append([]string{"symbol"}, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, []string{"symbol"})
	}

	return &Monitor{
		registry: reg,

		ordersPlaced:   counter("orders_placed_total", "挂单总数", "side"),
		ordersCanceled: counter("orders_canceled_total", "撤单总数"),
		ordersRejected: counter("orders_rejected_total", "被拒绝或余额不足的挂单", "reason"),
		cancelFailures: counter("cancel_failures_total", "重试耗尽后仍失败的撤单"),

		fills:        counter("fills_total", "成交笔数", "side"),
		tradedVolume: counter("traded_quote_volume_total", "成交额（计价资产）"),
		feesPaid:     counter("fees_paid_total", "手续费", "asset"),

		baseBalance:   gauge("base_balance", "基础资产余额"),
		quoteBalance:  gauge("quote_balance", "计价资产余额"),
		realizedPnL:   gauge("realized_pnl", "已实现盈亏"),
		unrealizedPnL: gauge("unrealized_pnl", "未实现盈亏"),

		lastPrice:      gauge("last_price", "最新收盘价"),
		liveOrders:     gauge("live_orders", "存活订单数"),
		boundaryEvents: counter("boundary_events_total", "边界事件", "edge"),
		ticks:          counter("ticks_total", "处理的K线数"),
		halted:         gauge("halted", "网格是否因一致性错误停机（1=停机）"),

		wsConnections: counter("ws_connections_total", "行情连接次数"),
		wsDisconnects: counter("ws_disconnects_total", "行情断开次数"),
	}
}

// GridMetrics 单个网格的指标视图，避免每次传 symbol。
type GridMetrics struct {
	m      *Monitor
	symbol string
}

// ForSymbol 返回某个交易对的指标视图
func (m *Monitor) ForSymbol(symbol string) *GridMetrics {
	return &GridMetrics{m: m, symbol: symbol}
}

func (g *GridMetrics) RecordOrderPlaced(side string) {
	g.m.ordersPlaced.WithLabelValues(g.symbol, side).Inc()
}

func (g *GridMetrics) RecordOrderCanceled() {
	g.m.ordersCanceled.WithLabelValues(g.symbol).Inc()
}

func (g *GridMetrics) RecordOrderRejected(reason string) {
	g.m.ordersRejected.WithLabelValues(g.symbol, reason).Inc()
}

func (g *GridMetrics) RecordCancelFailure() {
	g.m.cancelFailures.WithLabelValues(g.symbol).Inc()
}

// RecordFill 记录一笔成交
func (g *GridMetrics) RecordFill(side string, quoteVolume, fee float64, feeAsset string) {
	g.m.fills.WithLabelValues(g.symbol, side).Inc()
	g.m.tradedVolume.WithLabelValues(g.symbol).Add(quoteVolume)
	g.m.feesPaid.WithLabelValues(g.symbol, feeAsset).Add(fee)
}

// UpdateBalances 更新余额
func (g *GridMetrics) UpdateBalances(base, quote float64) {
	g.m.baseBalance.WithLabelValues(g.symbol).Set(base)
	g.m.quoteBalance.WithLabelValues(g.symbol).Set(quote)
}

// UpdatePnL 更新盈亏
func (g *GridMetrics) UpdatePnL(realized, unrealized float64) {
	g.m.realizedPnL.WithLabelValues(g.symbol).Set(realized)
	g.m.unrealizedPnL.WithLabelValues(g.symbol).Set(unrealized)
}

// RecordTick 记录一根K线
func (g *GridMetrics) RecordTick(closePrice float64, live int) {
	g.m.ticks.WithLabelValues(g.symbol).Inc()
	g.m.lastPrice.WithLabelValues(g.symbol).Set(closePrice)
	g.m.liveOrders.WithLabelValues(g.symbol).Set(float64(live))
}

func (g *GridMetrics) RecordBoundary(edge string) {
	g.m.boundaryEvents.WithLabelValues(g.symbol, edge).Inc()
}

func (g *GridMetrics) SetHalted(halted bool) {
	v := 0.0
	if halted {
		v = 1
	}
	g.m.halted.WithLabelValues(g.symbol).Set(v)
}

func (g *GridMetrics) RecordWSConnection() {
	g.m.wsConnections.WithLabelValues(g.symbol).Inc()
}

func (g *GridMetrics) RecordWSDisconnect() {
	g.m.wsDisconnects.WithLabelValues(g.symbol).Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回注册表
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
