package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/inventory"
	"grid-trader-go/order"
	"grid-trader-go/strategy"
)

// CancelFailure 重试耗尽后执行端仍未确认的撤单。本地冻结已释放，执行端可能仍有挂单，需要人工核对。
type CancelFailure struct {
	OrderID    string `json:"order_id"`
	ExchangeID string `json:"exchange_id"`
	Error      string `json:"error"`
}

// Report 运行结束报告
type Report struct {
	Symbol         string                   `json:"symbol"`
	Inventory      inventory.Inventory      `json:"inventory"`
	RealizedPnL    decimal.Decimal          `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal          `json:"unrealized_pnl"`
	LastPrice      decimal.Decimal          `json:"last_price"`
	Fills          []order.Fill             `json:"fills"`
	BoundaryEvents []strategy.BoundaryEvent `json:"boundary_events"`
	Trips          []inventory.Trip         `json:"trips"`
	CancelFailures []CancelFailure          `json:"cancel_failures"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
}

// Snapshot 运行中的只读视图：档位、存活订单、余额与成交历史。
type Snapshot struct {
	Symbol    string              `json:"symbol"`
	State     string              `json:"state"`
	Levels    []strategy.GridLevel `json:"levels"`
	Live      []order.Order       `json:"live"`
	Inventory inventory.Inventory `json:"inventory"`
	Fills     []order.Fill        `json:"fills"`
	LastPrice decimal.Decimal     `json:"last_price"`
}

// buildReport 调用方已持有 c.mu。
func (c *GridController) buildReport() *Report {
	_, unrealized := c.tracker.Valuation(c.lastPrice)

	fills := make([]order.Fill, len(c.fills))
	copy(fills, c.fills)
	boundaries := make([]strategy.BoundaryEvent, 0, len(c.boundaries))
	for _, b := range c.boundaries {
		boundaries = append(boundaries, *b)
	}
	failures := make([]CancelFailure, len(c.cancelFailures))
	copy(failures, c.cancelFailures)

	return &Report{
		Symbol:         c.config.Symbol,
		Inventory:      c.ledger.Inventory(),
		RealizedPnL:    c.tracker.Realized(),
		UnrealizedPnL:  unrealized,
		LastPrice:      c.lastPrice,
		Fills:          fills,
		BoundaryEvents: boundaries,
		Trips:          c.tracker.Trips(),
		CancelFailures: failures,
		StartedAt:      c.startedAt,
		FinishedAt:     c.clock(),
	}
}

// Report 当前报告（不撤单）
func (c *GridController) Report() *Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildReport()
}

// Snapshot 返回当前状态快照
func (c *GridController) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	levels := make([]strategy.GridLevel, len(c.layout.Levels))
	copy(levels, c.layout.Levels)
	fills := make([]order.Fill, len(c.fills))
	copy(fills, c.fills)
	return Snapshot{
		Symbol:    c.config.Symbol,
		State:     c.state.String(),
		Levels:    levels,
		Live:      c.ledger.LiveOrders(),
		Inventory: c.ledger.Inventory(),
		Fills:     fills,
		LastPrice: c.lastPrice,
	}
}
