package order

import (
	"context"

	"github.com/shopspring/decimal"

	"grid-trader-go/market"
)

// ExecutionAdapter 提供基础下单/撤单抽象；实现方包括回测撮合器与实盘/模拟盘网关。
// 返回的 id 是执行端的订单号，Ledger 通过 MarkOpen 与本地订单绑定。
type ExecutionAdapter interface {
	Place(ctx context.Context, side Side, price, qty decimal.Decimal) (string, error)
	Cancel(ctx context.Context, exchangeID string) error
}

// EventKind 事件类型
type EventKind int

const (
	EventTick EventKind = iota + 1
	EventFill
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "TICK"
	case EventFill:
		return "FILL"
	default:
		return "UNKNOWN"
	}
}

// Event 执行端投递给网格控制器的单个事件。
// Fill 事件用 ExchangeID 指向订单，Fill.OrderID 由 Ledger 在入账时填充。
type Event struct {
	Kind       EventKind
	Tick       market.Tick
	ExchangeID string
	Fill       Fill
}

// TickEvent 包装行情事件。
func TickEvent(t market.Tick) Event {
	return Event{Kind: EventTick, Tick: t}
}

// FillEvent 包装成交事件。
func FillEvent(exchangeID string, f Fill) Event {
	return Event{Kind: EventFill, ExchangeID: exchangeID, Fill: f}
}
