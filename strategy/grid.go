package strategy

import (
	"github.com/shopspring/decimal"

	"grid-trader-go/order"
)

// GridLevel 定义单个网格档位。建成后不可修改；Index 0 为最低价。
type GridLevel struct {
	Index    int             `json:"index"`
	Price    decimal.Decimal `json:"price"`
	SideHint order.Side      `json:"side_hint"`
}

// Allocation 单档的初始资金分配。
// 买档：Quote 为分到的计价资产，Quantity = Quote / Price；
// 卖档：Quantity 为等值的基础资产数量，Quote 为其对应的计价金额。
type Allocation struct {
	LevelIndex int             `json:"level_index"`
	Side       order.Side      `json:"side"`
	Quote      decimal.Decimal `json:"quote"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// GridParams 几何网格参数。
type GridParams struct {
	Lower             decimal.Decimal
	Upper             decimal.Decimal
	Levels            int
	QuoteBalance      decimal.Decimal
	ReferencePrice    decimal.Decimal
	PricePrecision    int32
	QuantityPrecision int32
}

// Layout 网格构建结果。Pivot 为离参考价最近、初始不挂单的档位。
type Layout struct {
	Levels      []GridLevel     `json:"levels"`
	Ratio       decimal.Decimal `json:"ratio"`
	Allocations []Allocation    `json:"allocations"`
	Pivot       int             `json:"pivot"`
}

// Lower 最低档价格。
func (l Layout) Lower() decimal.Decimal { return l.Levels[0].Price }

// Upper 最高档价格。
func (l Layout) Upper() decimal.Decimal { return l.Levels[len(l.Levels)-1].Price }

// Top 最高档索引。
func (l Layout) Top() int { return len(l.Levels) - 1 }

// Inside 价格是否严格位于区间内部。
func (l Layout) Inside(price decimal.Decimal) bool {
	return price.GreaterThan(l.Lower()) && price.LessThan(l.Upper())
}
