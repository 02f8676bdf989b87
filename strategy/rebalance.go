package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/order"
)

// Edge 网格边界
type Edge string

const (
	EdgeFloor   Edge = "FLOOR"
	EdgeCeiling Edge = "CEILING"
)

// BoundaryEvent 成交发生在边缘档位、相邻档位不存在时产生。仅为提示，不中断运行。
// Side/Price/Quantity 记录了本应挂出的补单，价格回到区间内后由控制器在边缘档位补回。
type BoundaryEvent struct {
	Edge       Edge            `json:"edge"`
	OrderID    string          `json:"order_id"`
	LevelIndex int             `json:"level_index"`
	Side       order.Side      `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Timestamp  time.Time       `json:"timestamp"`
	Healed     bool            `json:"healed"`
	HealedAt   time.Time       `json:"healed_at,omitempty"`
}

// Replacement 成交后的补单决策。
type Replacement struct {
	LevelIndex int
	Side       order.Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
}

// RebalanceConfig 补单参数。
type RebalanceConfig struct {
	FeeRate           decimal.Decimal
	FeeMode           order.FeeMode
	QuantityPrecision int32
}

// Rebalancer 在订单完全成交后决定相邻档位的反向补单，并通过账本登记为 PENDING。
// 买单在 i 成交 -> 在 i+1 挂卖，数量为实际到手的基础资产；
// 卖单在 i 成交 -> 在 i-1 挂买，数量由扣费后的计价收入折算。
type Rebalancer struct {
	levels []GridLevel
	cfg    RebalanceConfig
	ledger *order.Ledger
}

// NewRebalancer 创建补单引擎。
func NewRebalancer(layout Layout, ledger *order.Ledger, cfg RebalanceConfig) *Rebalancer {
	if cfg.FeeMode == "" {
		cfg.FeeMode = order.FeeInReceived
	}
	return &Rebalancer{levels: layout.Levels, cfg: cfg, ledger: ledger}
}

// Plan 纯决策：订单未完全成交时 ok=false 且无事件；到达边缘时返回 BoundaryEvent。
func (r *Rebalancer) Plan(o order.Order, at time.Time) (rep Replacement, boundary *BoundaryEvent, ok bool, err error) {
	if o.Status != order.StatusFilled {
		return Replacement{}, nil, false, nil
	}
	if o.LevelIndex < 0 || o.LevelIndex >= len(r.levels) {
		return Replacement{}, nil, false, fmt.Errorf("%w: order %s level %d", ErrUnknownLevel, o.ID, o.LevelIndex)
	}

	target := o.LevelIndex + 1
	edge := EdgeCeiling
	if o.Side == order.SideSell {
		target = o.LevelIndex - 1
		edge = EdgeFloor
	}
	side := o.Side.Opposite()

	if target < 0 || target >= len(r.levels) {
		// 边缘档位：补单挂在原档位上，等价格回到区间内再补回
		price := r.levels[o.LevelIndex].Price
		return Replacement{}, &BoundaryEvent{
			Edge:       edge,
			OrderID:    o.ID,
			LevelIndex: o.LevelIndex,
			Side:       side,
			Price:      price,
			Quantity:   r.size(o, price),
			Timestamp:  at,
		}, false, nil
	}

	price := r.levels[target].Price
	qty := r.size(o, price)
	if !qty.IsPositive() {
		return Replacement{}, nil, false, fmt.Errorf("%w: order %s received %s", ErrReplacementTooSmall, o.ID, o.Received)
	}
	return Replacement{LevelIndex: target, Side: side, Price: price, Quantity: qty}, nil, true, nil
}

// size 计算补单数量。
func (r *Rebalancer) size(o order.Order, price decimal.Decimal) decimal.Decimal {
	if o.Side == order.SideBuy {
		return o.Received.Truncate(r.cfg.QuantityPrecision)
	}
	denom := price
	if r.cfg.FeeMode == order.FeeInQuote {
		denom = price.Mul(decimal.NewFromInt(1).Add(r.cfg.FeeRate))
	}
	return o.Received.Div(denom).Truncate(r.cfg.QuantityPrecision)
}

// OnFill 对一笔成交做补单决策，需要补单时在账本中登记并返回 PENDING 订单。
// 返回零值订单表示无需补单（部分成交或到达边界）。
func (r *Rebalancer) OnFill(o order.Order, f order.Fill) (order.Order, *BoundaryEvent, error) {
	rep, boundary, ok, err := r.Plan(o, f.Timestamp)
	if err != nil || !ok {
		return order.Order{}, boundary, err
	}
	next, err := r.ledger.Submit(rep.LevelIndex, rep.Side, rep.Price, rep.Quantity)
	if err != nil {
		return order.Order{}, nil, fmt.Errorf("rebalance %s at level %d: %w", rep.Side, rep.LevelIndex, err)
	}
	return next, nil, nil
}

// Level 返回某档位定义。
func (r *Rebalancer) Level(i int) (GridLevel, bool) {
	if i < 0 || i >= len(r.levels) {
		return GridLevel{}, false
	}
	return r.levels[i], true
}
