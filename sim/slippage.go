package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grid-trader-go/order"
)

// SlippageMode 滑点模型
type SlippageMode string

const (
	SlippageNone         SlippageMode = ""
	SlippageFixed        SlippageMode = "fixed"        // 固定价差
	SlippageProportional SlippageMode = "proportional" // 按比例，price*(1±rate)
)

// Slippage 对成交价施加不利方向的偏移。
type Slippage struct {
	Mode  SlippageMode    `yaml:"mode"`
	Value decimal.Decimal `yaml:"value"`
}

// Validate 比例滑点须在 [0, 1)，固定滑点须非负。
func (s Slippage) Validate() error {
	switch s.Mode {
	case SlippageNone:
		return nil
	case SlippageFixed:
		if s.Value.IsNegative() {
			return fmt.Errorf("fixed slippage must be >= 0, got %s", s.Value)
		}
	case SlippageProportional:
		if s.Value.IsNegative() || s.Value.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("proportional slippage must be in [0, 1), got %s", s.Value)
		}
	default:
		return fmt.Errorf("unknown slippage mode %q", s.Mode)
	}
	return nil
}

// Apply 买单抬高、卖单压低成交价。
func (s Slippage) Apply(side order.Side, price decimal.Decimal) decimal.Decimal {
	var offset decimal.Decimal
	switch s.Mode {
	case SlippageFixed:
		offset = s.Value
	case SlippageProportional:
		offset = price.Mul(s.Value)
	default:
		return price
	}
	if side == order.SideBuy {
		return price.Add(offset)
	}
	return price.Sub(offset)
}
