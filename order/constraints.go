package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolConstraints 描述交易对的步长与名义限制。零值表示不限制。
type SymbolConstraints struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// Validate 检查订单价格/数量是否符合精度与最小名义。
func (c SymbolConstraints) Validate(price, qty decimal.Decimal) error {
	if c.TickSize.IsPositive() && !isMultiple(price, c.TickSize) {
		return fmt.Errorf("price %s not aligned to tickSize %s", price, c.TickSize)
	}
	if c.StepSize.IsPositive() && !isMultiple(qty, c.StepSize) {
		return fmt.Errorf("qty %s not aligned to stepSize %s", qty, c.StepSize)
	}
	if c.MinQty.IsPositive() && qty.LessThan(c.MinQty) {
		return fmt.Errorf("qty %s < minQty %s", qty, c.MinQty)
	}
	if c.MaxQty.IsPositive() && qty.GreaterThan(c.MaxQty) {
		return fmt.Errorf("qty %s > maxQty %s", qty, c.MaxQty)
	}
	if c.MinNotional.IsPositive() && price.Mul(qty).LessThan(c.MinNotional) {
		return fmt.Errorf("notional %s < minNotional %s", price.Mul(qty), c.MinNotional)
	}
	return nil
}

func isMultiple(value, step decimal.Decimal) bool {
	return value.Mod(step).IsZero()
}
