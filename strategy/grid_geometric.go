package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"grid-trader-go/order"
)

// BuildGeometricGrid 在 [Lower, Upper] 间生成 Levels 个等比档位：price_i = Lower * r^i，
// r = (Upper/Lower)^(1/(Levels-1))。首末档固定为 Lower/Upper，中间档按价格精度向下取整。
//
// 离参考价最近的档位不挂单；其下为买档，平分 QuoteBalance；其上为卖档，按同样的单档金额折算基础资产数量。
// 纯函数，可重复调用。
func BuildGeometricGrid(p GridParams) (Layout, error) {
	if p.Levels < 2 {
		return Layout{}, &GeometryError{Field: "levels", Err: ErrInsufficientLevels}
	}
	if !p.Lower.IsPositive() {
		return Layout{}, &GeometryError{Field: "lower_price", Err: ErrInvalidRange}
	}
	if !p.Upper.GreaterThan(p.Lower) {
		return Layout{}, &GeometryError{Field: "upper_price", Err: ErrInvalidRange}
	}
	if p.ReferencePrice.LessThan(p.Lower) || p.ReferencePrice.GreaterThan(p.Upper) {
		return Layout{}, &GeometryError{
			Field: "reference_price",
			Err:   fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidRange, p.ReferencePrice, p.Lower, p.Upper),
		}
	}
	if p.QuoteBalance.IsNegative() {
		return Layout{}, &GeometryError{Field: "quote_balance", Err: ErrInvalidBalance}
	}
	if p.PricePrecision < 0 || p.QuantityPrecision < 0 {
		return Layout{}, &GeometryError{Field: "precision", Err: ErrInvalidRange}
	}

	ratio := decimal.NewFromFloat(math.Pow(
		p.Upper.InexactFloat64()/p.Lower.InexactFloat64(),
		1/float64(p.Levels-1),
	))

	levels := make([]GridLevel, p.Levels)
	levels[0] = GridLevel{Index: 0, Price: p.Lower}
	running := p.Lower
	for i := 1; i < p.Levels-1; i++ {
		running = running.Mul(ratio).Round(18)
		levels[i] = GridLevel{Index: i, Price: running.Truncate(p.PricePrecision)}
	}
	levels[p.Levels-1] = GridLevel{Index: p.Levels - 1, Price: p.Upper}
	for i := 1; i < p.Levels; i++ {
		if !levels[i].Price.GreaterThan(levels[i-1].Price) {
			return Layout{}, &GeometryError{
				Field: "price_precision",
				Err:   fmt.Errorf("%w: levels %d and %d collapse to %s", ErrInvalidRange, i-1, i, levels[i].Price),
			}
		}
	}

	pivot := nearestLevel(levels, p.ReferencePrice)
	for i := range levels {
		switch {
		case i < pivot:
			levels[i].SideHint = order.SideBuy
		case i > pivot:
			levels[i].SideHint = order.SideSell
		case levels[i].Price.GreaterThan(p.ReferencePrice):
			levels[i].SideHint = order.SideSell
		default:
			levels[i].SideHint = order.SideBuy
		}
	}

	return Layout{
		Levels:      levels,
		Ratio:       ratio,
		Allocations: allocate(levels, pivot, p),
		Pivot:       pivot,
	}, nil
}

func nearestLevel(levels []GridLevel, ref decimal.Decimal) int {
	best := 0
	bestDist := levels[0].Price.Sub(ref).Abs()
	for i := 1; i < len(levels); i++ {
		if dist := levels[i].Price.Sub(ref).Abs(); dist.LessThan(bestDist) {
			best, bestDist = i, dist
		}
	}
	return best
}

// allocate 按“剩余 / 剩余档数”逐档平分计价资产，每档向下取整，保证合计不超过余额。
// 卖档数量取一份买档计价额折算的基础资产，不读取基础资产余额；余额不足的卖档在挂单时被跳过。
func allocate(levels []GridLevel, pivot int, p GridParams) []Allocation {
	buys := pivot
	sells := len(levels) - 1 - pivot
	out := make([]Allocation, len(levels))

	remaining := p.QuoteBalance
	for i := 0; i < pivot; i++ {
		share := decimal.Min(remaining.Div(decimal.NewFromInt(int64(buys-i))).Truncate(p.PricePrecision), remaining)
		remaining = remaining.Sub(share)
		out[i] = Allocation{
			LevelIndex: i,
			Side:       order.SideBuy,
			Quote:      share,
			Quantity:   share.Div(levels[i].Price).Truncate(p.QuantityPrecision),
		}
	}

	rungs := buys
	if rungs == 0 {
		rungs = sells
	}
	perRung := decimal.Zero
	if rungs > 0 {
		perRung = p.QuoteBalance.Div(decimal.NewFromInt(int64(rungs))).Truncate(p.PricePrecision)
	}
	for i := pivot + 1; i < len(levels); i++ {
		out[i] = Allocation{
			LevelIndex: i,
			Side:       order.SideSell,
			Quote:      perRung,
			Quantity:   perRung.Div(levels[i].Price).Truncate(p.QuantityPrecision),
		}
	}

	out[pivot] = Allocation{LevelIndex: pivot, Side: levels[pivot].SideHint, Quote: decimal.Zero, Quantity: decimal.Zero}
	return out
}
