package inventory

import "github.com/shopspring/decimal"

// Valuation 以最新价格对未配对持仓估值，返回持仓数量与未实现盈亏。
func (t *Tracker) Valuation(mark decimal.Decimal) (net decimal.Decimal, pnl decimal.Decimal) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	net, cost := decimal.Zero, decimal.Zero
	for _, l := range t.lots {
		net = net.Add(l.qty)
		cost = cost.Add(l.cost).Add(l.fee)
	}
	if net.IsZero() {
		return net, decimal.Zero
	}
	pnl = net.Mul(mark).Sub(cost)
	return
}
