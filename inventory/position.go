package inventory

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// lot 一笔尚未卖出的买入批次。cost 与 fee 随部分卖出按比例缩减。
type lot struct {
	qty  decimal.Decimal
	cost decimal.Decimal
	fee  decimal.Decimal
	at   time.Time
}

// Trip 一组已配对的买入/卖出（FIFO），用于已实现盈亏。
type Trip struct {
	Quantity     decimal.Decimal `json:"quantity"`
	BuyCost      decimal.Decimal `json:"buy_cost"`
	SellProceeds decimal.Decimal `json:"sell_proceeds"`
	Fees         decimal.Decimal `json:"fees"`
	PnL          decimal.Decimal `json:"pnl"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     time.Time       `json:"closed_at"`
}

// Tracker 按 FIFO 维护持仓批次，卖出时与最早的买入配对。
// 所有金额以计价资产表示；以基础资产收取的手续费按成交价折算。
type Tracker struct {
	mu    sync.RWMutex
	lots  []lot
	trips []Trip
}

// Seed 登记初始基础资产持仓，按参考价计成本。
func (t *Tracker) Seed(qty, price decimal.Decimal, at time.Time) {
	if !qty.IsPositive() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lots = append(t.lots, lot{qty: qty, cost: qty.Mul(price), fee: decimal.Zero, at: at})
}

// Buy 记录一笔买入：qty 为实际到手的基础资产数量，cost 为其名义成本，fee 为折算后的手续费。
func (t *Tracker) Buy(qty, cost, fee decimal.Decimal, at time.Time) {
	if !qty.IsPositive() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lots = append(t.lots, lot{qty: qty, cost: cost, fee: fee, at: at})
}

// Sell 记录一笔卖出并返回因此完成的配对。超出持仓批次的部分不产生配对。
func (t *Tracker) Sell(qty, proceeds, fee decimal.Decimal, at time.Time) []Trip {
	if !qty.IsPositive() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var closed []Trip
	remaining := qty
	for remaining.IsPositive() && len(t.lots) > 0 {
		head := &t.lots[0]
		take := decimal.Min(remaining, head.qty)

		buyCost := head.cost
		buyFee := head.fee
		if take.LessThan(head.qty) {
			buyCost = head.cost.Mul(take).Div(head.qty)
			buyFee = head.fee.Mul(take).Div(head.qty)
		}
		sellProceeds := proceeds.Mul(take).Div(qty)
		sellFee := fee.Mul(take).Div(qty)
		fees := buyFee.Add(sellFee)

		trip := Trip{
			Quantity:     take,
			BuyCost:      buyCost,
			SellProceeds: sellProceeds,
			Fees:         fees,
			PnL:          sellProceeds.Sub(buyCost).Sub(fees),
			OpenedAt:     head.at,
			ClosedAt:     at,
		}
		closed = append(closed, trip)

		if take.Equal(head.qty) {
			t.lots = t.lots[1:]
		} else {
			head.qty = head.qty.Sub(take)
			head.cost = head.cost.Sub(buyCost)
			head.fee = head.fee.Sub(buyFee)
		}
		remaining = remaining.Sub(take)
	}
	t.trips = append(t.trips, closed...)
	return closed
}

// Trips 返回全部已完成配对的副本。
func (t *Tracker) Trips() []Trip {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Trip, len(t.trips))
	copy(out, t.trips)
	return out
}

// Realized 已实现盈亏合计。
func (t *Tracker) Realized() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sum := decimal.Zero
	for _, tr := range t.trips {
		sum = sum.Add(tr.PnL)
	}
	return sum
}

// NetExposure 尚未配对的基础资产数量。
func (t *Tracker) NetExposure() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sum := decimal.Zero
	for _, l := range t.lots {
		sum = sum.Add(l.qty)
	}
	return sum
}

// AvgCost 未配对持仓的平均成本（含手续费）。
func (t *Tracker) AvgCost() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	qty, cost := decimal.Zero, decimal.Zero
	for _, l := range t.lots {
		qty = qty.Add(l.qty)
		cost = cost.Add(l.cost).Add(l.fee)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return cost.Div(qty)
}
