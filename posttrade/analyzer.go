package posttrade

import (
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/internal/engine"
	"grid-trader-go/inventory"
	"grid-trader-go/order"
)

// Summary 一次运行的事后统计
type Summary struct {
	Symbol         string          `json:"symbol"`
	Fills          int             `json:"fills"`
	Buys           int             `json:"buys"`
	Sells          int             `json:"sells"`
	QuoteVolume    decimal.Decimal `json:"quote_volume"`
	FeesInQuote    decimal.Decimal `json:"fees_in_quote"`
	Trips          int             `json:"trips"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRate        decimal.Decimal `json:"win_rate"`
	AvgTripPnL     decimal.Decimal `json:"avg_trip_pnl"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	AdverseFills   int             `json:"adverse_fills"`
	AdverseRate    decimal.Decimal `json:"adverse_rate"`
	BoundaryEvents int             `json:"boundary_events"`
	CancelFailures int             `json:"cancel_failures"`
	Duration       time.Duration   `json:"duration"`
}

// Summarize 根据运行报告计算统计。
// 手续费统一折算为计价资产：以基础资产收取的按成交价换算。
// 逆向成交：以最后价格衡量，买入后价格更低或卖出后价格更高。
// 最大回撤基于按平仓顺序累计的已实现盈亏曲线。
func Summarize(r *engine.Report) Summary {
	s := Summary{
		Symbol:         r.Symbol,
		Fills:          len(r.Fills),
		Trips:          len(r.Trips),
		RealizedPnL:    r.RealizedPnL,
		UnrealizedPnL:  r.UnrealizedPnL,
		TotalPnL:       r.RealizedPnL.Add(r.UnrealizedPnL),
		BoundaryEvents: len(r.BoundaryEvents),
		CancelFailures: len(r.CancelFailures),
	}
	if !r.StartedAt.IsZero() && r.FinishedAt.After(r.StartedAt) {
		s.Duration = r.FinishedAt.Sub(r.StartedAt)
	}

	for _, f := range r.Fills {
		s.QuoteVolume = s.QuoteVolume.Add(f.Notional())
		s.FeesInQuote = s.FeesInQuote.Add(feeInQuote(f))
		switch f.Side {
		case order.SideBuy:
			s.Buys++
		case order.SideSell:
			s.Sells++
		}
		if r.LastPrice.IsPositive() && adverse(f, r.LastPrice) {
			s.AdverseFills++
		}
	}
	if s.Fills > 0 {
		s.AdverseRate = decimal.NewFromInt(int64(s.AdverseFills)).Div(decimal.NewFromInt(int64(s.Fills)))
	}

	s.Wins, s.Losses = countOutcomes(r.Trips)
	if s.Trips > 0 {
		n := decimal.NewFromInt(int64(s.Trips))
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(n)
		total := decimal.Zero
		for _, t := range r.Trips {
			total = total.Add(t.PnL)
		}
		s.AvgTripPnL = total.Div(n)
	}
	s.MaxDrawdown = maxDrawdown(r.Trips)
	return s
}

func feeInQuote(f order.Fill) decimal.Decimal {
	if f.FeeAsset == inventory.AssetBase {
		return f.Fee.Mul(f.Price)
	}
	return f.Fee
}

func adverse(f order.Fill, last decimal.Decimal) bool {
	if f.Side == order.SideBuy {
		return last.LessThan(f.Price)
	}
	return last.GreaterThan(f.Price)
}

func countOutcomes(trips []inventory.Trip) (wins, losses int) {
	for _, t := range trips {
		switch {
		case t.PnL.IsPositive():
			wins++
		case t.PnL.IsNegative():
			losses++
		}
	}
	return wins, losses
}

func maxDrawdown(trips []inventory.Trip) decimal.Decimal {
	var equity, peak, worst decimal.Decimal
	for _, t := range trips {
		equity = equity.Add(t.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst
}
