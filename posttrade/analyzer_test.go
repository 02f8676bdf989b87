package posttrade

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/internal/engine"
	"grid-trader-go/inventory"
	"grid-trader-go/order"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSummarize(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &engine.Report{
		Symbol:        "BTCUSDT",
		LastPrice:     d("100"),
		RealizedPnL:   d("3"),
		UnrealizedPnL: d("-1"),
		Fills: []order.Fill{
			// 买在 102，最后价 100：逆向
			{Side: order.SideBuy, Price: d("102"), Quantity: d("1"), Fee: d("0.001"), FeeAsset: inventory.AssetBase},
			// 卖在 104，最后价 100：有利
			{Side: order.SideSell, Price: d("104"), Quantity: d("1"), Fee: d("0.104"), FeeAsset: inventory.AssetQuote},
		},
		Trips: []inventory.Trip{
			{PnL: d("4")},
			{PnL: d("-3")},
			{PnL: d("2")},
		},
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Hour),
	}

	s := Summarize(r)
	if s.Fills != 2 || s.Buys != 1 || s.Sells != 1 {
		t.Fatalf("fill counts wrong: %+v", s)
	}
	if !s.QuoteVolume.Equal(d("206")) {
		t.Fatalf("quote volume = %s", s.QuoteVolume)
	}
	if !s.FeesInQuote.Equal(d("0.206")) {
		t.Fatalf("fees in quote = %s", s.FeesInQuote)
	}
	if s.AdverseFills != 1 || !s.AdverseRate.Equal(d("0.5")) {
		t.Fatalf("adverse = %d rate %s", s.AdverseFills, s.AdverseRate)
	}
	if s.Wins != 2 || s.Losses != 1 {
		t.Fatalf("wins/losses = %d/%d", s.Wins, s.Losses)
	}
	if !s.AvgTripPnL.Equal(d("1")) {
		t.Fatalf("avg trip pnl = %s", s.AvgTripPnL)
	}
	if !s.MaxDrawdown.Equal(d("3")) {
		t.Fatalf("max drawdown = %s", s.MaxDrawdown)
	}
	if !s.TotalPnL.Equal(d("2")) {
		t.Fatalf("total pnl = %s", s.TotalPnL)
	}
	if s.Duration != 2*time.Hour {
		t.Fatalf("duration = %s", s.Duration)
	}
}

func TestSummarizeEmptyReport(t *testing.T) {
	s := Summarize(&engine.Report{Symbol: "ETHUSDT"})
	if s.Fills != 0 || s.Trips != 0 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if !s.WinRate.IsZero() || !s.MaxDrawdown.IsZero() || !s.AdverseRate.IsZero() {
		t.Fatalf("empty report should give zero ratios: %+v", s)
	}
}
