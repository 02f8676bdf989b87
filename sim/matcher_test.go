package sim_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"grid-trader-go/inventory"
	"grid-trader-go/market"
	"grid-trader-go/order"
	"grid-trader-go/sim"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func tick(min int, o, h, l, c string) market.Tick {
	return market.Tick{
		Timestamp: t0.Add(time.Duration(min) * time.Minute),
		Open:      dec(o), High: dec(h), Low: dec(l), Close: dec(c),
	}
}

func newMatcher(t *testing.T, cfg sim.MatcherConfig) *sim.Matcher {
	t.Helper()
	m, err := sim.NewMatcher(cfg)
	require.NoError(t, err)
	return m
}

func fills(events []order.Event) []order.Event {
	var out []order.Event
	for _, ev := range events {
		if ev.Kind == order.EventFill {
			out = append(out, ev)
		}
	}
	return out
}

func TestMatcher_BuyFillsAtLimitWhenLowCrosses(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{FeeRate: dec("0.001"), FeeMode: order.FeeInReceived})
	id, err := m.Place(context.Background(), order.SideBuy, dec("25000"), dec("0.01"))
	require.NoError(t, err)

	events, err := m.Step(tick(0, "25100", "25200", "24900", "25050"))
	require.NoError(t, err)
	fs := fills(events)
	require.Len(t, fs, 1)
	assert.Equal(t, id, fs[0].ExchangeID)
	assert.True(t, fs[0].Fill.Price.Equal(dec("25000")))
	assert.True(t, fs[0].Fill.Quantity.Equal(dec("0.01")))
	assert.Equal(t, inventory.AssetBase, fs[0].Fill.FeeAsset)
	assert.True(t, fs[0].Fill.Fee.Equal(dec("0.00001")))
	assert.Equal(t, order.EventTick, events[len(events)-1].Kind)
	assert.Equal(t, 0, m.Resting())
}

func TestMatcher_GapFillsAtOpen(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{FeeRate: dec("0.001"), FeeMode: order.FeeInQuote})
	_, err := m.Place(context.Background(), order.SideBuy, dec("25000"), dec("0.01"))
	require.NoError(t, err)
	_, err = m.Place(context.Background(), order.SideSell, dec("26000"), dec("0.01"))
	require.NoError(t, err)

	// 向下跳空：买单以开盘价成交，优于挂单价
	events, err := m.Step(tick(0, "24800", "24850", "24700", "24750"))
	require.NoError(t, err)
	fs := fills(events)
	require.Len(t, fs, 1)
	assert.True(t, fs[0].Fill.Price.Equal(dec("24800")))
	assert.Equal(t, inventory.AssetQuote, fs[0].Fill.FeeAsset)
	assert.True(t, fs[0].Fill.Fee.Equal(dec("0.248")))

	// 向上跳空：卖单以开盘价成交
	events, err = m.Step(tick(1, "26500", "26600", "26400", "26550"))
	require.NoError(t, err)
	fs = fills(events)
	require.Len(t, fs, 1)
	assert.True(t, fs[0].Fill.Price.Equal(dec("26500")))
}

func TestMatcher_NoFillWhenPriceNotReached(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	_, _ = m.Place(context.Background(), order.SideBuy, dec("100"), dec("1"))
	_, _ = m.Place(context.Background(), order.SideSell, dec("120"), dec("1"))
	events, err := m.Step(tick(0, "110", "119.99", "100.01", "111"))
	require.NoError(t, err)
	assert.Empty(t, fills(events))
	assert.Equal(t, 2, m.Resting())
}

func TestMatcher_SlippageNeverWorseThanLimit(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{Slippage: sim.Slippage{Mode: sim.SlippageFixed, Value: dec("50")}})
	_, _ = m.Place(context.Background(), order.SideBuy, dec("25000"), dec("1"))
	_, _ = m.Place(context.Background(), order.SideBuy, dec("24000"), dec("1"))

	events, err := m.Step(tick(0, "24900", "24950", "23900", "23950"))
	require.NoError(t, err)
	fs := fills(events)
	require.Len(t, fs, 2)
	// 高价买单先成交：开盘 24900 + 50 滑点
	assert.True(t, fs[0].Fill.Price.Equal(dec("24950")))
	// 开盘价高于挂单价，滑点被挂单价封顶
	assert.True(t, fs[1].Fill.Price.Equal(dec("24000")))
}

func TestMatcher_ProportionalSlippageOnSell(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{Slippage: sim.Slippage{Mode: sim.SlippageProportional, Value: dec("0.01")}})
	_, _ = m.Place(context.Background(), order.SideSell, dec("100"), dec("1"))
	events, err := m.Step(tick(0, "110", "115", "105", "112"))
	require.NoError(t, err)
	fs := fills(events)
	require.Len(t, fs, 1)
	assert.True(t, fs[0].Fill.Price.Equal(dec("108.9")))
}

func TestMatcher_OrdersPlacedDuringTickWaitForNext(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	_, _ = m.Place(context.Background(), order.SideBuy, dec("100"), dec("1"))

	ticks := []market.Tick{
		tick(0, "101", "102", "99", "100"),
		tick(1, "100", "103", "99", "102"),
	}
	var seen []order.Event
	for ev, err := range m.Replay(market.FromSlice(ticks)) {
		require.NoError(t, err)
		seen = append(seen, ev)
		if ev.Kind == order.EventFill && len(fills(seen)) == 1 {
			// 同一根 K 线的高点 102 已经覆盖 101，但新单要等下一根
			_, err := m.Place(context.Background(), order.SideSell, dec("101"), dec("1"))
			require.NoError(t, err)
		}
	}
	fs := fills(seen)
	require.Len(t, fs, 2)
	assert.True(t, fs[1].Fill.Timestamp.Equal(ticks[1].Timestamp))
	assert.Equal(t, order.SideSell, fs[1].Fill.Side)
}

func TestMatcher_FillOrderFollowsBarDirection(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	_, _ = m.Place(context.Background(), order.SideSell, dec("105"), dec("1"))
	_, _ = m.Place(context.Background(), order.SideBuy, dec("95"), dec("1"))
	_, _ = m.Place(context.Background(), order.SideSell, dec("104"), dec("1"))

	// 阴线：先卖后买，卖单由低到高
	events, err := m.Step(tick(0, "100", "106", "94", "96"))
	require.NoError(t, err)
	fs := fills(events)
	require.Len(t, fs, 3)
	assert.True(t, fs[0].Fill.Price.Equal(dec("104")))
	assert.True(t, fs[1].Fill.Price.Equal(dec("105")))
	assert.Equal(t, order.SideBuy, fs[2].Fill.Side)
}

func TestMatcher_OutOfOrderData(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	ticks := []market.Tick{
		tick(1, "1", "1", "1", "1"),
		tick(1, "1", "1", "1", "1"), // 相同时间戳允许
		tick(0, "1", "1", "1", "1"),
	}
	var gotErr error
	n := 0
	for _, err := range m.Replay(market.FromSlice(ticks)) {
		if err != nil {
			gotErr = err
			break
		}
		n++
	}
	var ooo *market.OutOfOrderDataError
	require.True(t, errors.As(gotErr, &ooo))
	assert.Equal(t, 2, ooo.Index)
	assert.Equal(t, 2, n)
}

func TestMatcher_ReplayOnlyOnce(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	for range m.Replay(market.FromSlice(nil)) {
	}
	var err error
	for _, e := range m.Replay(market.FromSlice([]market.Tick{tick(0, "1", "1", "1", "1")})) {
		err = e
	}
	assert.ErrorIs(t, err, sim.ErrReplayConsumed)
}

func TestMatcher_CancelUnknown(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	id, _ := m.Place(context.Background(), order.SideBuy, dec("1"), dec("1"))
	require.NoError(t, m.Cancel(context.Background(), id))
	assert.ErrorIs(t, m.Cancel(context.Background(), id), sim.ErrUnknownOrder)
}

func TestMatcher_OpenOrdersInPlacementOrder(t *testing.T) {
	m := newMatcher(t, sim.MatcherConfig{})
	ctx := context.Background()
	var ids []string
	for _, p := range []string{"3", "1", "2"} {
		id, err := m.Place(ctx, order.SideBuy, dec(p), dec("1"))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, m.Cancel(ctx, ids[1]))
	assert.Equal(t, []string{ids[0], ids[2]}, m.OpenOrders())
}

func TestMatcher_ConfigValidation(t *testing.T) {
	_, err := sim.NewMatcher(sim.MatcherConfig{FeeRate: dec("1")})
	assert.Error(t, err)
	_, err = sim.NewMatcher(sim.MatcherConfig{Slippage: sim.Slippage{Mode: sim.SlippageProportional, Value: dec("1.5")}})
	assert.Error(t, err)
	_, err = sim.NewMatcher(sim.MatcherConfig{Slippage: sim.Slippage{Mode: "random"}})
	assert.Error(t, err)
}

// runPingPong 在给定行情上运行一个简单的来回挂单策略，返回序列化后的成交流。
func runPingPong(t *rapid.T, ticks []market.Tick, prices []int64) []byte {
	m, err := sim.NewMatcher(sim.MatcherConfig{
		FeeRate:  dec("0.001"),
		Slippage: sim.Slippage{Mode: sim.SlippageProportional, Value: dec("0.0005")},
	})
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	ctx := context.Background()
	for i, p := range prices {
		side := order.SideBuy
		if i%2 == 1 {
			side = order.SideSell
		}
		if _, err := m.Place(ctx, side, decimal.NewFromInt(p), dec("0.5")); err != nil {
			t.Fatalf("place: %v", err)
		}
	}
	var out []order.Event
	for ev, err := range m.Replay(market.FromSlice(ticks)) {
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if ev.Kind != order.EventFill {
			continue
		}
		out = append(out, ev)
		next := ev.Fill.Price.Mul(dec("1.01")).Round(2)
		if ev.Fill.Side == order.SideSell {
			next = ev.Fill.Price.Mul(dec("0.99")).Round(2)
		}
		if _, err := m.Place(ctx, ev.Fill.Side.Opposite(), next, ev.Fill.Quantity); err != nil {
			t.Fatalf("place: %v", err)
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// 相同行情、相同初始挂单，两次回放得到逐字节相同的成交序列
func TestMatcher_DeterministicReplay(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 80).Draw(t, "ticks")
		ticks := make([]market.Tick, n)
		price := int64(1000)
		for i := range ticks {
			open := price
			move := rapid.Int64Range(-30, 30).Draw(t, "move")
			closeP := open + move
			if closeP < 10 {
				closeP = 10
			}
			high := max(open, closeP) + rapid.Int64Range(0, 20).Draw(t, "up")
			low := max(min(open, closeP)-rapid.Int64Range(0, 20).Draw(t, "down"), 1)
			ticks[i] = market.Tick{
				Timestamp: t0.Add(time.Duration(i) * time.Minute),
				Open:      decimal.NewFromInt(open),
				High:      decimal.NewFromInt(high),
				Low:       decimal.NewFromInt(low),
				Close:     decimal.NewFromInt(closeP),
			}
			price = closeP
		}
		prices := rapid.SliceOfN(rapid.Int64Range(900, 1100), 1, 12).Draw(t, "prices")

		first := runPingPong(t, ticks, prices)
		second := runPingPong(t, ticks, prices)
		if string(first) != string(second) {
			t.Fatalf("replay not deterministic:\n%s\n%s", first, second)
		}
	})
}
