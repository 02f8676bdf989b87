package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/internal/engine"
	"grid-trader-go/market"
	"grid-trader-go/order"
	"grid-trader-go/sim"
)

func TestEventQueue_PreservesPerProducerOrder(t *testing.T) {
	q := engine.NewEventQueue(8)
	ctx := context.Background()

	const producers, each = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				ev := order.FillEvent(string(rune('a'+p)), order.Fill{Timestamp: t0.Add(time.Duration(i) * time.Second)})
				if err := q.Push(ctx, ev); err != nil {
					t.Errorf("push: %v", err)
					return
				}
			}
		}(p)
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	last := map[string]time.Time{}
	n := 0
	for ev := range q.Events() {
		prev, seen := last[ev.ExchangeID]
		if seen {
			assert.True(t, ev.Fill.Timestamp.After(prev))
		}
		last[ev.ExchangeID] = ev.Fill.Timestamp
		n++
	}
	assert.Equal(t, producers*each, n)
}

func TestEventQueue_CloseUnblocksPush(t *testing.T) {
	q := engine.NewEventQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, order.TickEvent(bar(0, "1", "1", "1", "1"))))

	done := make(chan error, 1)
	go func() { done <- q.Push(ctx, order.TickEvent(bar(1, "1", "1", "1", "1"))) }()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, engine.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("push still blocked after close")
	}
	assert.ErrorIs(t, q.Push(ctx, order.TickEvent(bar(2, "1", "1", "1", "1"))), engine.ErrQueueClosed)
	q.Close()
}

func TestEventQueue_PushHonoursContext(t *testing.T) {
	q := engine.NewEventQueue(1)
	require.NoError(t, q.Push(context.Background(), order.TickEvent(bar(0, "1", "1", "1", "1"))))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Push(ctx, order.TickEvent(bar(1, "1", "1", "1", "1"))), context.DeadlineExceeded)
}

// 模拟盘：行情回调经队列驱动控制器
func TestRun_PaperAdapterThroughQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := engine.NewEventQueue(64)
	m, err := sim.NewMatcher(sim.MatcherConfig{FeeRate: dec("0.001")})
	require.NoError(t, err)
	paper := sim.NewPaperAdapter(m, q.Sink(ctx))
	c, err := engine.New(scenarioConfig(), engine.Components{Adapter: paper})
	require.NoError(t, err)
	require.NoError(t, c.InitializeGrid(ctx, dec("29000")))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, q.Events()) }()

	for _, tk := range []market.Tick{
		bar(0, "29000", "29000", "24900", "24950"),
		bar(1, "24950", "26000", "24900", "25990"),
	} {
		require.NoError(t, paper.OnTick(tk))
		// 等控制器处理完这根 K 线（含补单）再推下一根
		want := tk.Close
		require.Eventually(t, func() bool {
			return c.Snapshot().LastPrice.Equal(want)
		}, time.Second, time.Millisecond)
	}
	q.Close()
	require.NoError(t, <-runErr)

	report, err := c.Shutdown(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Fills, 5)
	assert.Equal(t, 0, m.Resting())
}

// 重建请求在已排队的成交之后执行，撤单不会与在途成交冲突
func TestRun_RequestReconfigureDrainsQueuedFills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := engine.NewEventQueue(64)
	m, err := sim.NewMatcher(sim.MatcherConfig{FeeRate: dec("0.001")})
	require.NoError(t, err)
	paper := sim.NewPaperAdapter(m, q.Sink(ctx))
	c, err := engine.New(scenarioConfig(), engine.Components{Adapter: paper})
	require.NoError(t, err)
	require.NoError(t, c.InitializeGrid(ctx, dec("29000")))

	// 第 3 档买单成交，事件先留在队列里
	require.NoError(t, paper.OnTick(bar(0, "29000", "29000", "27000", "27500")))
	assert.Equal(t, 3, m.Resting())

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, q.Events()) }()

	cfg := scenarioConfig()
	cfg.Levels = 5
	var reqErr error
	paper.Pause(func() { reqErr = c.RequestReconfigure(ctx, cfg) })
	require.NoError(t, reqErr)

	snap := c.Snapshot()
	assert.Len(t, snap.Fills, 1)
	assert.Equal(t, "RUNNING", snap.State)
	assert.True(t, snap.LastPrice.Equal(dec("27500")))
	assert.Len(t, c.Layout().Levels, 5)
	require.NoError(t, c.Ledger().CheckInvariants())

	q.Close()
	require.NoError(t, <-runErr)
	_, err = c.Shutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Resting())
}

func TestRequestReconfigure_HonoursContext(t *testing.T) {
	c, _ := newBacktest(t, scenarioConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	// 没有 Run 循环接收请求
	assert.ErrorIs(t, c.RequestReconfigure(ctx, scenarioConfig()), context.DeadlineExceeded)
}
