package sim

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"grid-trader-go/market"
	"grid-trader-go/order"
)

// PaperAdapter 用实时 K 线驱动撮合器的模拟盘。行情回调与控制器在不同 goroutine 中调用，
// 因此对撮合器的访问全部加锁；产生的事件交给 sink（通常是控制器的事件队列）。
type PaperAdapter struct {
	mu     sync.Mutex // 保护撮合器
	tickMu sync.Mutex // 串行化 OnTick，保证事件按 K 线顺序投递
	m      *Matcher
	sink   func(order.Event) error
}

// NewPaperAdapter 创建模拟盘适配器
func NewPaperAdapter(m *Matcher, sink func(order.Event) error) *PaperAdapter {
	return &PaperAdapter{m: m, sink: sink}
}

func (p *PaperAdapter) Place(ctx context.Context, side order.Side, price, qty decimal.Decimal) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m.Place(ctx, side, price, qty)
}

func (p *PaperAdapter) Cancel(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m.Cancel(ctx, id)
}

func (p *PaperAdapter) OpenOrders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m.OpenOrders()
}

// Pause 在不撮合新 K 线的情况下执行 fn；进行中的 OnTick 会先把事件投递完。
func (p *PaperAdapter) Pause(fn func()) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	fn()
}

// OnTick 撮合一根实时 K 线并把成交与行情事件按顺序投递给 sink。
// 投递时不持有撮合器锁，sink 阻塞也不会卡住控制器的下单。
func (p *PaperAdapter) OnTick(t market.Tick) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	p.mu.Lock()
	events, err := p.m.Step(t)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := p.sink(ev); err != nil {
			return err
		}
	}
	return nil
}
