package sim

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/inventory"
	"grid-trader-go/market"
	"grid-trader-go/order"
)

var (
	ErrReplayConsumed = errors.New("matcher replay already consumed; build a new matcher")
	ErrUnknownOrder   = errors.New("unknown simulated order")
)

// MatcherConfig 回测撮合配置
type MatcherConfig struct {
	FeeRate  decimal.Decimal // 手续费率（如0.001 = 0.1%）
	FeeMode  order.FeeMode
	Slippage Slippage
}

type restingOrder struct {
	id    string
	seq   uint64
	side  order.Side
	price decimal.Decimal
	qty   decimal.Decimal
	after int // 在第 after 根 K 线处理期间或之前挂出，从下一根开始参与撮合
}

// Matcher 回测撮合器，同时实现 ExecutionAdapter。
// 有状态：一次回放消费后不能重来，需要重新构造。
type Matcher struct {
	cfg      MatcherConfig
	resting  map[string]*restingOrder
	seq      uint64
	ticks    int
	last     time.Time
	consumed bool
}

// NewMatcher 创建撮合器
func NewMatcher(cfg MatcherConfig) (*Matcher, error) {
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rate must be in [0, 1), got %s", cfg.FeeRate)
	}
	if err := cfg.Slippage.Validate(); err != nil {
		return nil, err
	}
	if cfg.FeeMode == "" {
		cfg.FeeMode = order.FeeInReceived
	}
	return &Matcher{cfg: cfg, resting: make(map[string]*restingOrder)}, nil
}

// Place 挂出模拟限价单
func (m *Matcher) Place(_ context.Context, side order.Side, price, qty decimal.Decimal) (string, error) {
	if !side.Valid() || !price.IsPositive() || !qty.IsPositive() {
		return "", fmt.Errorf("%w: side=%s price=%s qty=%s", order.ErrInvalidOrder, side, price, qty)
	}
	m.seq++
	id := fmt.Sprintf("sim-%d", m.seq)
	m.resting[id] = &restingOrder{id: id, seq: m.seq, side: side, price: price, qty: qty, after: m.ticks}
	return id, nil
}

// Cancel 撤销模拟挂单
func (m *Matcher) Cancel(_ context.Context, id string) error {
	if _, ok := m.resting[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	delete(m.resting, id)
	return nil
}

// Resting 当前挂单数
func (m *Matcher) Resting() int { return len(m.resting) }

// OpenOrders 当前挂单的订单号，按挂单顺序
func (m *Matcher) OpenOrders() []string {
	orders := make([]*restingOrder, 0, len(m.resting))
	for _, o := range m.resting {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].seq < orders[j].seq })
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.id
	}
	return ids
}

// Step 撮合单根 K 线，返回按确定顺序排列的成交事件，最后附上该 K 线本身。
//
// 买单价格 >= Low 时成交，成交价 min(挂单价, Open)；卖单价格 <= High 时成交，成交价 max(挂单价, Open)。
// 滑点只会让成交价变差，且不会差于挂单价。每张订单每根 K 线最多成交一次。
func (m *Matcher) Step(t market.Tick) ([]order.Event, error) {
	if m.ticks > 0 && t.Timestamp.Before(m.last) {
		return nil, &market.OutOfOrderDataError{Index: m.ticks, Previous: m.last, Got: t.Timestamp}
	}
	m.ticks++
	m.last = t.Timestamp

	var buys, sells []*restingOrder
	for _, o := range m.resting {
		if o.after >= m.ticks {
			continue
		}
		if o.side == order.SideBuy && o.price.GreaterThanOrEqual(t.Low) {
			buys = append(buys, o)
		}
		if o.side == order.SideSell && o.price.LessThanOrEqual(t.High) {
			sells = append(sells, o)
		}
	}
	// 阳线按 开->低->高->收 走，先成交买单；阴线反之
	sort.Slice(buys, func(i, j int) bool {
		if !buys[i].price.Equal(buys[j].price) {
			return buys[i].price.GreaterThan(buys[j].price)
		}
		return buys[i].seq < buys[j].seq
	})
	sort.Slice(sells, func(i, j int) bool {
		if !sells[i].price.Equal(sells[j].price) {
			return sells[i].price.LessThan(sells[j].price)
		}
		return sells[i].seq < sells[j].seq
	})
	first, second := sells, buys
	if t.Bullish() {
		first, second = buys, sells
	}
	ordered := make([]*restingOrder, 0, len(first)+len(second))
	ordered = append(ordered, first...)
	ordered = append(ordered, second...)

	events := make([]order.Event, 0, len(ordered)+1)
	for _, o := range ordered {
		events = append(events, order.FillEvent(o.id, m.fill(o, t)))
		delete(m.resting, o.id)
	}
	events = append(events, order.TickEvent(t))
	return events, nil
}

func (m *Matcher) fill(o *restingOrder, t market.Tick) order.Fill {
	var price decimal.Decimal
	if o.side == order.SideBuy {
		price = decimal.Min(o.price, t.Open)
		price = decimal.Min(m.cfg.Slippage.Apply(order.SideBuy, price), o.price)
	} else {
		price = decimal.Max(o.price, t.Open)
		price = decimal.Max(m.cfg.Slippage.Apply(order.SideSell, price), o.price)
	}

	asset := m.cfg.FeeMode.FeeAsset(o.side)
	fee := price.Mul(o.qty).Mul(m.cfg.FeeRate)
	if asset == inventory.AssetBase {
		fee = o.qty.Mul(m.cfg.FeeRate)
	}
	return order.Fill{
		Side:      o.side,
		Price:     price,
		Quantity:  o.qty,
		Fee:       fee,
		FeeAsset:  asset,
		Timestamp: t.Timestamp,
	}
}

// Replay 惰性回放：每拉取一次推进一根 K 线，不整体加载历史数据。
// 撮合器只能回放一次。
func (m *Matcher) Replay(ticks iter.Seq2[market.Tick, error]) iter.Seq2[order.Event, error] {
	return func(yield func(order.Event, error) bool) {
		if m.consumed {
			yield(order.Event{}, ErrReplayConsumed)
			return
		}
		m.consumed = true
		for t, err := range ticks {
			if err != nil {
				yield(order.Event{}, err)
				return
			}
			events, err := m.Step(t)
			if err != nil {
				yield(order.Event{}, err)
				return
			}
			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}
