package order

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/inventory"
)

// LedgerConfig 账本配置。
type LedgerConfig struct {
	Symbol      string
	FeeRate     decimal.Decimal
	FeeMode     FeeMode
	Constraints SymbolConstraints
	Clock       func() time.Time
}

type slot struct {
	level int
	side  Side
}

// Ledger 是订单、成交与余额的唯一权威记录。
// 每次变更都在同一把锁内完成冻结、余额、订单状态与成交记录的修改，要么全部生效，要么全部不生效。
type Ledger struct {
	cfg LedgerConfig
	sm  *StateMachine

	mu         sync.RWMutex
	orders     map[string]*Order
	sequence   []string
	byExchange map[string]string
	live       map[slot]string
	fills      []Fill
	inv        inventory.Inventory
	seq        uint64
}

// NewLedger 以初始余额创建账本。
func NewLedger(cfg LedgerConfig, initial inventory.Inventory) *Ledger {
	if cfg.FeeMode == "" {
		cfg.FeeMode = FeeInReceived
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "grid"
	}
	return &Ledger{
		cfg:        cfg,
		sm:         NewStateMachine(),
		orders:     make(map[string]*Order),
		byExchange: make(map[string]string),
		live:       make(map[slot]string),
		inv:        initial,
	}
}

// Submit 登记一笔 PENDING 订单并冻结所需余额。
func (l *Ledger) Submit(levelIndex int, side Side, price, qty decimal.Decimal) (Order, error) {
	if !side.Valid() || !price.IsPositive() || !qty.IsPositive() || levelIndex < 0 {
		return Order{}, fmt.Errorf("%w: level=%d side=%s price=%s qty=%s",
			ErrInvalidOrder, levelIndex, side, price, qty)
	}
	if err := l.cfg.Constraints.Validate(price, qty); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := slot{level: levelIndex, side: side}
	if id, busy := l.live[key]; busy {
		return Order{}, fmt.Errorf("%w: level %d %s held by %s", ErrLevelOccupied, levelIndex, side, id)
	}

	o := &Order{
		LevelIndex: levelIndex,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Status:     StatusPending,
		CreatedAt:  l.cfg.Clock(),
	}
	amount := l.reservation(side, price, qty)
	if err := l.inv.Reserve(o.ReserveAsset(), amount); err != nil {
		return Order{}, err
	}

	l.seq++
	o.ID = fmt.Sprintf("%s-%06d", l.cfg.Symbol, l.seq)
	o.Reserved = amount
	o.initialReserved = amount
	l.orders[o.ID] = o
	l.sequence = append(l.sequence, o.ID)
	l.live[key] = o.ID
	return *o, nil
}

// reservation 买单冻结名义金额（手续费以计价资产收取时另加手续费），卖单冻结数量。
func (l *Ledger) reservation(side Side, price, qty decimal.Decimal) decimal.Decimal {
	if side == SideSell {
		return qty
	}
	notional := price.Mul(qty)
	if l.cfg.FeeMode == FeeInQuote {
		notional = notional.Mul(decimal.NewFromInt(1).Add(l.cfg.FeeRate))
	}
	return notional
}

// Reconfigure 更换手续费与交易规则，订单、成交记录与编号序列保留。
// 存在 PENDING/OPEN 订单时拒绝，冻结额按旧规则计算，不能在中途切换。
func (l *Ledger) Reconfigure(feeRate decimal.Decimal, mode FeeMode, constraints SymbolConstraints) error {
	if mode == "" {
		mode = FeeInReceived
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.live); n > 0 {
		return fmt.Errorf("%w: %d live orders must be cancelled before reconfigure", ErrInvalidOrder, n)
	}
	l.cfg.FeeRate = feeRate
	l.cfg.FeeMode = mode
	l.cfg.Constraints = constraints
	return nil
}

// MarkOpen 执行端确认挂单后调用，绑定执行端订单号。
func (l *Ledger) MarkOpen(id, exchangeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return &UnknownOrderError{OrderID: id}
	}
	if err := l.sm.ValidateTransition(id, o.Status, StatusOpen); err != nil {
		return err
	}
	if o.Status == StatusOpen {
		return &InvalidStateError{OrderID: id, From: o.Status, To: StatusOpen}
	}
	if exchangeID == "" {
		exchangeID = id
	}
	if other, dup := l.byExchange[exchangeID]; dup && other != id {
		return fmt.Errorf("%w: exchange id %s already bound to %s", ErrInvalidOrder, exchangeID, other)
	}
	o.ExchangeID = exchangeID
	o.Status = StatusOpen
	l.byExchange[exchangeID] = id
	return nil
}

// ApplyFill 入账一笔成交：释放冻结、结算两种资产、扣除手续费、推进订单状态并追加成交记录。
func (l *Ledger) ApplyFill(id string, f Fill) (Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return Fill{}, &UnknownOrderError{OrderID: id}
	}
	if o.Status != StatusOpen {
		return Fill{}, &InvalidStateError{OrderID: id, From: o.Status, To: StatusFilled}
	}
	if !f.Quantity.IsPositive() || !f.Price.IsPositive() || f.Fee.IsNegative() {
		return Fill{}, fmt.Errorf("%w: order %s price=%s qty=%s fee=%s",
			ErrInvalidFill, id, f.Price, f.Quantity, f.Fee)
	}
	if f.FeeAsset == "" {
		f.FeeAsset = l.cfg.FeeMode.FeeAsset(o.Side)
	}

	filled := o.Filled.Add(f.Quantity)
	if filled.GreaterThan(o.Quantity) {
		return Fill{}, &OverfillError{OrderID: id, Quantity: o.Quantity, Filled: o.Filled, Incoming: f.Quantity}
	}
	complete := filled.Equal(o.Quantity)

	release := o.Reserved
	if !complete {
		release = decimal.Min(o.Reserved, o.initialReserved.Mul(f.Quantity).Div(o.Quantity))
	}

	next := l.inv
	next.Release(o.ReserveAsset(), release)
	var received decimal.Decimal
	var receivedAsset inventory.Asset
	switch o.Side {
	case SideBuy:
		next.Debit(inventory.AssetQuote, f.Notional())
		next.Credit(inventory.AssetBase, f.Quantity)
		received, receivedAsset = f.Quantity, inventory.AssetBase
	default:
		next.Debit(inventory.AssetBase, f.Quantity)
		next.Credit(inventory.AssetQuote, f.Notional())
		received, receivedAsset = f.Notional(), inventory.AssetQuote
	}
	next.Debit(f.FeeAsset, f.Fee)
	if f.FeeAsset == receivedAsset {
		received = received.Sub(f.Fee)
	}
	if err := next.Verify(); err != nil {
		return Fill{}, &SettlementError{OrderID: id, Err: err}
	}

	to := StatusOpen
	if complete {
		to = StatusFilled
	}
	if err := l.sm.ValidateTransition(id, o.Status, to); err != nil {
		return Fill{}, err
	}

	l.inv = next
	o.Filled = filled
	o.Reserved = o.Reserved.Sub(release)
	o.Received = o.Received.Add(received)
	o.Status = to
	if complete {
		delete(l.live, slot{level: o.LevelIndex, side: o.Side})
	}
	f.OrderID = id
	f.Side = o.Side
	l.fills = append(l.fills, f)
	return f, nil
}

// Cancel 撤销 PENDING/OPEN 订单并释放剩余冻结；对终态订单返回 InvalidStateError，不会重复释放。
func (l *Ledger) Cancel(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return &UnknownOrderError{OrderID: id}
	}
	if err := l.sm.ValidateTransition(id, o.Status, StatusCancelled); err != nil {
		return err
	}
	l.inv.Release(o.ReserveAsset(), o.Reserved)
	o.Reserved = decimal.Zero
	o.Status = StatusCancelled
	delete(l.live, slot{level: o.LevelIndex, side: o.Side})
	return nil
}

// Lookup 按本地订单号查询。
func (l *Ledger) Lookup(id string) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// LookupExchange 按执行端订单号查询。
func (l *Ledger) LookupExchange(exchangeID string) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byExchange[exchangeID]
	if !ok {
		return Order{}, false
	}
	return *l.orders[id], true
}

// LiveAt 返回占用某档位某方向的订单。
func (l *Ledger) LiveAt(levelIndex int, side Side) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.live[slot{level: levelIndex, side: side}]
	if !ok {
		return Order{}, false
	}
	return *l.orders[id], true
}

// LiveOrders 按创建顺序返回所有 PENDING/OPEN 订单。
func (l *Ledger) LiveOrders() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Order, 0, len(l.live))
	for _, id := range l.sequence {
		if o := l.orders[id]; o.Live() {
			out = append(out, *o)
		}
	}
	return out
}

// Orders 按创建顺序返回全部订单（含终态，用于审计与报告）。
func (l *Ledger) Orders() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Order, 0, len(l.sequence))
	for _, id := range l.sequence {
		out = append(out, *l.orders[id])
	}
	return out
}

// Fills 成交记录副本。
func (l *Ledger) Fills() []Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Inventory 当前余额快照。
func (l *Ledger) Inventory() inventory.Inventory {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inv
}

// CheckInvariants 由存活订单重新累加冻结额并与库存比对。
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	base, quote := decimal.Zero, decimal.Zero
	for _, o := range l.orders {
		if !o.Live() {
			if !o.Reserved.IsZero() {
				return fmt.Errorf("order %s in %s still reserves %s", o.ID, o.Status, o.Reserved)
			}
			continue
		}
		if o.ReserveAsset() == inventory.AssetBase {
			base = base.Add(o.Reserved)
		} else {
			quote = quote.Add(o.Reserved)
		}
	}
	if !base.Equal(l.inv.ReservedBase) {
		return fmt.Errorf("reserved base drift: orders %s, inventory %s", base, l.inv.ReservedBase)
	}
	if !quote.Equal(l.inv.ReservedQuote) {
		return fmt.Errorf("reserved quote drift: orders %s, inventory %s", quote, l.inv.ReservedQuote)
	}
	return l.inv.Verify()
}
