package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/inventory"
	"grid-trader-go/order"
	"grid-trader-go/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 尚未建网
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateHalted 因账本一致性错误停机，只允许 Shutdown
	StateHalted
	// StateStopped 已撤单停止
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateHalted:
		return "HALTED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrNotRunning = errors.New("grid controller not running")
	ErrHalted     = errors.New("grid halted")
)

// HaltError 控制器因一致性错误停机时返回，Unwrap 得到原始错误。
type HaltError struct {
	Symbol string
	Err    error
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("grid %s halted: %v", e.Symbol, e.Err)
}

func (e *HaltError) Unwrap() []error { return []error{ErrHalted, e.Err} }

// Config 单个网格的配置
type Config struct {
	Symbol            string
	BaseAsset         string
	QuoteAsset        string
	Lower             decimal.Decimal
	Upper             decimal.Decimal
	Levels            int
	QuoteBalance      decimal.Decimal
	BaseBalance       decimal.Decimal
	FeeRate           decimal.Decimal
	FeeMode           order.FeeMode
	PricePrecision    int32
	QuantityPrecision int32
	Constraints       order.SymbolConstraints
	CancelRetries     int           // 撤单重试次数
	CancelBackoff     time.Duration // 撤单重试初始退避
}

// Metrics 控制器上报的指标；monitor.GridMetrics 实现该接口。
type Metrics interface {
	RecordOrderPlaced(side string)
	RecordOrderCanceled()
	RecordOrderRejected(reason string)
	RecordCancelFailure()
	RecordFill(side string, quoteVolume, fee float64, feeAsset string)
	UpdateBalances(base, quote float64)
	UpdatePnL(realized, unrealized float64)
	RecordTick(closePrice float64, live int)
	RecordBoundary(edge string)
	SetHalted(halted bool)
}

// Components 控制器依赖组件
type Components struct {
	Adapter order.ExecutionAdapter
	Logger  *logger.Logger
	Metrics Metrics
	Clock   func() time.Time
}

// GridController 单个网格的顺序事件处理器：建网、处理成交与行情、补单、边界自愈与撤单退出。
// 所有事件在同一 goroutine 中逐个处理，mu 只用于与 Snapshot 等查询并发。
type GridController struct {
	config  Config
	adapter order.ExecutionAdapter
	logger  *logger.Logger
	metrics Metrics
	clock   func() time.Time
	cancel  failsafe.Executor[any]
	// requests 由 Run 循环处理的重建请求
	requests chan reconfigureRequest

	mu         sync.RWMutex
	state      EngineState
	layout     strategy.Layout
	ledger     *order.Ledger
	rebalancer *strategy.Rebalancer
	tracker    *inventory.Tracker
	seeded     bool

	fills          []order.Fill
	boundaries     []*strategy.BoundaryEvent
	healFrom       int
	cancelFailures []CancelFailure
	lastPrice      decimal.Decimal
	lastEvent      time.Time
	startedAt      time.Time
	haltErr        error
}

// New 创建网格控制器
func New(cfg Config, components Components) (*GridController, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if components.Adapter == nil {
		return nil, errors.New("execution adapter is required")
	}

	if cfg.FeeMode == "" {
		cfg.FeeMode = order.FeeInReceived
	}
	if cfg.CancelRetries <= 0 {
		cfg.CancelRetries = 3
	}
	if cfg.CancelBackoff <= 0 {
		cfg.CancelBackoff = 100 * time.Millisecond
	}
	if cfg.BaseAsset == "" {
		cfg.BaseAsset = string(inventory.AssetBase)
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = string(inventory.AssetQuote)
	}
	if components.Logger == nil {
		components.Logger = logger.NewNop()
	}
	if components.Metrics == nil {
		components.Metrics = nopMetrics{}
	}
	if components.Clock == nil {
		components.Clock = time.Now
	}

	policy := retrypolicy.NewBuilder[any]().
		WithMaxRetries(cfg.CancelRetries).
		WithBackoff(cfg.CancelBackoff, 10*cfg.CancelBackoff).
		ReturnLastFailure().
		Build()

	c := &GridController{
		config:  cfg,
		adapter: components.Adapter,
		logger:  components.Logger.WithFields(map[string]interface{}{"symbol": cfg.Symbol}),
		metrics: components.Metrics,
		clock:   components.Clock,
		cancel:  failsafe.With[any](policy),
		state:   StateIdle,
		tracker: &inventory.Tracker{},

		requests: make(chan reconfigureRequest),
	}
	c.ledger = c.newLedger(cfg, inventory.New(cfg.BaseBalance, cfg.QuoteBalance))
	return c, nil
}

func (c *GridController) newLedger(cfg Config, inv inventory.Inventory) *order.Ledger {
	return order.NewLedger(order.LedgerConfig{
		Symbol:      cfg.Symbol,
		FeeRate:     cfg.FeeRate,
		FeeMode:     cfg.FeeMode,
		Constraints: cfg.Constraints,
		Clock:       c.now,
	}, inv)
}

// now 有事件时间时用事件时间（回测可复现），否则用时钟。调用方已持有 c.mu。
func (c *GridController) now() time.Time {
	if !c.lastEvent.IsZero() {
		return c.lastEvent
	}
	return c.clock()
}

// InitializeGrid 按参考价建网：离参考价最近的档位留空，其下挂买、其上挂卖。
// 单档余额不足只记录日志并留空该档；执行端下单失败会撤销本地挂单并释放冻结。
func (c *GridController) InitializeGrid(ctx context.Context, referencePrice decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("grid already initialized (state: %s)", c.state)
	}
	return c.initialize(ctx, referencePrice)
}

func (c *GridController) initialize(ctx context.Context, ref decimal.Decimal) error {
	inv := c.ledger.Inventory()
	layout, err := strategy.BuildGeometricGrid(strategy.GridParams{
		Lower:             c.config.Lower,
		Upper:             c.config.Upper,
		Levels:            c.config.Levels,
		QuoteBalance:      decimal.Min(c.config.QuoteBalance, inv.Available(inventory.AssetQuote)),
		ReferencePrice:    ref,
		PricePrecision:    c.config.PricePrecision,
		QuantityPrecision: c.config.QuantityPrecision,
	})
	if err != nil {
		return fmt.Errorf("build grid: %w", err)
	}

	c.layout = layout
	c.rebalancer = strategy.NewRebalancer(layout, c.ledger, strategy.RebalanceConfig{
		FeeRate:           c.config.FeeRate,
		FeeMode:           c.config.FeeMode,
		QuantityPrecision: c.config.QuantityPrecision,
	})
	c.lastPrice = ref
	if c.startedAt.IsZero() {
		c.startedAt = c.clock()
	}
	if !c.seeded {
		c.tracker.Seed(inv.Base, ref, c.now())
		c.seeded = true
	}

	c.logger.Info("Grid initializing",
		zap.String("lower", layout.Lower().String()),
		zap.String("upper", layout.Upper().String()),
		zap.Int("levels", len(layout.Levels)),
		zap.String("ratio", layout.Ratio.String()),
		zap.Int("pivot", layout.Pivot),
		zap.String("reference", ref.String()))

	placed := 0
	for _, a := range layout.Allocations {
		if a.LevelIndex == layout.Pivot || !a.Quantity.IsPositive() {
			continue
		}
		price := layout.Levels[a.LevelIndex].Price
		o, err := c.ledger.Submit(a.LevelIndex, a.Side, price, a.Quantity)
		if err != nil {
			var short *order.InsufficientBalanceError
			if errors.As(err, &short) {
				c.metrics.RecordOrderRejected("insufficient_balance")
				c.logger.Warn("Insufficient balance, level left empty",
					zap.Int("level", a.LevelIndex),
					zap.String("side", string(a.Side)),
					zap.String("required", short.Required.String()),
					zap.String("available", short.Available.String()))
				continue
			}
			if errors.Is(err, order.ErrInvalidOrder) {
				c.metrics.RecordOrderRejected("invalid")
				c.logger.Warn("Level rejected", zap.Int("level", a.LevelIndex), zap.Error(err))
				continue
			}
			return err
		}
		if err := c.place(ctx, o); err != nil {
			if order.IsConsistencyError(err) {
				return err
			}
			continue
		}
		placed++
	}

	c.state = StateRunning
	c.updateBalances()
	c.logger.Info("Grid initialized", zap.Int("orders", placed))
	return nil
}

// place 把已登记的 PENDING 订单发往执行端并绑定执行端订单号。
// 执行端失败时撤销本地订单，冻结随之释放。
func (c *GridController) place(ctx context.Context, o order.Order) error {
	exchangeID, err := c.adapter.Place(ctx, o.Side, o.Price, o.Quantity)
	if err != nil {
		c.metrics.RecordOrderRejected("adapter")
		c.logger.LogError(err, map[string]interface{}{
			"order_id": o.ID,
			"level":    o.LevelIndex,
			"side":     string(o.Side),
		})
		if cerr := c.ledger.Cancel(o.ID); cerr != nil {
			return cerr
		}
		return fmt.Errorf("place %s: %w", o.ID, err)
	}
	if err := c.ledger.MarkOpen(o.ID, exchangeID); err != nil {
		return err
	}
	c.metrics.RecordOrderPlaced(string(o.Side))
	c.logger.LogOrder("open", o.ID, string(o.Side), o.LevelIndex, o.Price, o.Quantity)
	return nil
}

// HandleEvent 处理一个事件。只有一致性错误会返回错误并使网格停机，其余问题记录日志后继续。
func (c *GridController) HandleEvent(ctx context.Context, ev order.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning:
	case StateHalted:
		return &HaltError{Symbol: c.config.Symbol, Err: c.haltErr}
	default:
		return fmt.Errorf("%w (state: %s)", ErrNotRunning, c.state)
	}

	var err error
	switch ev.Kind {
	case order.EventTick:
		c.onTick(ctx, ev)
	case order.EventFill:
		err = c.onFill(ctx, ev)
	default:
		c.logger.Warn("Unknown event kind", zap.Int("kind", int(ev.Kind)))
	}
	if err != nil && order.IsConsistencyError(err) {
		return c.halt(err)
	}
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"event": ev.Kind.String()})
	}
	return nil
}

func (c *GridController) halt(err error) error {
	c.state = StateHalted
	c.haltErr = err
	c.metrics.SetHalted(true)
	c.logger.Error("Grid halted by consistency error", zap.Error(err))
	return &HaltError{Symbol: c.config.Symbol, Err: err}
}

func (c *GridController) onTick(ctx context.Context, ev order.Event) {
	t := ev.Tick
	if !c.lastEvent.IsZero() && t.Timestamp.Before(c.lastEvent) {
		c.logger.Warn("Stale tick skipped",
			zap.Time("tick", t.Timestamp),
			zap.Time("last", c.lastEvent))
		return
	}
	c.lastEvent = t.Timestamp
	c.lastPrice = t.Close

	c.heal(ctx, t.Timestamp, t.Close)

	c.metrics.RecordTick(t.Close.InexactFloat64(), len(c.ledger.LiveOrders()))
	_, unrealized := c.tracker.Valuation(c.lastPrice)
	c.metrics.UpdatePnL(c.tracker.Realized().InexactFloat64(), unrealized.InexactFloat64())
}

// heal 价格回到区间内部后，在边缘档位补回此前因越界未能挂出的反向单。
// 只在成交之后的 K 线上执行，且该档位该方向必须空闲。
func (c *GridController) heal(ctx context.Context, at time.Time, price decimal.Decimal) {
	if !c.layout.Inside(price) {
		return
	}
	for _, b := range c.boundaries[c.healFrom:] {
		if b.Healed || !at.After(b.Timestamp) {
			continue
		}
		if _, busy := c.ledger.LiveAt(b.LevelIndex, b.Side); busy {
			continue
		}
		o, err := c.ledger.Submit(b.LevelIndex, b.Side, b.Price, b.Quantity)
		if err != nil {
			c.logger.Debug("Boundary heal deferred", zap.String("order_id", b.OrderID), zap.Error(err))
			continue
		}
		if err := c.place(ctx, o); err != nil {
			continue
		}
		b.Healed = true
		b.HealedAt = at
		c.logger.LogBoundary(string(b.Edge), o.ID, b.LevelIndex, b.Price, true)
	}
}

func (c *GridController) onFill(ctx context.Context, ev order.Event) error {
	o, ok := c.ledger.LookupExchange(ev.ExchangeID)
	if !ok {
		return &order.UnknownOrderError{OrderID: ev.ExchangeID}
	}
	if !ev.Fill.Timestamp.IsZero() && ev.Fill.Timestamp.After(c.lastEvent) {
		c.lastEvent = ev.Fill.Timestamp
	}
	f, err := c.ledger.ApplyFill(o.ID, ev.Fill)
	if err != nil {
		return err
	}
	c.fills = append(c.fills, f)
	c.recordPosition(f)

	c.metrics.RecordFill(string(f.Side), f.Notional().InexactFloat64(), f.Fee.InexactFloat64(), string(f.FeeAsset))
	c.logger.LogFill(o.ID, string(f.Side), f.Price, f.Quantity, f.Fee, f.Timestamp, c.note(f))

	updated, _ := c.ledger.Lookup(o.ID)
	next, boundary, err := c.rebalancer.OnFill(updated, f)
	if err != nil {
		c.updateBalances()
		return err
	}
	if boundary != nil {
		c.boundaries = append(c.boundaries, boundary)
		c.metrics.RecordBoundary(string(boundary.Edge))
		c.logger.LogBoundary(string(boundary.Edge), boundary.OrderID, boundary.LevelIndex, boundary.Price, false)
	}
	if next.ID != "" {
		if err := c.place(ctx, next); err != nil && order.IsConsistencyError(err) {
			return err
		}
	}
	c.updateBalances()
	return nil
}

// recordPosition 把成交计入 FIFO 持仓，金额统一折算为计价资产。
func (c *GridController) recordPosition(f order.Fill) {
	feeQuote := f.Fee
	if f.FeeAsset == inventory.AssetBase {
		feeQuote = f.Fee.Mul(f.Price)
	}
	if f.Side == order.SideBuy {
		qty := f.Quantity
		if f.FeeAsset == inventory.AssetBase {
			qty = qty.Sub(f.Fee)
		}
		c.tracker.Buy(qty, f.Price.Mul(qty), feeQuote, f.Timestamp)
		return
	}
	c.tracker.Sell(f.Quantity, f.Notional(), feeQuote, f.Timestamp)
}

// note 可读的成交描述
func (c *GridController) note(f order.Fill) string {
	verb := "bought"
	if f.Side == order.SideSell {
		verb = "sold"
	}
	return fmt.Sprintf("%s %s %s for %s %s (fee %s %s)",
		verb, f.Quantity, c.config.BaseAsset, f.Notional(), c.config.QuoteAsset, f.Fee, c.assetName(f.FeeAsset))
}

func (c *GridController) assetName(a inventory.Asset) string {
	if a == inventory.AssetBase {
		return c.config.BaseAsset
	}
	return c.config.QuoteAsset
}

func (c *GridController) updateBalances() {
	inv := c.ledger.Inventory()
	c.metrics.UpdateBalances(inv.Base.InexactFloat64(), inv.Quote.InexactFloat64())
}

type reconfigureRequest struct {
	cfg  Config
	done chan error
}

// Run 消费实时事件流，直到通道关闭、ctx 取消或网格停机。
// 期间通过 RequestReconfigure 提交的重建在事件之间执行。
func (c *GridController) Run(ctx context.Context, events <-chan order.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.HandleEvent(ctx, ev); err != nil {
				return err
			}
		case req := <-c.requests:
			// 先处理已经排队的事件，撤单不会与在途成交冲突
			if err := c.drain(ctx, events); err != nil {
				req.done <- err
				return err
			}
			req.done <- c.Reconfigure(ctx, req.cfg)
		}
	}
}

func (c *GridController) drain(ctx context.Context, events <-chan order.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.HandleEvent(ctx, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// RequestReconfigure 把重建交给正在运行的 Run 循环执行并等待结果。
// 调用方需保证期间不再有新事件产生（如暂停模拟撮合），否则只能保证已排队的事件先处理。
func (c *GridController) RequestReconfigure(ctx context.Context, cfg Config) error {
	req := reconfigureRequest{cfg: cfg, done: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunReplay 消费回放事件序列；序列自身的错误（如时间戳倒退）原样返回。
func (c *GridController) RunReplay(ctx context.Context, events iter.Seq2[order.Event, error]) error {
	for ev, err := range events {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown 撤销全部存活订单并生成报告。执行端撤单按重试策略重试，
// 重试耗尽后仍在本地撤单释放冻结，失败记入 Report.CancelFailures。
func (c *GridController) Shutdown(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStopped {
		return c.buildReport(), nil
	}
	c.logger.Info("Grid shutting down", zap.String("state", c.state.String()))
	if err := c.cancelAll(ctx); err != nil {
		return nil, err
	}
	c.state = StateStopped
	c.updateBalances()

	report := c.buildReport()
	c.logger.Info("Grid stopped",
		zap.Int("fills", len(report.Fills)),
		zap.String("realized_pnl", report.RealizedPnL.String()),
		zap.Int("cancel_failures", len(report.CancelFailures)))
	return report, nil
}

func (c *GridController) cancelAll(ctx context.Context) error {
	for _, o := range c.ledger.LiveOrders() {
		if o.Status == order.StatusOpen && o.ExchangeID != "" {
			exchangeID := o.ExchangeID
			err := c.cancel.WithContext(ctx).Run(func() error {
				return c.adapter.Cancel(ctx, exchangeID)
			})
			if err != nil {
				c.cancelFailures = append(c.cancelFailures, CancelFailure{
					OrderID:    o.ID,
					ExchangeID: exchangeID,
					Error:      err.Error(),
				})
				c.metrics.RecordCancelFailure()
				c.logger.LogError(err, map[string]interface{}{"order_id": o.ID, "exchange_id": exchangeID})
			}
		}
		if err := c.ledger.Cancel(o.ID); err != nil {
			return err
		}
		c.metrics.RecordOrderCanceled()
		c.logger.LogOrder("cancel", o.ID, string(o.Side), o.LevelIndex, o.Price, o.Quantity)
	}
	return c.ledger.CheckInvariants()
}

// Reconfigure 配置热更新：撤掉现有挂单，以最新价为参考价按新参数重建网格。
// 余额、持仓与成交历史保留；一致性停机后的网格不能重建。
func (c *GridController) Reconfigure(ctx context.Context, cfg Config) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateHalted:
		return &HaltError{Symbol: c.config.Symbol, Err: c.haltErr}
	case StateIdle:
		return fmt.Errorf("%w (state: %s)", ErrNotRunning, c.state)
	}
	if cfg.Symbol != c.config.Symbol {
		return fmt.Errorf("symbol change %s -> %s requires restart", c.config.Symbol, cfg.Symbol)
	}
	if err := c.cancelAll(ctx); err != nil {
		return err
	}
	if cfg.FeeMode == "" {
		cfg.FeeMode = order.FeeInReceived
	}
	cfg.CancelRetries, cfg.CancelBackoff = c.config.CancelRetries, c.config.CancelBackoff
	cfg.BaseAsset, cfg.QuoteAsset = c.config.BaseAsset, c.config.QuoteAsset
	if err := c.ledger.Reconfigure(cfg.FeeRate, cfg.FeeMode, cfg.Constraints); err != nil {
		return err
	}
	c.config = cfg
	// 旧布局上未补回的边界事件不再处理
	c.healFrom = len(c.boundaries)
	c.logger.Info("Grid reconfiguring", zap.String("reference", c.lastPrice.String()))
	return c.initialize(ctx, c.lastPrice)
}

// GetState 获取引擎状态
func (c *GridController) GetState() EngineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Layout 当前网格布局
func (c *GridController) Layout() strategy.Layout {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.layout
}

// Ledger 当前账本（只读查询用）
func (c *GridController) Ledger() *order.Ledger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger
}

// validateConfig 验证配置
func validateConfig(cfg Config) error {
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee_rate must be in [0, 1), got %s", cfg.FeeRate)
	}
	if cfg.QuoteBalance.IsNegative() || cfg.BaseBalance.IsNegative() {
		return errors.New("balances must be >= 0")
	}
	switch cfg.FeeMode {
	case "", order.FeeInReceived, order.FeeInQuote:
	default:
		return fmt.Errorf("unknown fee mode %q", cfg.FeeMode)
	}
	return nil
}

type nopMetrics struct{}

func (nopMetrics) RecordOrderPlaced(string)                     {}
func (nopMetrics) RecordOrderCanceled()                         {}
func (nopMetrics) RecordOrderRejected(string)                   {}
func (nopMetrics) RecordCancelFailure()                         {}
func (nopMetrics) RecordFill(string, float64, float64, string)  {}
func (nopMetrics) UpdateBalances(float64, float64)              {}
func (nopMetrics) UpdatePnL(float64, float64)                   {}
func (nopMetrics) RecordTick(float64, int)                      {}
func (nopMetrics) RecordBoundary(string)                        {}
func (nopMetrics) SetHalted(bool)                               {}
