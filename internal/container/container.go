package container

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/infrastructure/monitor"
	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/store"
	"grid-trader-go/market"
	"grid-trader-go/order"
	"grid-trader-go/sim"
)

// 运行模式
const (
	ModeBacktest = "backtest"
	ModePaper    = "paper"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	configPath string
	envFile    string
	cfg        config.AppConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	store   *store.ReportStore

	metricsServer *httpServerComponent
	lifecycle     *LifecycleManager

	runners []*gridRunner
}

// RunResult 单个网格的运行结果
type RunResult struct {
	Symbol string
	RunID  string // 未配置归档库时为空
	Report *engine.Report
	// Orphaned 撤单退出后执行端仍残留的挂单
	Orphaned []string
}

// New 加载配置并创建 Container。envFile 为空时不读取 .env。
func New(configPath, envFile string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(configPath, envFile, cfg), nil
}

// NewWithConfig 使用已加载的配置；configPath 用于解析相对路径与热更新。
func NewWithConfig(configPath, envFile string, cfg config.AppConfig) *Container {
	return &Container{
		configPath: configPath,
		envFile:    envFile,
		cfg:        cfg,
		lifecycle:  NewLifecycleManager(),
	}
}

// Config 当前配置
func (c *Container) Config() config.AppConfig { return c.cfg }

// Logger 容器日志
func (c *Container) Logger() *logger.Logger { return c.logger }

// Monitor 指标注册表
func (c *Container) Monitor() *monitor.Monitor { return c.monitor }

// Controllers 按交易对返回各网格控制器
func (c *Container) Controllers() map[string]*engine.GridController {
	out := make(map[string]*engine.GridController, len(c.runners))
	for _, r := range c.runners {
		out[r.symbol] = r.ctrl
	}
	return out
}

// MetricsAddr /metrics 实际监听地址；未启用时为空
func (c *Container) MetricsAddr() string {
	if c.metricsServer == nil {
		return ""
	}
	return c.metricsServer.Addr()
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGrids(); err != nil {
		return fmt.Errorf("build grids failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built", zap.String("env", c.cfg.Env), zap.Strings("symbols", c.cfg.Symbols()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	monitorCfg := monitor.DefaultConfig()
	if c.cfg.Metrics.Namespace != "" {
		monitorCfg.Namespace = c.cfg.Metrics.Namespace
	}
	if c.cfg.Metrics.Subsystem != "" {
		monitorCfg.Subsystem = c.cfg.Metrics.Subsystem
	}
	c.monitor = monitor.New(monitorCfg)

	if c.cfg.Store.Path != "" {
		c.store, err = store.Open(c.resolve(c.cfg.Store.Path))
		if err != nil {
			return fmt.Errorf("open report store failed: %w", err)
		}
	}
	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGrids() error {
	for _, sym := range c.cfg.Symbols() {
		g, _ := c.cfg.Grid(sym)
		r, err := c.newRunner(sym, g)
		if err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
		c.runners = append(c.runners, r)
	}
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Listen == "" {
		return
	}
	c.metricsServer = &httpServerComponent{
		name:    "metrics_server",
		handler: c.monitor.Handler(),
		addr:    c.cfg.Metrics.Listen,
		logger:  c.logger,
	}
	c.lifecycle.Register(c.metricsServer)
}

// Start 启动生命周期组件（目前只有 /metrics）
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Run 并行运行所有网格，阻塞直到全部结束、任一网格出错或 ctx 取消。
// 模拟盘模式同时监听配置文件，变化后重建对应网格。ctx 取消视为正常退出。
func (c *Container) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range c.runners {
		g.Go(func() error {
			var err error
			switch c.cfg.Env {
			case ModePaper:
				err = r.runPaper(gctx)
			default:
				err = r.runBacktest(gctx)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", r.symbol, err)
			}
			return nil
		})
	}

	var stopWatch context.CancelFunc = func() {}
	if c.cfg.Env == ModePaper && c.configPath != "" {
		var wctx context.Context
		wctx, stopWatch = context.WithCancel(gctx)
		w := config.Watcher{Path: c.configPath, EnvFile: c.envFile, Logger: c.logger}
		go func() {
			if err := w.Start(wctx, func(cfg config.AppConfig) { c.Reconfigure(wctx, cfg) }); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.LogError(err, map[string]interface{}{"action": "watch_config"})
			}
		}()
	}
	err := g.Wait()
	stopWatch()
	return err
}

// Reconfigure 把新配置应用到参数发生变化的网格。交易对的增减需要重启。
func (c *Container) Reconfigure(ctx context.Context, cfg config.AppConfig) {
	for _, r := range c.runners {
		g, ok := cfg.Grid(r.symbol)
		if !ok {
			c.logger.Warn("grid removed from config, restart required", zap.String("symbol", r.symbol))
			continue
		}
		if !r.swapGrid(g) {
			continue
		}
		if err := r.reconfigure(ctx, g.EngineConfig(r.symbol)); err != nil {
			c.logger.LogError(err, map[string]interface{}{"action": "reconfigure", "symbol": r.symbol})
			continue
		}
		c.logger.Info("grid reconfigured", zap.String("symbol", r.symbol))
	}
}

// Stop 撤掉所有网格的挂单并归档报告，然后停止生命周期组件。
func (c *Container) Stop(ctx context.Context) ([]RunResult, error) {
	c.logger.Info("stopping container...")

	var errs []error
	results := make([]RunResult, 0, len(c.runners))
	for _, r := range c.runners {
		report, err := r.ctrl.Shutdown(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", r.symbol, err))
			continue
		}
		res := RunResult{Symbol: r.symbol, Report: report}
		if d := order.Reconcile(r.ctrl.Ledger().LiveOrders(), r.venue().OpenOrders()); !d.Clean() {
			res.Orphaned = d.Orphaned
			c.logger.Warn("venue orders left after shutdown",
				zap.String("symbol", r.symbol),
				zap.Strings("orphaned", d.Orphaned),
				zap.Int("missing", len(d.Missing)))
		}
		if c.store != nil {
			id, err := c.store.SaveReport(ctx, c.cfg.Env, report)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s archive: %w", r.symbol, err))
			}
			res.RunID = id
		}
		results = append(results, res)
	}

	if err := c.lifecycle.StopAll(); err != nil {
		errs = append(errs, err)
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.logger.Info("container stopped", zap.Int("grids", len(results)))
	_ = c.logger.Close()
	return results, err
}

// HealthCheck 组件健康状态；任一网格停机也视为不健康
func (c *Container) HealthCheck() error {
	if err := c.lifecycle.CheckHealth(); err != nil {
		return err
	}
	for _, r := range c.runners {
		if r.ctrl.GetState() == engine.StateHalted {
			return fmt.Errorf("grid %s halted", r.symbol)
		}
	}
	return nil
}

// resolve 相对路径以配置文件所在目录为基准
func (c *Container) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.configPath == "" {
		return path
	}
	return filepath.Join(filepath.Dir(c.configPath), path)
}

// gridRunner 单个交易对的运行单元：控制器加上它的执行端与行情源。
type gridRunner struct {
	symbol   string
	dataFile string
	log      *logger.Logger
	ctrl     *engine.GridController
	matcher  *sim.Matcher

	// 仅模拟盘
	paper  *sim.PaperAdapter
	queue  *engine.EventQueue
	stream *gateway.KlineStream

	mu   sync.Mutex
	grid config.GridConfig
}

func (c *Container) newRunner(sym string, g config.GridConfig) (*gridRunner, error) {
	ecfg := g.EngineConfig(sym)
	matcher, err := sim.NewMatcher(sim.MatcherConfig{
		FeeRate:  g.FeeRate,
		FeeMode:  ecfg.FeeMode,
		Slippage: c.cfg.Matcher.Slippage,
	})
	if err != nil {
		return nil, err
	}
	metrics := c.monitor.ForSymbol(sym)
	r := &gridRunner{
		symbol:  sym,
		log:     c.logger.WithFields(map[string]interface{}{"symbol": sym}),
		matcher: matcher,
		grid:    g,
	}
	if g.DataFile != "" {
		r.dataFile = c.resolve(g.DataFile)
	}

	var adapter order.ExecutionAdapter = matcher
	if c.cfg.Env == ModePaper {
		r.queue = engine.NewEventQueue(0)
		// Close 会解除阻塞的 Push，因此这里不需要运行期 ctx
		r.paper = sim.NewPaperAdapter(matcher, r.queue.Sink(context.Background()))
		adapter = r.paper

		gw := c.cfg.Gateway
		r.stream = gateway.NewKlineStream(gw.WSURL, sym, gw.Interval)
		r.stream.Logger = r.log
		r.stream.Metrics = metrics
		if gw.ReconnectPerSec > 0 {
			burst := max(gw.ReconnectBurst, 1)
			r.stream.Limiter = rate.NewLimiter(rate.Limit(gw.ReconnectPerSec), burst)
		}
		if gw.HandshakeTimeoutS > 0 {
			dialer := *r.stream.Dialer
			dialer.HandshakeTimeout = time.Duration(gw.HandshakeTimeoutS) * time.Second
			r.stream.Dialer = &dialer
		}
	}

	r.ctrl, err = engine.New(ecfg, engine.Components{
		Adapter: adapter,
		Logger:  r.log,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// reconfigure 模拟盘暂停撮合并经由 Run 循环重建，保证已产生的成交先入账
func (r *gridRunner) reconfigure(ctx context.Context, cfg engine.Config) error {
	if r.paper == nil {
		return r.ctrl.Reconfigure(ctx, cfg)
	}
	var err error
	r.paper.Pause(func() {
		err = r.ctrl.RequestReconfigure(ctx, cfg)
	})
	return err
}

// venue 当前网格使用的执行端
func (r *gridRunner) venue() order.OpenOrderLister {
	if r.paper != nil {
		return r.paper
	}
	return r.matcher
}

// swapGrid 记录新参数，返回参数是否发生变化
func (r *gridRunner) swapGrid(g config.GridConfig) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reflect.DeepEqual(r.grid, g) {
		return false
	}
	r.grid = g
	return true
}

// referencePrice 配置了参考价则使用配置值，否则取该 K 线的开盘价或收盘价
func (r *gridRunner) referencePrice(t market.Tick, useOpen bool) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.grid.ReferencePrice.IsPositive():
		return r.grid.ReferencePrice
	case useOpen:
		return t.Open
	default:
		return t.Close
	}
}

// runBacktest 回放 CSV：参考价取配置值，否则取首根 K 线开盘价。
func (r *gridRunner) runBacktest(ctx context.Context) error {
	if r.dataFile == "" {
		return fmt.Errorf("no data file configured")
	}
	f, err := os.Open(r.dataFile)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	r.mu.Lock()
	interval, err := r.grid.ResampleInterval()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	next, stop := iter.Pull2(market.Resample(market.ReadTicksCSV(f), interval))
	defer stop()
	first, err, ok := next()
	if !ok {
		return fmt.Errorf("no ticks in %s", r.dataFile)
	}
	if err != nil {
		return err
	}

	if err := r.initialize(ctx, first, true); err != nil {
		return err
	}
	ticks := func(yield func(market.Tick, error) bool) {
		if !yield(first, nil) {
			return
		}
		for {
			t, err, ok := next()
			if !ok || !yield(t, err) {
				return
			}
		}
	}
	r.log.Info("backtest started", zap.String("data", r.dataFile))
	return r.ctrl.RunReplay(ctx, r.matcher.Replay(ticks))
}

// runPaper 订阅实时 K 线：首根收盘 K 线作为参考价（配置优先）建网，之后每根交给模拟撮合。
func (r *gridRunner) runPaper(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// 控制器退出后关闭队列，避免行情侧阻塞在 Push
		defer r.queue.Close()
		return r.ctrl.Run(gctx, r.queue.Events())
	})
	g.Go(func() error {
		defer r.queue.Close()
		return r.stream.Run(gctx, func(t market.Tick) error {
			if r.ctrl.GetState() == engine.StateIdle {
				if err := r.initialize(gctx, t, false); err != nil {
					return err
				}
				return r.queue.Push(gctx, order.TickEvent(t))
			}
			return r.paper.OnTick(t)
		})
	})
	return g.Wait()
}

func (r *gridRunner) initialize(ctx context.Context, t market.Tick, useOpen bool) error {
	ref := r.referencePrice(t, useOpen)
	if err := r.ctrl.InitializeGrid(ctx, ref); err != nil {
		return err
	}
	r.log.Info("grid initialized",
		zap.String("reference", ref.String()),
		zap.Int("pivot", r.ctrl.Layout().Pivot),
		zap.Int("live", len(r.ctrl.Ledger().LiveOrders())))
	return nil
}
