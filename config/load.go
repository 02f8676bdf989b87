package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/sim"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                `yaml:"env"` // backtest 或 paper
	Logging logger.Config         `yaml:"logging"`
	Metrics MetricsConfig         `yaml:"metrics"`
	Store   StoreConfig           `yaml:"store"`
	Gateway GatewayConfig         `yaml:"gateway"`
	Matcher MatcherConfig         `yaml:"matcher"`
	Grids   map[string]GridConfig `yaml:"grids"`
}

type MetricsConfig struct {
	Listen    string `yaml:"listen"` // 为空则不启动 /metrics
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // sqlite 文件；为空则不归档报告
}

// GatewayConfig 实时行情连接（模拟盘使用）
type GatewayConfig struct {
	WSURL             string  `yaml:"wsURL"`
	Interval          string  `yaml:"interval"`          // K 线周期，如 1m
	ReconnectPerSec   float64 `yaml:"reconnectPerSec"`   // 重连速率上限
	ReconnectBurst    int     `yaml:"reconnectBurst"`
	HandshakeTimeoutS int     `yaml:"handshakeTimeoutS"`
}

type MatcherConfig struct {
	Slippage sim.Slippage `yaml:"slippage"`
}

// GridConfig 单个交易对的网格参数。价格、数量与费率用十进制字符串或数字书写。
type GridConfig struct {
	BaseAsset         string          `yaml:"baseAsset"`
	QuoteAsset        string          `yaml:"quoteAsset"`
	LowerPrice        decimal.Decimal `yaml:"lowerPrice"`
	UpperPrice        decimal.Decimal `yaml:"upperPrice"`
	Levels            int             `yaml:"levels"`
	QuoteBalance      decimal.Decimal `yaml:"quoteBalance"`
	BaseBalance       decimal.Decimal `yaml:"baseBalance"`
	ReferencePrice    decimal.Decimal `yaml:"referencePrice"` // 为零时回测取首根 K 线开盘价
	FeeRate           decimal.Decimal `yaml:"feeRate"`
	FeeMode           string          `yaml:"feeMode"` // received 或 quote
	PricePrecision    int32           `yaml:"pricePrecision"`
	QuantityPrecision int32           `yaml:"quantityPrecision"`
	TickSize          decimal.Decimal `yaml:"tickSize"`
	StepSize          decimal.Decimal `yaml:"stepSize"`
	MinQty            decimal.Decimal `yaml:"minQty"`
	MaxQty            decimal.Decimal `yaml:"maxQty"`
	MinNotional       decimal.Decimal `yaml:"minNotional"`
	CancelRetries     int             `yaml:"cancelRetries"`
	DataFile          string          `yaml:"dataFile"` // 回测 K 线 CSV
	Resample          string          `yaml:"resample"` // 回测时把数据合并为更粗的周期，如 5m；为空不合并
}

// Default 返回带默认值的配置，YAML 中出现的字段会覆盖它们。
func Default() AppConfig {
	return AppConfig{
		Env:     "backtest",
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{Namespace: "grid", Subsystem: "trader"},
		Gateway: GatewayConfig{
			WSURL:             "wss://stream.binance.com:9443/ws",
			Interval:          "1m",
			ReconnectPerSec:   0.2,
			ReconnectBurst:    1,
			HandshakeTimeoutS: 10,
		},
	}
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from GRID_* env vars.
// envFile（通常是 .env）不存在时忽略。
func LoadWithEnvOverrides(path, envFile string) (AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("GRID_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("GRID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GRID_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("GRID_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("GRID_WS_URL"); v != "" {
		cfg.Gateway.WSURL = v
	}
	return cfg, Validate(cfg)
}

// Symbols 按字母序返回交易对，保证多网格启动顺序稳定。
func (c AppConfig) Symbols() []string {
	out := make([]string, 0, len(c.Grids))
	for sym := range c.Grids {
		out = append(out, strings.ToUpper(sym))
	}
	sort.Strings(out)
	return out
}

// Grid 按交易对（不区分大小写）取网格配置。
func (c AppConfig) Grid(symbol string) (GridConfig, bool) {
	for sym, g := range c.Grids {
		if strings.EqualFold(sym, symbol) {
			return g, true
		}
	}
	return GridConfig{}, false
}
