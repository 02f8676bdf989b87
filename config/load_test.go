package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"grid-trader-go/order"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const sampleConfig = `
env: backtest
logging:
  level: debug
matcher:
  slippage:
    mode: proportional
    value: "0.0005"
grids:
  btcusdt:
    baseAsset: BTC
    quoteAsset: USDT
    lowerPrice: "25000"
    upperPrice: 35000
    levels: 10
    quoteBalance: "1000"
    referencePrice: "29000"
    feeRate: "0.001"
    feeMode: quote
    pricePrecision: 2
    quantityPrecision: 8
    stepSize: "0.00001"
    dataFile: btc.csv
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "backtest" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	// 未出现在 YAML 中的字段保留默认值
	if cfg.Logging.Format != "json" || cfg.Gateway.Interval != "1m" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	g, ok := cfg.Grid("BTCUSDT")
	if !ok {
		t.Fatalf("grid lookup should be case-insensitive")
	}
	if !g.UpperPrice.Equal(decimal.NewFromInt(35000)) || !g.FeeRate.Equal(decimal.RequireFromString("0.001")) {
		t.Fatalf("decimal fields not parsed: %+v", g)
	}
	if !cfg.Matcher.Slippage.Value.Equal(decimal.RequireFromString("0.0005")) {
		t.Fatalf("slippage not parsed: %+v", cfg.Matcher.Slippage)
	}

	ec := g.EngineConfig("btcusdt")
	if ec.Symbol != "BTCUSDT" || ec.FeeMode != order.FeeInQuote || ec.Levels != 10 {
		t.Fatalf("engine config mismatch: %+v", ec)
	}
	if !ec.Constraints.StepSize.Equal(decimal.RequireFromString("0.00001")) {
		t.Fatalf("constraints not carried: %+v", ec.Constraints)
	}
	if got := cfg.Symbols(); len(got) != 1 || got[0] != "BTCUSDT" {
		t.Fatalf("symbols = %v", got)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envFile, []byte("GRID_STORE_PATH=/tmp/from-dotenv.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("GRID_STORE_PATH") })
	t.Setenv("GRID_LOG_LEVEL", "warn")
	t.Setenv("GRID_METRICS_LISTEN", ":9999")

	cfg, err := LoadWithEnvOverrides(path, envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.Level != "warn" || cfg.Metrics.Listen != ":9999" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Store.Path != "/tmp/from-dotenv.db" {
		t.Fatalf(".env not loaded: %q", cfg.Store.Path)
	}

	// 缺失的 .env 不算错误
	if _, err := LoadWithEnvOverrides(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}

	base, err := Load(writeTempConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]func(g *GridConfig){
		"上下限颠倒":  func(g *GridConfig) { g.UpperPrice = decimal.NewFromInt(20000) },
		"档位不足":   func(g *GridConfig) { g.Levels = 1 },
		"参考价越界":  func(g *GridConfig) { g.ReferencePrice = decimal.NewFromInt(40000) },
		"费率过大":   func(g *GridConfig) { g.FeeRate = decimal.NewFromInt(1) },
		"未知手续费模式": func(g *GridConfig) { g.FeeMode = "base" },
		"缺少数据文件": func(g *GridConfig) { g.DataFile = "" },
		"重采样周期非法": func(g *GridConfig) { g.Resample = "90s" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			g := base.Grids["btcusdt"]
			mutate(&g)
			cfg := base
			cfg.Grids = map[string]GridConfig{"btcusdt": g}
			err := Validate(cfg)
			var invalid ErrInvalid
			if !errors.As(err, &invalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}

	paper := base
	paper.Env = "paper"
	paper.Gateway.WSURL = ""
	if err := Validate(paper); err == nil {
		t.Fatalf("paper mode without wsURL should fail")
	}
}
