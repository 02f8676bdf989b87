package config

import (
	"fmt"
	"strings"
	"time"

	"grid-trader-go/internal/engine"
	"grid-trader-go/order"
)

// EngineConfig 把 YAML 网格参数转换为控制器配置
func (g GridConfig) EngineConfig(symbol string) engine.Config {
	return engine.Config{
		Symbol:            strings.ToUpper(symbol),
		BaseAsset:         g.BaseAsset,
		QuoteAsset:        g.QuoteAsset,
		Lower:             g.LowerPrice,
		Upper:             g.UpperPrice,
		Levels:            g.Levels,
		QuoteBalance:      g.QuoteBalance,
		BaseBalance:       g.BaseBalance,
		FeeRate:           g.FeeRate,
		FeeMode:           order.FeeMode(g.FeeMode),
		PricePrecision:    g.PricePrecision,
		QuantityPrecision: g.QuantityPrecision,
		Constraints: order.SymbolConstraints{
			TickSize:    g.TickSize,
			StepSize:    g.StepSize,
			MinQty:      g.MinQty,
			MaxQty:      g.MaxQty,
			MinNotional: g.MinNotional,
		},
		CancelRetries: g.CancelRetries,
		CancelBackoff: 200 * time.Millisecond,
	}
}

// ResampleInterval 解析 resample；为空返回 0
func (g GridConfig) ResampleInterval() (time.Duration, error) {
	if g.Resample == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(g.Resample)
	if err != nil {
		return 0, err
	}
	if d < time.Minute || d%time.Minute != 0 {
		return 0, fmt.Errorf("must be a whole number of minutes, got %s", g.Resample)
	}
	return d, nil
}
