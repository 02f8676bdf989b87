package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grid-trader-go/order"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

var one = decimal.NewFromInt(1)

// Validate ensures required fields are present. 档位几何（精度是否导致档位重合）在建网时再次校验。
func Validate(cfg AppConfig) error {
	switch cfg.Env {
	case "backtest", "paper":
	case "":
		return ErrInvalid("env is required")
	default:
		return ErrInvalid(fmt.Sprintf("env must be backtest or paper, got %q", cfg.Env))
	}
	if err := cfg.Matcher.Slippage.Validate(); err != nil {
		return ErrInvalid("matcher.slippage: " + err.Error())
	}
	if len(cfg.Grids) == 0 {
		return ErrInvalid("grids config is required")
	}
	for _, sym := range cfg.Symbols() {
		g, _ := cfg.Grid(sym)
		if err := validateGrid(sym, g); err != nil {
			return err
		}
		if cfg.Env == "backtest" && g.DataFile == "" {
			return ErrInvalid(fmt.Sprintf("grid %s dataFile is required for backtest", sym))
		}
	}
	if cfg.Env == "paper" && cfg.Gateway.WSURL == "" {
		return ErrInvalid("gateway.wsURL is required for paper trading")
	}
	return nil
}

func validateGrid(sym string, g GridConfig) error {
	if !g.LowerPrice.IsPositive() {
		return ErrInvalid(fmt.Sprintf("grid %s lowerPrice must be > 0", sym))
	}
	if !g.UpperPrice.GreaterThan(g.LowerPrice) {
		return ErrInvalid(fmt.Sprintf("grid %s upperPrice must be > lowerPrice", sym))
	}
	if g.Levels < 2 {
		return ErrInvalid(fmt.Sprintf("grid %s levels must be >= 2", sym))
	}
	if g.QuoteBalance.IsNegative() || g.BaseBalance.IsNegative() {
		return ErrInvalid(fmt.Sprintf("grid %s balances must be >= 0", sym))
	}
	if !g.ReferencePrice.IsZero() &&
		(g.ReferencePrice.LessThan(g.LowerPrice) || g.ReferencePrice.GreaterThan(g.UpperPrice)) {
		return ErrInvalid(fmt.Sprintf("grid %s referencePrice %s outside [%s, %s]",
			sym, g.ReferencePrice, g.LowerPrice, g.UpperPrice))
	}
	if g.FeeRate.IsNegative() || g.FeeRate.GreaterThanOrEqual(one) {
		return ErrInvalid(fmt.Sprintf("grid %s feeRate must be in [0, 1)", sym))
	}
	switch order.FeeMode(g.FeeMode) {
	case "", order.FeeInReceived, order.FeeInQuote:
	default:
		return ErrInvalid(fmt.Sprintf("grid %s feeMode must be received or quote, got %q", sym, g.FeeMode))
	}
	if g.PricePrecision < 0 || g.QuantityPrecision < 0 {
		return ErrInvalid(fmt.Sprintf("grid %s precisions must be >= 0", sym))
	}
	if g.TickSize.IsNegative() || g.StepSize.IsNegative() || g.MinQty.IsNegative() ||
		g.MaxQty.IsNegative() || g.MinNotional.IsNegative() {
		return ErrInvalid(fmt.Sprintf("grid %s symbol constraints must be >= 0", sym))
	}
	if g.CancelRetries < 0 {
		return ErrInvalid(fmt.Sprintf("grid %s cancelRetries must be >= 0", sym))
	}
	if _, err := g.ResampleInterval(); err != nil {
		return ErrInvalid(fmt.Sprintf("grid %s resample: %v", sym, err))
	}
	return nil
}
