package market

import (
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"
)

// Tick 一根 K 线（OHLCV），回测与实时行情共用。只读。
type Tick struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OutOfOrderDataError K 线时间戳倒退（回测输入致命错误）。Index 为出错 K 线在输入中的序号，从 0 开始。
type OutOfOrderDataError struct {
	Index    int
	Previous time.Time
	Got      time.Time
}

func (e *OutOfOrderDataError) Error() string {
	return fmt.Sprintf("tick %d out of order: %s before previous %s",
		e.Index, e.Got.Format(time.RFC3339Nano), e.Previous.Format(time.RFC3339Nano))
}

// Bullish 收盘不低于开盘。
func (t Tick) Bullish() bool {
	return t.Close.GreaterThanOrEqual(t.Open)
}

// FromSlice 把内存切片包装成惰性序列，便于测试与小样本回放。
func FromSlice(ticks []Tick) iter.Seq2[Tick, error] {
	return func(yield func(Tick, error) bool) {
		for _, t := range ticks {
			if !yield(t, nil) {
				return
			}
		}
	}
}
