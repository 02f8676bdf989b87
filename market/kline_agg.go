package market

import (
	"iter"
	"time"

	"github.com/shopspring/decimal"
)

// Resample 把细周期 K 线按 interval 对齐合并为粗周期（如 1m -> 5m）。
// 分桶以 Timestamp.Truncate(interval) 为准；输入错误原样传出并结束序列。interval <= 0 时原样返回。
// 合并前按原始 K 线检查时间戳，倒退（即使仍落在同一桶内）返回 *OutOfOrderDataError。
func Resample(ticks iter.Seq2[Tick, error], interval time.Duration) iter.Seq2[Tick, error] {
	if interval <= 0 {
		return ticks
	}
	return func(yield func(Tick, error) bool) {
		var (
			cur    Tick
			bucket time.Time
			open   bool
			last   time.Time
			n      int
		)
		for t, err := range ticks {
			if err != nil {
				yield(Tick{}, err)
				return
			}
			if n > 0 && t.Timestamp.Before(last) {
				yield(Tick{}, &OutOfOrderDataError{Index: n, Previous: last, Got: t.Timestamp})
				return
			}
			n++
			last = t.Timestamp
			b := t.Timestamp.Truncate(interval)
			if open && b.Equal(bucket) {
				cur.High = decimal.Max(cur.High, t.High)
				cur.Low = decimal.Min(cur.Low, t.Low)
				cur.Close = t.Close
				cur.Volume = cur.Volume.Add(t.Volume)
				continue
			}
			if open && !yield(cur, nil) {
				return
			}
			bucket, open = b, true
			cur = t
			cur.Timestamp = b
		}
		if open {
			yield(cur, nil)
		}
	}
}
