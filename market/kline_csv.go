package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReadTicksCSV 逐行读取 timestamp,open,high,low,close[,volume] 格式的 K 线，不整体加载到内存。
// timestamp 支持 Unix 毫秒或 RFC3339；首行若无法解析为数字则视为表头跳过。
// 时间戳倒退时返回 *OutOfOrderDataError 并结束序列，相同时间戳允许。
func ReadTicksCSV(r io.Reader) iter.Seq2[Tick, error] {
	return func(yield func(Tick, error) bool) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = true
		line, n := 0, 0
		var last time.Time
		for {
			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			line++
			if err != nil {
				yield(Tick{}, fmt.Errorf("read csv line %d: %w", line, err))
				return
			}
			if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
				continue
			}
			if line == 1 && isHeader(row) {
				continue
			}
			t, err := parseTickRow(row)
			if err != nil {
				yield(Tick{}, fmt.Errorf("parse csv line %d: %w", line, err))
				return
			}
			if n > 0 && t.Timestamp.Before(last) {
				yield(Tick{}, fmt.Errorf("csv line %d: %w", line, &OutOfOrderDataError{Index: n, Previous: last, Got: t.Timestamp}))
				return
			}
			n++
			last = t.Timestamp
			if !yield(t, nil) {
				return
			}
		}
	}
}

func isHeader(row []string) bool {
	_, err := decimal.NewFromString(strings.TrimSpace(row[len(row)-1]))
	return err != nil
}

func parseTickRow(row []string) (Tick, error) {
	if len(row) < 5 {
		return Tick{}, fmt.Errorf("expected at least 5 columns, got %d", len(row))
	}
	ts, err := parseTimestamp(strings.TrimSpace(row[0]))
	if err != nil {
		return Tick{}, err
	}
	vals := make([]decimal.Decimal, 5)
	for i := 1; i < len(row) && i <= 5; i++ {
		v, err := decimal.NewFromString(strings.TrimSpace(row[i]))
		if err != nil {
			return Tick{}, fmt.Errorf("column %d: %w", i, err)
		}
		vals[i-1] = v
	}
	return Tick{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
