package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/market"
)

// CombinedMessage 对应 binance combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// KlineEvent 提取 kline 消息的核心字段。
type KlineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// ParseCombinedKline 解析 combined stream 的 kline 消息。
// closed 为 false 表示 K 线仍在形成中，调用方应丢弃。
func ParseCombinedKline(raw []byte) (symbol string, tick market.Tick, closed bool, err error) {
	var msg CombinedMessage
	if err = json.Unmarshal(raw, &msg); err != nil {
		return
	}
	payload := msg.Data
	if len(payload) == 0 {
		// 单一 stream 连接没有外层包装
		payload = raw
	}
	var ev KlineEvent
	if err = json.Unmarshal(payload, &ev); err != nil {
		return
	}
	if ev.EventType != "kline" {
		err = fmt.Errorf("unexpected event type %q", ev.EventType)
		return
	}

	k := ev.Kline
	fields := [...]struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", k.Open, &tick.Open},
		{"high", k.High, &tick.High},
		{"low", k.Low, &tick.Low},
		{"close", k.Close, &tick.Close},
		{"volume", k.Volume, &tick.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			err = fmt.Errorf("kline %s %q: %w", f.name, f.raw, err)
			return
		}
	}
	tick.Timestamp = time.UnixMilli(k.OpenTime).UTC()
	return ev.Symbol, tick, k.Closed, nil
}
