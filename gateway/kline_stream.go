package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
)

// BinanceSpotWSEndpoint 现货公共行情地址
const BinanceSpotWSEndpoint = "wss://stream.binance.com:9443"

// StreamMetrics 连接计数
type StreamMetrics interface {
	RecordWSConnection()
	RecordWSDisconnect()
}

type nopStreamMetrics struct{}

func (nopStreamMetrics) RecordWSConnection() {}
func (nopStreamMetrics) RecordWSDisconnect() {}

// handlerError 回调返回的错误，结束 Run 而不是重连。
type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }
func (e *handlerError) Unwrap() error { return e.err }

// KlineStream 订阅单个交易对的公共 kline 流，只把已收盘的 K 线交给回调。
// 断线后按 Limiter 限速重连；重连后重复推送的旧 K 线会被丢弃。
type KlineStream struct {
	Endpoint    string
	Symbol      string
	Interval    string
	Dialer      *websocket.Dialer
	Limiter     *rate.Limiter
	ReadTimeout time.Duration
	Logger      *logger.Logger
	Metrics     StreamMetrics

	last time.Time
}

func NewKlineStream(endpoint, symbol, interval string) *KlineStream {
	if endpoint == "" {
		endpoint = BinanceSpotWSEndpoint
	}
	if interval == "" {
		interval = "1m"
	}
	return &KlineStream{
		Endpoint:    endpoint,
		Symbol:      strings.ToUpper(symbol),
		Interval:    interval,
		Dialer:      websocket.DefaultDialer,
		Limiter:     rate.NewLimiter(rate.Every(2*time.Second), 3),
		ReadTimeout: time.Minute,
	}
}

// URL 构建 combined stream 地址
func (s *KlineStream) URL() (string, error) {
	if s.Symbol == "" {
		return "", fmt.Errorf("symbol required")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	u.Path = "/stream"
	q := u.Query()
	q.Set("streams", strings.ToLower(s.Symbol)+"@kline_"+s.Interval)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run 阻塞直到 ctx 取消或 onTick 返回错误；连接错误只记录日志并重连。
func (s *KlineStream) Run(ctx context.Context, onTick func(market.Tick) error) error {
	endpoint, err := s.URL()
	if err != nil {
		return err
	}
	if s.Dialer == nil {
		s.Dialer = websocket.DefaultDialer
	}
	if s.Limiter == nil {
		s.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = time.Minute
	}
	if s.Logger == nil {
		s.Logger = logger.NewNop()
	}
	if s.Metrics == nil {
		s.Metrics = nopStreamMetrics{}
	}

	for {
		if err := s.Limiter.Wait(ctx); err != nil {
			return err
		}
		err := s.session(ctx, endpoint, onTick)
		var stop *handlerError
		if errors.As(err, &stop) {
			return stop.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Logger.Warn("kline stream disconnected, reconnecting",
			zap.String("symbol", s.Symbol),
			zap.Error(err),
		)
	}
}

func (s *KlineStream) session(ctx context.Context, endpoint string, onTick func(market.Tick) error) error {
	conn, _, err := s.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	s.Metrics.RecordWSConnection()
	defer s.Metrics.RecordWSDisconnect()
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.Logger.Info("kline stream connected", zap.String("symbol", s.Symbol), zap.String("interval", s.Interval))
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		sym, tick, closed, err := ParseCombinedKline(message)
		if err != nil {
			s.Logger.Debug("skip ws message", zap.Error(err))
			continue
		}
		if !closed || !strings.EqualFold(sym, s.Symbol) || !tick.Timestamp.After(s.last) {
			continue
		}
		s.last = tick.Timestamp
		if err := onTick(tick); err != nil {
			return &handlerError{err: err}
		}
	}
}
