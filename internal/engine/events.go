package engine

import (
	"context"
	"errors"
	"sync"

	"grid-trader-go/order"
)

var ErrQueueClosed = errors.New("event queue closed")

// EventQueue 多生产者、单消费者的事件队列。行情与成交回调在各自 goroutine 中 Push，
// 控制器按到达顺序逐个消费。
type EventQueue struct {
	ch   chan order.Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewEventQueue 创建带缓冲的事件队列
func NewEventQueue(size int) *EventQueue {
	if size <= 0 {
		size = 1024
	}
	return &EventQueue{
		ch:   make(chan order.Event, size),
		done: make(chan struct{}),
	}
}

// Push 投递事件；队列满时阻塞，直到有空位、ctx 取消或队列关闭。
func (q *EventQueue) Push(ctx context.Context, ev order.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- ev:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sink 适配回调形式的生产者（如模拟盘适配器）。
func (q *EventQueue) Sink(ctx context.Context) func(order.Event) error {
	return func(ev order.Event) error {
		return q.Push(ctx, ev)
	}
}

// Events 消费端通道，Close 之后读完剩余事件即关闭。
func (q *EventQueue) Events() <-chan order.Event {
	return q.ch
}

// Close 关闭队列，可重复调用。阻塞中的 Push 返回 ErrQueueClosed。
func (q *EventQueue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}
