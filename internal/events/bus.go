package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// HandlerFunc 事件处理函数，可以原地修改事件
type HandlerFunc func(ctx context.Context, event Event) error

// Bus 同步发布 / 异步通知的事件总线
//
// Publish 按订阅顺序依次调用处理函数，返回被修改后的事件，调用方随后检查取消标记；
// Emit 用于不关心结果的通知，每个处理函数在独立的 goroutine 中运行。
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus 创建事件总线
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]handlerEntry),
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe 注册处理函数，name 用于日志和取消订阅
func (b *Bus) Subscribe(t Type, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[t] = append(b.handlers[t], handlerEntry{name: name, handler: handler})

	b.logger.Debug().
		Str("event", string(t)).
		Str("handler", name).
		Msg("订阅事件")
}

// Unsubscribe 移除指定名称的处理函数
func (b *Bus) Unsubscribe(t Type, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[t]
	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[t] = filtered
}

// HandlerCount 某类事件的处理函数数量
func (b *Bus) HandlerCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

func (b *Bus) snapshot(t Type) []handlerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return nil
	}
	return append([]handlerEntry(nil), b.handlers[t]...)
}

// Publish 同步发布事件，处理函数的错误和 panic 只记录日志，不会中断后续处理函数
func (b *Bus) Publish(ctx context.Context, event Event) Event {
	for _, h := range b.snapshot(event.Type()) {
		if err := b.invoke(ctx, h, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", string(event.Type())).
				Str("handler", h.name).
				Msg("事件处理失败")
		}
	}
	return event
}

// Emit 异步通知所有处理函数
func (b *Bus) Emit(ctx context.Context, event Event) {
	// Add 必须与 Stop 设置 stopped 互斥，否则可能与 Wait 并发
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return
	}
	handlers := append([]handlerEntry(nil), b.handlers[event.Type()]...)
	b.wg.Add(len(handlers))
	b.mu.RUnlock()

	for _, h := range handlers {
		go func() {
			defer b.wg.Done()
			if err := b.invoke(ctx, h, event); err != nil {
				b.logger.Warn().
					Err(err).
					Str("event", string(event.Type())).
					Str("handler", h.name).
					Msg("异步事件处理失败")
			}
		}()
	}
}

func (b *Bus) invoke(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.handler(ctx, event)
}

// Stop 停止接收新事件并等待异步处理完成
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info().Msg("事件总线已停止")
}

// Publish 泛型版本，省去调用方的类型断言
func Publish[E Event](ctx context.Context, b *Bus, event E) E {
	if b == nil {
		return event
	}
	b.Publish(ctx, event)
	return event
}
