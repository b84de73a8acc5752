package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Tnze/go-mc/chat"
	"github.com/rs/zerolog"

	"mc-frontend/internal/config"
)

func TestPublishRunsHandlersInOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var order []string

	bus.Subscribe(TypePreLogin, "first", func(_ context.Context, e Event) error {
		order = append(order, "first")
		e.(*PreLoginEvent).OnlineMode = config.OnlineModeFalse
		return nil
	})
	bus.Subscribe(TypePreLogin, "second", func(_ context.Context, e Event) error {
		order = append(order, "second")
		if e.(*PreLoginEvent).OnlineMode != config.OnlineModeFalse {
			t.Error("后续处理函数应看到前面的修改")
		}
		return nil
	})

	ev := Publish(context.Background(), bus, &PreLoginEvent{Username: "Valid_Name1", OnlineMode: config.OnlineModeTrue})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("处理顺序不正确: %v", order)
	}
	if ev.OnlineMode != config.OnlineModeFalse {
		t.Errorf("期望 online_mode 被改写为 false，实际为 %s", ev.OnlineMode)
	}
}

func TestPublishSurvivesFailures(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var reached atomic.Bool

	bus.Subscribe(TypeStatusPing, "panics", func(context.Context, Event) error {
		panic("boom")
	})
	bus.Subscribe(TypeStatusPing, "errors", func(context.Context, Event) error {
		return errors.New("failed")
	})
	bus.Subscribe(TypeStatusPing, "last", func(context.Context, Event) error {
		reached.Store(true)
		return nil
	})

	bus.Publish(context.Background(), &StatusPingEvent{})
	if !reached.Load() {
		t.Error("前面的处理函数失败不应阻止后续处理函数")
	}
}

func TestCancel(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.Subscribe(TypePreLogin, "deny", func(_ context.Context, e Event) error {
		e.(*PreLoginEvent).CancelWith(chat.Text("banned"))
		return nil
	})

	ev := Publish(context.Background(), bus, &PreLoginEvent{Username: "someone"})
	if !ev.Cancelled() {
		t.Fatal("事件应被取消")
	}
	reason, ok := ev.CancelReason()
	if !ok || reason.Text != "banned" {
		t.Errorf("取消原因不正确: %v", reason)
	}

	ev.SetCancelled(false)
	if ev.Cancelled() {
		t.Error("恢复后不应处于取消状态")
	}
	if _, ok := ev.CancelReason(); ok {
		t.Error("恢复后不应保留取消原因")
	}
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var calls atomic.Int32
	handler := func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}

	bus.Subscribe(TypeDisconnect, "a", handler)
	bus.Subscribe(TypeDisconnect, "b", handler)
	bus.Unsubscribe(TypeDisconnect, "a")
	if bus.HandlerCount(TypeDisconnect) != 1 {
		t.Errorf("期望 1 个处理函数，实际为 %d", bus.HandlerCount(TypeDisconnect))
	}

	bus.Emit(context.Background(), &DisconnectEvent{SessionID: "1"})
	bus.Stop()
	if calls.Load() != 1 {
		t.Errorf("Stop 应等待异步处理完成，实际调用 %d 次", calls.Load())
	}

	bus.Publish(context.Background(), &DisconnectEvent{})
	if calls.Load() != 1 {
		t.Error("停止后不应再分发事件")
	}
}

func TestEmitConcurrentWithStop(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var calls atomic.Int32
	bus.Subscribe(TypeDisconnect, "count", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				bus.Emit(context.Background(), &DisconnectEvent{SessionID: "x"})
			}
		}()
	}
	bus.Stop()
	after := calls.Load()
	wg.Wait()

	// Stop 返回后已接受的异步处理全部完成，之后的 Emit 被丢弃
	if got := calls.Load(); got != after {
		t.Errorf("Stop 之后不应再有处理函数运行: %d -> %d", after, got)
	}
}

func TestPublishNilBus(t *testing.T) {
	ev := Publish(context.Background(), nil, &StatusPingEvent{})
	if ev == nil || ev.Cancelled() {
		t.Error("没有总线时应原样返回事件")
	}
}
