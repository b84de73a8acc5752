package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimitedLogger 按消息键限流的日志器，同一个键在间隔内只输出一次
//
// 被跳过的次数会附加在下一次输出的 skipped 字段上。
type RateLimitedLogger struct {
	logger   zerolog.Logger
	interval time.Duration
	gates    sync.Map // map[string]*gate
}

type gate struct {
	sometimes rate.Sometimes
	skipped   atomic.Int64
}

// NewRateLimitedLogger 创建限流日志器
func NewRateLimitedLogger(logger zerolog.Logger, interval time.Duration) *RateLimitedLogger {
	return &RateLimitedLogger{
		logger:   logger,
		interval: interval,
	}
}

func (rl *RateLimitedLogger) gate(key string) *gate {
	if g, ok := rl.gates.Load(key); ok {
		return g.(*gate)
	}
	g := &gate{sometimes: rate.Sometimes{First: 1, Interval: rl.interval}}
	actual, _ := rl.gates.LoadOrStore(key, g)
	return actual.(*gate)
}

// event 间隔内重复的键返回 nil，zerolog 对 nil 事件的调用都是空操作
func (rl *RateLimitedLogger) event(level zerolog.Level, key string) *zerolog.Event {
	g := rl.gate(key)

	var ev *zerolog.Event
	g.sometimes.Do(func() {
		ev = rl.logger.WithLevel(level).Str("log_key", key)
		if skipped := g.skipped.Swap(0); skipped > 0 {
			ev = ev.Int64("skipped", skipped)
		}
	})
	if ev == nil {
		g.skipped.Add(1)
	}
	return ev
}

// Info 限流的 Info 日志
func (rl *RateLimitedLogger) Info(key string) *zerolog.Event {
	return rl.event(zerolog.InfoLevel, key)
}

// Warn 限流的 Warn 日志
func (rl *RateLimitedLogger) Warn(key string) *zerolog.Event {
	return rl.event(zerolog.WarnLevel, key)
}

// Error 错误日志不限流
func (rl *RateLimitedLogger) Error(_ string) *zerolog.Event {
	return rl.logger.Error()
}

// ForConnection 派生单个连接的日志器
func ForConnection(logger zerolog.Logger, connID, remoteIP string) zerolog.Logger {
	return logger.With().
		Str("conn_id", connID).
		Str("remote_ip", remoteIP).
		Logger()
}
