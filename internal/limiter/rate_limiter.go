package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mc-frontend/internal/config"
)

// RateLimiter 新连接的接入限流：全局令牌桶加每个 IP 的令牌桶
//
// 在会话创建之前调用，与登录阶段的节流器相互独立。
type RateLimiter struct {
	cfg           config.RateLimitConfig
	logger        zerolog.Logger
	globalLimiter *rate.Limiter
	ipLimiters    sync.Map // map[string]*ipLimiterInfo

	allowed   atomic.Int64
	rejected  atomic.Int64
	startTime time.Time
}

type ipLimiterInfo struct {
	limiter     *rate.Limiter
	lastRequest atomic.Int64 // UnixNano
}

// NewRateLimiter 创建限流器
func NewRateLimiter(cfg config.RateLimitConfig, logger zerolog.Logger) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.GlobalLimit
	}
	return &RateLimiter{
		cfg:           cfg,
		logger:        logger.With().Str("component", "rate_limiter").Logger(),
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalLimit), burst),
		startTime:     time.Now(),
	}
}

// Allow 检查是否接受来自 ip 的新连接
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.AllowAt(ip, time.Now())
}

// AllowAt 以指定时间判断，便于测试
func (rl *RateLimiter) AllowAt(ip string, now time.Time) bool {
	if !rl.globalLimiter.AllowN(now, 1) {
		rl.rejected.Add(1)
		rl.logger.Debug().
			Str("ip", ip).
			Msg("全局限流触发")
		return false
	}

	if rl.cfg.IPLimit > 0 {
		info := rl.getOrCreateIPLimiter(ip, now)
		info.lastRequest.Store(now.UnixNano())
		if !info.limiter.AllowN(now, 1) {
			rl.rejected.Add(1)
			rl.logger.Debug().
				Str("ip", ip).
				Msg("IP 限流触发")
			return false
		}
	}

	rl.allowed.Add(1)
	return true
}

func (rl *RateLimiter) getOrCreateIPLimiter(ip string, now time.Time) *ipLimiterInfo {
	if value, ok := rl.ipLimiters.Load(ip); ok {
		return value.(*ipLimiterInfo)
	}

	info := &ipLimiterInfo{
		limiter: rate.NewLimiter(rate.Limit(rl.cfg.IPLimit), rl.cfg.IPLimit),
	}
	info.lastRequest.Store(now.UnixNano())

	actual, _ := rl.ipLimiters.LoadOrStore(ip, info)
	return actual.(*ipLimiterInfo)
}

// CleanupExpiredLimiters 移除超过清理间隔没有新连接的 IP
func (rl *RateLimiter) CleanupExpiredLimiters(now time.Time) int {
	cutoff := now.Add(-rl.cfg.CleanupInterval).UnixNano()
	removed := 0

	rl.ipLimiters.Range(func(key, value any) bool {
		if value.(*ipLimiterInfo).lastRequest.Load() < cutoff {
			rl.ipLimiters.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		rl.logger.Debug().
			Int("count", removed).
			Msg("清理过期的 IP 限流器")
	}
	return removed
}

// Run 定期清理，直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context) {
	if rl.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.CleanupExpiredLimiters(now)
		}
	}
}

// GetStats 获取统计信息
func (rl *RateLimiter) GetStats() map[string]any {
	activeIPs := 0
	rl.ipLimiters.Range(func(_, _ any) bool {
		activeIPs++
		return true
	})

	return map[string]any{
		"allowed":         rl.allowed.Load(),
		"rejected":        rl.rejected.Load(),
		"active_ip_count": activeIPs,
		"global_limit":    rl.cfg.GlobalLimit,
		"ip_limit":        rl.cfg.IPLimit,
		"circuit_open":    rl.IsCircuitBreakerTriggered(),
		"uptime":          time.Since(rl.startTime).String(),
	}
}

// IsCircuitBreakerTriggered 全局令牌耗尽
func (rl *RateLimiter) IsCircuitBreakerTriggered() bool {
	return rl.globalLimiter.Tokens() < 1
}
