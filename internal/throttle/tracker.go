package throttle

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PruneEvery 每记录多少次尝试执行一次过期清理
const PruneEvery = 200

// Tracker 按地址记录最近一次被接受的登录尝试
//
// 只是一个提示性的限流，不是安全边界：同一地址并发重连时多放行或多拦截一次都可以接受。
type Tracker struct {
	window   time.Duration
	attempts sync.Map // map[netip.Addr]int64 (UnixNano)
	counter  atomic.Uint64
	logger   zerolog.Logger
}

// NewTracker 创建节流器，window <= 0 表示关闭节流
func NewTracker(window time.Duration, logger zerolog.Logger) *Tracker {
	return &Tracker{
		window: window,
		logger: logger.With().Str("component", "throttle").Logger(),
	}
}

// Window 节流窗口
func (t *Tracker) Window() time.Duration {
	return t.window
}

// ShouldThrottle 该地址距上次被接受的尝试是否还不足一个窗口
func (t *Tracker) ShouldThrottle(addr net.Addr, now time.Time) bool {
	if t.window <= 0 {
		return false
	}
	ip, ok := hostOf(addr)
	if !ok || ip.IsLoopback() {
		return false
	}

	last, ok := t.attempts.Load(ip)
	if !ok {
		return false
	}
	return now.UnixNano()-last.(int64) < int64(t.window)
}

// Record 记录一次尝试；每 PruneEvery 次顺带清理过期条目
func (t *Tracker) Record(addr net.Addr, now time.Time) {
	if t.window <= 0 {
		return
	}
	ip, ok := hostOf(addr)
	if !ok || ip.IsLoopback() {
		return
	}

	t.attempts.Store(ip, now.UnixNano())
	if t.counter.Add(1)%PruneEvery == 0 {
		t.prune(now)
	}
}

// Attempt 先判断再记录，返回本次是否应被拦截
func (t *Tracker) Attempt(addr net.Addr, now time.Time) bool {
	throttled := t.ShouldThrottle(addr, now)
	t.Record(addr, now)
	return throttled
}

// Len 当前记录的地址数
func (t *Tracker) Len() int {
	n := 0
	t.attempts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (t *Tracker) prune(now time.Time) {
	cutoff := now.UnixNano() - int64(t.window)
	removed := 0
	t.attempts.Range(func(key, value any) bool {
		if value.(int64) < cutoff {
			t.attempts.CompareAndDelete(key, value)
			removed++
		}
		return true
	})

	if removed > 0 {
		t.logger.Debug().
			Int("removed", removed).
			Msg("清理过期的节流记录")
	}
}

// hostOf 取出连接地址中的 IP，端口不参与节流
func hostOf(addr net.Addr) (netip.Addr, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, ok := netip.AddrFromSlice(a.IP)
		return ip.Unmap(), ok
	case nil:
		return netip.Addr{}, false
	}

	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		ip, err := netip.ParseAddr(addr.String())
		return ip.Unmap(), err == nil
	}
	return ap.Addr().Unmap(), true
}
