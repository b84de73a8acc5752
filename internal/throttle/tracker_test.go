package throttle

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestTrackerWindow(t *testing.T) {
	const window = 4 * time.Second
	base := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		addr      string
		gap       time.Duration
		throttled bool
	}{
		{"窗口内重连", "203.0.113.7", window - time.Millisecond, true},
		{"恰好一个窗口", "203.0.113.7", window, false},
		{"超过窗口", "203.0.113.7", window + time.Second, false},
		{"回环地址零间隔", "127.0.0.1", 0, false},
		{"IPv6 回环", "::1", 0, false},
		{"IPv6 窗口内", "2001:db8::1", time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(window, zerolog.Nop())

			if tr.Attempt(tcpAddr(tt.addr, 50000), base) {
				t.Fatal("第一次尝试不应被节流")
			}
			// 端口不同视为同一地址
			got := tr.Attempt(tcpAddr(tt.addr, 50001), base.Add(tt.gap))
			if got != tt.throttled {
				t.Errorf("期望 throttled=%v，实际为 %v", tt.throttled, got)
			}
		})
	}
}

func TestTrackerSlidingWindow(t *testing.T) {
	tr := NewTracker(time.Second, zerolog.Nop())
	addr := tcpAddr("198.51.100.1", 1)
	base := time.Unix(0, 0)

	tr.Attempt(addr, base)
	// 被拦截的尝试同样会刷新时间
	if !tr.Attempt(addr, base.Add(900*time.Millisecond)) {
		t.Fatal("第二次尝试应被节流")
	}
	if !tr.Attempt(addr, base.Add(1800*time.Millisecond)) {
		t.Error("距上次尝试不足一个窗口，应被节流")
	}
}

func TestTrackerDisabled(t *testing.T) {
	for _, window := range []time.Duration{0, -time.Second} {
		tr := NewTracker(window, zerolog.Nop())
		addr := tcpAddr("203.0.113.9", 1)
		now := time.Now()
		tr.Attempt(addr, now)
		if tr.Attempt(addr, now) {
			t.Errorf("窗口 %v 时不应节流", window)
		}
		if tr.Len() != 0 {
			t.Errorf("关闭时不应记录地址，实际记录 %d", tr.Len())
		}
	}
}

func TestTrackerPrune(t *testing.T) {
	tr := NewTracker(time.Second, zerolog.Nop())
	base := time.Unix(0, 0)

	for i := range PruneEvery - 1 {
		tr.Record(tcpAddr(fmt.Sprintf("10.0.%d.%d", i/256, i%256), 1), base)
	}
	if tr.Len() != PruneEvery-1 {
		t.Fatalf("期望 %d 条记录，实际为 %d", PruneEvery-1, tr.Len())
	}

	// 第 PruneEvery 次记录触发清理，之前的记录都已过期
	tr.Record(tcpAddr("10.1.0.1", 1), base.Add(2*time.Second))
	if tr.Len() != 1 {
		t.Errorf("清理后应只剩 1 条记录，实际为 %d", tr.Len())
	}
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker(time.Minute, zerolog.Nop())
	now := time.Now()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := tcpAddr("192.0.2.1", i)
			for range 20 {
				tr.Attempt(addr, now)
			}
		}()
	}
	wg.Wait()

	if tr.Len() != 1 {
		t.Errorf("同一地址只应有一条记录，实际为 %d", tr.Len())
	}
}
