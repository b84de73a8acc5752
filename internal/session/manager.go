package session

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"mc-frontend/internal/protocol"
)

// Manager 活动会话表，分片加锁减少竞争
type Manager struct {
	shards    []*shard
	shardMask uint64
	count     atomic.Int64
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager 创建会话表，分片数向上取整为 2 的幂
func NewManager(shardCount int) *Manager {
	if shardCount <= 0 {
		shardCount = 16
	}

	n := 1
	for n < shardCount {
		n <<= 1
	}

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return &Manager{
		shards:    shards,
		shardMask: uint64(n - 1),
	}
}

func (m *Manager) shardFor(id string) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return m.shards[h.Sum64()&m.shardMask]
}

// Store 登记会话
func (m *Manager) Store(s *Session) {
	sh := m.shardFor(s.ID())
	sh.mu.Lock()
	if _, exists := sh.sessions[s.ID()]; !exists {
		m.count.Add(1)
	}
	sh.sessions[s.ID()] = s
	sh.mu.Unlock()
}

// Load 按 ID 查找会话
func (m *Manager) Load(id string) (*Session, bool) {
	sh := m.shardFor(id)
	sh.mu.RLock()
	s, ok := sh.sessions[id]
	sh.mu.RUnlock()
	return s, ok
}

// Delete 移除会话
func (m *Manager) Delete(id string) {
	sh := m.shardFor(id)
	sh.mu.Lock()
	if _, exists := sh.sessions[id]; exists {
		delete(sh.sessions, id)
		m.count.Add(-1)
	}
	sh.mu.Unlock()
}

// Count 活动会话数
func (m *Manager) Count() int64 {
	return m.count.Load()
}

// Range 遍历会话，fn 返回 false 时停止；fn 中不要调用 Store/Delete
func (m *Manager) Range(fn func(s *Session) bool) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			if !fn(s) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// CountByState 按连接状态统计
func (m *Manager) CountByState() map[protocol.State]int {
	counts := make(map[protocol.State]int)
	m.Range(func(s *Session) bool {
		counts[s.State()]++
		return true
	})
	return counts
}

// CleanupExpired 关闭存活超过 maxAge 的会话并移出表，返回数量
func (m *Manager) CleanupExpired(maxAge time.Duration) int {
	now := time.Now()
	var expired []*Session

	for _, sh := range m.shards {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if now.Sub(s.StartTime()) > maxAge {
				expired = append(expired, s)
				delete(sh.sessions, id)
			}
		}
		sh.mu.Unlock()
	}

	m.count.Add(int64(-len(expired)))
	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// Broadcast 向所有满足 filter 的会话发送同一个包，返回成功入队的数量
//
// 每个会话用自己绑定的版本编码；包不属于该版本时跳过。
func (m *Manager) Broadcast(p protocol.Packet, filter func(s *Session) bool) int {
	var targets []*Session
	m.Range(func(s *Session) bool {
		if filter == nil || filter(s) {
			targets = append(targets, s)
		}
		return true
	})

	sent := 0
	for _, s := range targets {
		v := s.Version()
		if v == nil || !v.IsPacket(p) {
			continue
		}
		if err := s.Send(p); err == nil {
			sent++
		}
	}
	return sent
}

// CloseAll 关闭全部会话，用于停机
func (m *Manager) CloseAll() {
	m.Range(func(s *Session) bool {
		s.Close()
		return true
	})
}
