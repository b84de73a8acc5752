package services

import (
	"net"
	"sync"

	"mc-frontend/internal/protocol"
)

// Key 服务键
type Key string

// 前端会查找的服务
const (
	// KeyAuthPolicy online_mode 为 auto 时使用的认证策略
	KeyAuthPolicy Key = "auth_policy"
	// KeyPlayerSource 服务器列表中的在线人数和玩家样本
	KeyPlayerSource Key = "player_source"
)

// AuthPolicy 决定某个登录是否需要向上游验证身份
type AuthPolicy interface {
	RequireAuthentication(username string, addr net.Addr) bool
}

// AuthPolicyFunc 函数形式的 AuthPolicy
type AuthPolicyFunc func(username string, addr net.Addr) bool

// RequireAuthentication 实现 AuthPolicy
func (f AuthPolicyFunc) RequireAuthentication(username string, addr net.Addr) bool {
	return f(username, addr)
}

// PlayerSnapshot 服务器列表展示用的在线信息
type PlayerSnapshot struct {
	Online int
	// Max 为 0 时沿用配置的 max_players
	Max    int
	Sample []protocol.PlayerSample
	// VersionName 非空时替换状态响应中的版本名
	VersionName string
}

// PlayerSource 提供在线人数和玩家样本，暂无数据时返回 false
type PlayerSource interface {
	Players() (PlayerSnapshot, bool)
}

// Locator 按键存放可选的协作服务，缺失的服务由调用方回退到安全的默认值
type Locator struct {
	repo map[Key]any
	mu   sync.RWMutex
}

// NewLocator 创建空的服务表
func NewLocator() *Locator {
	return &Locator{repo: make(map[Key]any)}
}

// Register 注册服务，同键覆盖
func (l *Locator) Register(key Key, svc any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.repo[key] = svc
}

// Remove 移除服务
func (l *Locator) Remove(key Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.repo, key)
}

// Get 按键取出服务
func (l *Locator) Get(key Key) (any, bool) {
	if l == nil {
		return nil, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	svc, ok := l.repo[key]
	return svc, ok
}

// Keys 已注册的键
func (l *Locator) Keys() []Key {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Key, 0, len(l.repo))
	for k := range l.repo {
		out = append(out, k)
	}
	return out
}

// Lookup 按键取出服务并断言为 T；不存在或类型不符都返回 false
func Lookup[T any](l *Locator, key Key) (T, bool) {
	var zero T
	svc, ok := l.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
