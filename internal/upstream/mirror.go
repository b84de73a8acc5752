package upstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tnze/go-mc/bot"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mc-frontend/internal/config"
	"mc-frontend/internal/protocol"
	"mc-frontend/internal/services"
)

// PingFunc 查询一次上游状态，返回原始 JSON
type PingFunc func(addr string, timeout time.Duration) ([]byte, error)

func pingWithGoMC(addr string, timeout time.Duration) ([]byte, error) {
	// go-mc 会处理 IP、域名和 SRV 记录
	resp, _, err := bot.PingAndListTimeout(addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("ping 失败: %w", err)
	}
	return resp, nil
}

// upstreamStatus 上游响应中关心的字段；样本 ID 先按字符串读取，非法的条目丢弃
type upstreamStatus struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int32  `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			Name string `json:"name"`
			ID   string `json:"id"`
		} `json:"sample"`
	} `json:"players"`
}

// Mirror 定期查询上游服务器，把在线人数和玩家样本提供给服务器列表
type Mirror struct {
	cfg    config.UpstreamConfig
	logger zerolog.Logger
	ping   PingFunc

	mu          sync.RWMutex
	snapshot    services.PlayerSnapshot
	synced      bool // 至少成功过一次
	unavailable bool
	lastSync    time.Time

	running atomic.Bool
}

// NewMirror 创建上游镜像
func NewMirror(cfg config.UpstreamConfig, logger zerolog.Logger) *Mirror {
	return &Mirror{
		cfg:    cfg,
		logger: logger.With().Str("component", "upstream").Logger(),
		ping:   pingWithGoMC,
	}
}

// Start 立即同步一次，然后在后台按间隔同步直到 ctx 结束
func (m *Mirror) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info().Msg("上游同步已禁用")
		return nil
	}
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("同步器已在运行")
	}

	m.logger.Info().
		Str("address", m.cfg.Address).
		Dur("interval", m.cfg.SyncInterval).
		Msg("启动上游状态同步")

	m.SyncOnce(ctx)
	go m.syncLoop(ctx)
	return nil
}

func (m *Mirror) syncLoop(ctx context.Context) {
	defer m.running.Store(false)

	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SyncOnce(ctx)
		}
	}
}

// SyncOnce 按配置的重试次数查询一次上游
func (m *Mirror) SyncOnce(ctx context.Context) {
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= m.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.RetryInterval):
			}
		}

		raw, err := m.ping(m.cfg.Address, m.cfg.Timeout)
		if err == nil {
			err = m.update(raw)
		}
		if err != nil {
			lastErr = err
			m.logger.Debug().
				Err(err).
				Int("attempt", attempt).
				Msg("同步失败")
			continue
		}

		m.logger.Debug().
			Str("upstream", m.cfg.Address).
			Dur("response_time", time.Since(start)).
			Msg("上游同步成功")
		return
	}

	m.logger.Warn().
		Err(lastErr).
		Str("addr", m.cfg.Address).
		Int("retry_count", m.cfg.RetryCount).
		Msg("同步失败，所有重试都已用尽")
	m.markOffline()
}

func (m *Mirror) update(raw []byte) error {
	var st upstreamStatus
	if err := sonic.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("解析上游响应失败: %w", err)
	}

	snap := services.PlayerSnapshot{
		Online: st.Players.Online,
		Max:    st.Players.Max,
	}
	for _, p := range st.Players.Sample {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			continue
		}
		snap.Sample = append(snap.Sample, protocol.PlayerSample{Name: p.Name, ID: id})
	}
	// 不覆盖版本时展示上游自己的版本名
	if !m.cfg.OverrideVersion {
		snap.VersionName = st.Version.Name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		m.logger.Info().Msg("上游恢复可用")
	}
	m.snapshot = snap
	m.synced = true
	m.unavailable = false
	m.lastSync = time.Now()
	return nil
}

// markOffline 上游不可用时保留上次的上限，在线人数和样本清零
func (m *Mirror) markOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return
	}
	m.unavailable = true
	m.snapshot.Online = 0
	m.snapshot.Sample = nil
	m.logger.Info().Msg("上游不可用，在线人数置为 0")
}

// Players 实现 services.PlayerSource；从未同步成功时返回 false
func (m *Mirror) Players() (services.PlayerSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.synced {
		return services.PlayerSnapshot{}, false
	}
	snap := m.snapshot
	snap.Sample = append([]protocol.PlayerSample(nil), m.snapshot.Sample...)
	return snap, true
}

// GetStats 获取统计信息
func (m *Mirror) GetStats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]any{
		"running":            m.running.Load(),
		"enabled":            m.cfg.Enabled,
		"upstream_address":   m.cfg.Address,
		"upstream_available": m.synced && !m.unavailable,
		"online":             m.snapshot.Online,
		"last_sync":          m.lastSync,
	}
}
