package handler

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Tnze/go-mc/chat"
	"github.com/rs/zerolog"

	"mc-frontend/internal/config"
	"mc-frontend/internal/events"
	"mc-frontend/internal/limiter"
	"mc-frontend/internal/logger"
	"mc-frontend/internal/monitor"
	"mc-frontend/internal/network"
	"mc-frontend/internal/protocol"
	"mc-frontend/internal/services"
	"mc-frontend/internal/session"
	"mc-frontend/internal/throttle"
)

const msgShutdown = "Server is shutting down."

// Options 前端的协作者，除 Config 外都可以留空
type Options struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Bus      *events.Bus
	Services *services.Locator
	Metrics  *monitor.Metrics
	Perf     *monitor.PerformanceMonitor
	Security *logger.SecurityLogger
	Audit    *logger.AuditLogger
	// Limiter 为 nil 时不做接入限流
	Limiter *limiter.RateLimiter
	// Handoff 为 nil 时使用 KickHandoff
	Handoff LoginHandoff
	// Revisions 为空时使用 protocol.KnownRevisions
	Revisions []protocol.Revision
}

// Frontend 把网络连接接入协议会话，并实现握手、状态查询和登录准入
type Frontend struct {
	cfg      *config.Config
	logger   zerolog.Logger
	limited  *logger.RateLimitedLogger
	registry *protocol.Registry
	sessions *session.Manager
	bus      *events.Bus
	services *services.Locator
	metrics  *monitor.Metrics
	perf     *monitor.PerformanceMonitor
	security *logger.SecurityLogger
	audit    *logger.AuditLogger
	limiter  *limiter.RateLimiter
	handoff  LoginHandoff

	// 按节流窗口区分，同一窗口的监听地址共用一个节流器；构造后只读
	trackers map[time.Duration]*throttle.Tracker
	now      func() time.Time
}

// NewFrontend 创建前端并构建协议注册表
func NewFrontend(opts Options) (*Frontend, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("缺少配置")
	}

	l := opts.Logger.With().Str("component", "frontend").Logger()
	f := &Frontend{
		cfg:      opts.Config,
		logger:   l,
		limited:  logger.NewRateLimitedLogger(l, time.Minute),
		sessions: session.NewManager(32),
		bus:      opts.Bus,
		services: opts.Services,
		metrics:  opts.Metrics,
		perf:     opts.Perf,
		security: opts.Security,
		audit:    opts.Audit,
		limiter:  opts.Limiter,
		handoff:  opts.Handoff,
		trackers: make(map[time.Duration]*throttle.Tracker),
		now:      time.Now,
	}
	if f.bus == nil {
		f.bus = events.NewBus(opts.Logger)
	}
	if f.services == nil {
		f.services = services.NewLocator()
	}
	if f.metrics == nil {
		f.metrics = monitor.NewMetrics()
	}
	if f.perf == nil {
		f.perf = monitor.NewPerformanceMonitor()
	}
	if f.security == nil {
		f.security = logger.NewSecurityLogger(opts.Logger, opts.Audit)
	}
	if f.handoff == nil {
		f.handoff = KickHandoff{}
	}

	windows := []time.Duration{f.cfg.ForAddress("").ThrottleWindow}
	for _, lc := range f.cfg.Listeners {
		windows = append(windows, f.cfg.ForAddress(lc.Address).ThrottleWindow)
	}
	for _, w := range windows {
		if _, ok := f.trackers[w]; !ok {
			f.trackers[w] = throttle.NewTracker(w, opts.Logger)
		}
	}

	revisions := opts.Revisions
	if len(revisions) == 0 {
		revisions = protocol.KnownRevisions
	}
	registry, err := BuildRegistry(f.cfg.Protocol, revisions, f.listenerFactory)
	if err != nil {
		return nil, err
	}
	f.registry = registry

	if err := f.metrics.RegisterGauge("sessions", "active", "Live protocol sessions.", func() float64 {
		return float64(f.sessions.Count())
	}); err != nil {
		return nil, fmt.Errorf("注册会话指标失败: %w", err)
	}

	f.logger.Info().
		Strs("versions", registry.SupportedNames()).
		Str("default", registry.Default().String()).
		Msg("协议注册表已就绪")
	return f, nil
}

func (f *Frontend) Registry() *protocol.Registry { return f.registry }
func (f *Frontend) Sessions() *session.Manager { return f.sessions }
func (f *Frontend) Bus() *events.Bus { return f.bus }
func (f *Frontend) Services() *services.Locator { return f.services }

// listenerFactory 各版本的监听器；登录监听器按修订区分是否携带 UUID
func (f *Frontend) listenerFactory(rev protocol.Revision) protocol.ListenerFactory {
	return protocol.ListenerFactoryFunc(func(v *protocol.Version, s protocol.Session, state protocol.State) (protocol.Listener, error) {
		switch state {
		case protocol.StateHandshake:
			return &handshakeListener{f: f, s: s}, nil
		case protocol.StateStatus:
			return &statusListener{f: f, s: s, v: v}, nil
		case protocol.StateLogin:
			return &loginListener{f: f, s: s, v: v, withID: rev.LoginWithID}, nil
		}
		return nil, fmt.Errorf("版本 %s 没有 %s 状态的监听器", v, state)
	})
}

// HandleConnection 实现 network.ConnectionHandler，阻塞直到会话结束
func (f *Frontend) HandleConnection(ctx context.Context, conn *network.Connection) error {
	if f.limiter != nil && !f.limiter.Allow(conn.RemoteIP) {
		f.metrics.ConnectionRejected(monitor.RejectRateLimit)
		conn.Close()
		return nil
	}

	f.metrics.ConnectionAccepted()
	f.perf.RecordConnection()
	defer f.perf.RecordConnectionClose()

	s := session.New(conn.ID, conn, f.registry, conn.Logger, session.Options{
		OutboundQueue: f.cfg.Protocol.OutboundQueue,
		WriteTimeout:  f.cfg.Server.ReadTimeout,
		Observer:      sessionObserver{f},
	})
	f.sessions.Store(s)
	defer f.sessions.Delete(s.ID())

	return s.Serve(ctx)
}

// ConnectionRejected 实现 network.RejectObserver
func (f *Frontend) ConnectionRejected(remote net.Addr, reason string) {
	f.metrics.ConnectionRejected(reason)
}

// Run 定期清理存活过久的会话；ctx 结束时通知登录中的客户端并关闭全部会话
func (f *Frontend) Run(ctx context.Context) {
	var tick <-chan time.Time
	if maxAge := f.cfg.Server.IdleTimeout; maxAge > 0 {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return
		case <-tick:
			if n := f.sessions.CleanupExpired(f.cfg.Server.IdleTimeout); n > 0 {
				f.logger.Info().Int("count", n).Msg("清理过期会话")
			}
		}
	}
}

func (f *Frontend) shutdown() {
	inLogin := func(s *session.Session) bool { return s.State() == protocol.StateLogin }
	n := f.sessions.Broadcast(&protocol.LoginDisconnect{Reason: chat.Text(msgShutdown)}, inLogin)
	f.sessions.CloseAll()
	f.logger.Info().
		Int("notified", n).
		Int64("sessions", f.sessions.Count()).
		Msg("前端已停止")
}

// Stats /stats 中的会话分节
func (f *Frontend) Stats() map[string]any {
	byState := make(map[string]int)
	for state, n := range f.sessions.CountByState() {
		byState[state.String()] = n
	}
	throttled := 0
	for _, t := range f.trackers {
		throttled += t.Len()
	}
	return map[string]any{
		"active":           f.sessions.Count(),
		"by_state":         byState,
		"throttle_entries": throttled,
		"versions":         f.registry.SupportedNames(),
		"default_version":  f.registry.Default().Name(),
	}
}

func (f *Frontend) settingsFor(s protocol.Session) config.ListenerSettings {
	var local string
	if addr := s.LocalAddr(); addr != nil {
		local = addr.String()
	}
	return f.cfg.ForAddress(local)
}

func (f *Frontend) tracker(window time.Duration) *throttle.Tracker {
	if t, ok := f.trackers[window]; ok {
		return t
	}
	return f.trackers[f.cfg.ForAddress("").ThrottleWindow]
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// sessionObserver 把会话生命周期接到指标、安全日志和事件总线
type sessionObserver struct {
	f *Frontend
}

func (o sessionObserver) FrameReceived(s *session.Session, _ int32) {
	o.f.metrics.FrameReceived(s.State().String())
}

func (o sessionObserver) FrameSent(_ *session.Session, size int) {
	o.f.metrics.FrameSent(size)
}

func (o sessionObserver) Violation(s *session.Session, kind string, err error) {
	o.f.metrics.Violation(kind)
	o.f.security.LogProtocolViolation(remoteIP(s.RemoteAddr()), kind, err)
}

func (o sessionObserver) Closed(s *session.Session) {
	o.f.bus.Emit(context.Background(), &events.DisconnectEvent{
		SessionID:  s.ID(),
		RemoteAddr: s.RemoteAddr(),
		State:      s.State(),
		Version:    s.Version(),
		Reason:     s.CloseReason(),
	})
}
