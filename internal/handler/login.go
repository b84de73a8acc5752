package handler

import (
	"fmt"
	"net"
	"regexp"

	"github.com/Tnze/go-mc/chat"

	"mc-frontend/internal/config"
	"mc-frontend/internal/events"
	"mc-frontend/internal/monitor"
	"mc-frontend/internal/protocol"
	"mc-frontend/internal/services"
)

// 登录拒绝时发送给客户端的固定提示
const (
	msgThrottled     = "Connection throttled! Please wait before reconnecting."
	msgInvalidName   = "Invalid username! Usernames must be 3-16 characters of letters, digits or underscores."
	msgLoginCanceled = "You are not allowed to join this server."
)

var usernamePattern = regexp.MustCompile(`^[0-9A-Za-z_]{3,16}$`)

// loginListener LOGIN 状态监听器，负责准入；通过后交给 LoginHandoff
type loginListener struct {
	f      *Frontend
	s      protocol.Session
	v      *protocol.Version
	withID bool
	// started 每个会话只处理一个 LoginStart
	started bool
}

func (l *loginListener) State() protocol.State { return protocol.StateLogin }

// HandleLoginStart 节流、用户名校验、准入事件、验证策略，依次通过后交接
func (l *loginListener) HandleLoginStart(p *protocol.LoginStart) error {
	if l.started {
		l.s.Close()
		return nil
	}
	l.started = true

	f := l.f
	settings := f.settingsFor(l.s)
	addr := l.s.RemoteAddr()

	if f.tracker(settings.ThrottleWindow).Attempt(addr, f.now()) {
		l.reject(p.Username, monitor.RejectThrottled, chat.Text(msgThrottled))
		return nil
	}

	if !usernamePattern.MatchString(p.Username) {
		l.reject(p.Username, monitor.RejectInvalidName, chat.Text(msgInvalidName))
		return nil
	}

	ev := events.Publish(l.s.Context(), f.bus, &events.PreLoginEvent{
		Username:      p.Username,
		RemoteAddr:    addr,
		OnlineMode:    settings.OnlineMode,
		NicknameValid: true,
		Version:       l.v,
	})
	if ev.Cancelled() {
		reason, ok := ev.CancelReason()
		if !ok {
			reason = chat.Text(msgLoginCanceled)
		}
		l.reject(p.Username, monitor.RejectCancelled, reason)
		return nil
	}
	if !ev.NicknameValid {
		l.reject(p.Username, monitor.RejectInvalidName, chat.Text(msgInvalidName))
		return nil
	}

	authenticate := f.requireAuthentication(ev.OnlineMode, p.Username, addr)
	l.s.SetAuthenticateUpstream(authenticate)

	if err := f.audit.LogLoginAttempt(remoteIP(addr), p.Username, authenticate); err != nil {
		f.logger.Error().Err(err).Msg("写入审计日志失败")
	}
	f.metrics.LoginAdmitted(authenticate)
	l.s.Logger().Info().
		Str("username", p.Username).
		Bool("authenticate", authenticate).
		Str("version", l.v.Name()).
		Msg("登录准入通过")

	f.bus.Emit(l.s.Context(), &events.LoginHandoffEvent{
		SessionID:            l.s.ID(),
		Username:             p.Username,
		RemoteAddr:           addr,
		AuthenticateUpstream: authenticate,
	})

	result := LoginResult{
		Username:             p.Username,
		AuthenticateUpstream: authenticate,
		Version:              l.v,
		Settings:             settings,
	}
	if l.withID {
		result.PlayerID = p.PlayerID
	}
	if err := f.handoff.Handoff(l.s, result); err != nil {
		f.metrics.LoginRejected(monitor.RejectHandoff)
		return fmt.Errorf("登录交接失败: %w", err)
	}
	return nil
}

func (l *loginListener) reject(username, reason string, message chat.Message) {
	f := l.f
	f.metrics.LoginRejected(reason)
	f.security.LogLoginRejected(remoteIP(l.s.RemoteAddr()), username, reason)
	l.s.Disconnect(message)
}

// requireAuthentication 把验证策略折算为是否向上游验证身份
//
// auto 依赖注入的认证策略；策略缺失或取值无效时一律要求验证。
func (f *Frontend) requireAuthentication(mode config.OnlineMode, username string, addr net.Addr) bool {
	switch mode {
	case config.OnlineModeFalse:
		return false
	case config.OnlineModeTrue:
		return true
	case config.OnlineModeAuto:
		policy, ok := services.Lookup[services.AuthPolicy](f.services, services.KeyAuthPolicy)
		if ok {
			return policy.RequireAuthentication(username, addr)
		}
		f.limited.Warn("auth_policy_missing").
			Str("username", username).
			Msg("online_mode 为 auto 但未注册认证策略，按需要验证处理")
		return true
	}

	f.limited.Warn("online_mode_invalid").
		Str("online_mode", string(mode)).
		Msg("无效的 online_mode，按需要验证处理")
	return true
}
