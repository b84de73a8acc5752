package handler

import (
	"strings"

	"github.com/Tnze/go-mc/chat"

	"mc-frontend/internal/events"
	"mc-frontend/internal/monitor"
	"mc-frontend/internal/protocol"
	"mc-frontend/internal/session"
)

const unsupportedVersionPrefix = "Unsupported client version! Supported versions: "

// handshakeListener 新连接的初始监听器，只接受一个握手包
type handshakeListener struct {
	f *Frontend
	s protocol.Session
}

func (h *handshakeListener) State() protocol.State { return protocol.StateHandshake }

// HandleHandshake 解析客户端版本并切换到请求的状态
//
// 未注册的版本仍然绑定默认版本并进入 LOGIN，用默认版本的编码发送一次断开提示。
func (h *handshakeListener) HandleHandshake(p *protocol.Handshake) error {
	if !h.s.ConsumeHandshake() {
		return session.ErrDoubleHandshake
	}

	f := h.f
	ip := remoteIP(h.s.RemoteAddr())
	v, supported := f.registry.GetVersion(p.ProtocolVersion)

	f.bus.Emit(h.s.Context(), &events.HandshakeEvent{
		SessionID:       h.s.ID(),
		RemoteAddr:      h.s.RemoteAddr(),
		ProtocolVersion: p.ProtocolVersion,
		ServerAddress:   p.ServerAddress,
		ServerPort:      p.ServerPort,
		Intent:          p.Intent,
		Supported:       supported,
	})
	if err := f.audit.LogHandshake(ip, p.ProtocolVersion, p.ServerAddress, p.ServerPort, p.Intent.String()); err != nil {
		f.logger.Error().Err(err).Msg("写入审计日志失败")
	}

	if !supported {
		f.metrics.Handshake("unsupported", p.Intent.String())
		f.metrics.LoginRejected(monitor.RejectUnsupported)
		f.security.LogUnsupportedVersion(ip, p.ProtocolVersion)
		return h.rejectVersion()
	}

	f.metrics.Handshake(v.Name(), p.Intent.String())
	h.s.Logger().Debug().
		Str("version", v.String()).
		Str("intent", p.Intent.String()).
		Str("server_address", p.ServerAddress).
		Msg("握手完成")

	if err := h.s.BindVersion(v); err != nil {
		return err
	}
	if err := h.s.Advance(p.Intent.State()); err != nil {
		return err
	}
	return v.SetListener(h.s, p.Intent.State())
}

func (h *handshakeListener) rejectVersion() error {
	def := h.f.registry.Default()
	if err := h.s.BindVersion(def); err != nil {
		return err
	}
	if err := h.s.Advance(protocol.StateLogin); err != nil {
		return err
	}
	if err := def.SetListener(h.s, protocol.StateLogin); err != nil {
		return err
	}

	names := h.f.registry.SupportedNames()
	h.s.Disconnect(chat.Text(unsupportedVersionPrefix + strings.Join(names, ", ")))
	return nil
}
