package handler

import (
	"github.com/Tnze/go-mc/chat"
	"github.com/google/uuid"

	"mc-frontend/internal/config"
	"mc-frontend/internal/protocol"
)

// LoginResult 通过准入的登录
type LoginResult struct {
	Username             string
	PlayerID             uuid.UUID // 客户端自报，旧版本为 uuid.Nil
	AuthenticateUpstream bool
	Version              *protocol.Version
	Settings             config.ListenerSettings
}

// LoginHandoff 准入之后的下一步（加密握手、进入 PLAY），前端本身不实现
type LoginHandoff interface {
	Handoff(s protocol.Session, result LoginResult) error
}

// LoginHandoffFunc 函数形式的 LoginHandoff
type LoginHandoffFunc func(s protocol.Session, result LoginResult) error

// Handoff 实现 LoginHandoff
func (f LoginHandoffFunc) Handoff(s protocol.Session, result LoginResult) error {
	return f(s, result)
}

// KickHandoff 默认交接：用监听地址配置的 kick_message 断开
type KickHandoff struct{}

// Handoff 实现 LoginHandoff
func (KickHandoff) Handoff(s protocol.Session, result LoginResult) error {
	s.Disconnect(chat.Text(result.Settings.KickMessage))
	return nil
}
