package events

import (
	"net"

	"github.com/Tnze/go-mc/chat"

	"mc-frontend/internal/config"
	"mc-frontend/internal/protocol"
)

// Type 事件类型
type Type string

const (
	TypeHandshake    Type = "handshake"
	TypeStatusPing   Type = "status_ping"
	TypePreLogin     Type = "pre_login"
	TypeLoginHandoff Type = "login_handoff"
	TypeDisconnect   Type = "disconnect"
)

// Event 总线上传递的事件
type Event interface {
	Type() Type
}

// Cancellable 可被处理函数取消的事件
type Cancellable interface {
	Event
	Cancelled() bool
	CancelReason() (chat.Message, bool)
}

// Cancel 嵌入到可取消事件中
type Cancel struct {
	cancelled bool
	reason    *chat.Message
}

// SetCancelled 取消或恢复事件，不附带原因
func (c *Cancel) SetCancelled(v bool) {
	c.cancelled = v
	if !v {
		c.reason = nil
	}
}

// CancelWith 取消事件并给出发送给客户端的原因
func (c *Cancel) CancelWith(reason chat.Message) {
	c.cancelled = true
	c.reason = &reason
}

func (c *Cancel) Cancelled() bool { return c.cancelled }

func (c *Cancel) CancelReason() (chat.Message, bool) {
	if c.reason == nil {
		return chat.Message{}, false
	}
	return *c.reason, true
}

// HandshakeEvent 握手完成后的通知，只用于观察
type HandshakeEvent struct {
	SessionID       string
	RemoteAddr      net.Addr
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	Intent          protocol.Intent
	// Supported 客户端版本是否已注册
	Supported bool
}

func (*HandshakeEvent) Type() Type { return TypeHandshake }

// StatusPingEvent 服务器列表查询，处理函数可改写 Response 或取消（直接关闭连接）
type StatusPingEvent struct {
	Cancel
	RemoteAddr net.Addr
	Version    *protocol.Version
	Response   *protocol.StatusResponse
}

func (*StatusPingEvent) Type() Type { return TypeStatusPing }

// PreLoginEvent 登录准入事件
//
// 处理函数可以取消登录（附带原因）、修改 OnlineMode，
// 或在 NicknameValid 为 false 时决定是否放行。
type PreLoginEvent struct {
	Cancel
	Username      string
	RemoteAddr    net.Addr
	OnlineMode    config.OnlineMode
	NicknameValid bool
	Version       *protocol.Version
}

func (*PreLoginEvent) Type() Type { return TypePreLogin }

// LoginHandoffEvent 准入通过、即将交给认证流程的通知
type LoginHandoffEvent struct {
	SessionID            string
	Username             string
	RemoteAddr           net.Addr
	AuthenticateUpstream bool
}

func (*LoginHandoffEvent) Type() Type { return TypeLoginHandoff }

// DisconnectEvent 会话结束的通知
type DisconnectEvent struct {
	SessionID  string
	RemoteAddr net.Addr
	State      protocol.State
	// Version 握手前关闭时为 nil
	Version *protocol.Version
	Reason  string
}

func (*DisconnectEvent) Type() Type { return TypeDisconnect }
