package protocol

import (
	"context"
	"net"

	"github.com/Tnze/go-mc/chat"
	"github.com/rs/zerolog"
)

// Listener 某个状态下处理入站包的对象
type Listener interface {
	State() State
}

// HandshakeListener HANDSHAKE 状态监听器
type HandshakeListener interface {
	Listener
	HandleHandshake(p *Handshake) error
}

// StatusListener STATUS 状态监听器
type StatusListener interface {
	Listener
	HandleStatusRequest(p *StatusRequest) error
	HandleStatusPing(p *StatusPing) error
}

// LoginListener LOGIN 状态监听器
type LoginListener interface {
	Listener
	HandleLoginStart(p *LoginStart) error
}

// ListenerFactory 为某个版本创建对应状态的监听器，各版本的行为差异集中在这里
type ListenerFactory interface {
	NewListener(v *Version, s Session, state State) (Listener, error)
}

// ListenerFactoryFunc 函数形式的 ListenerFactory
type ListenerFactoryFunc func(v *Version, s Session, state State) (Listener, error)

// NewListener 实现 ListenerFactory
func (f ListenerFactoryFunc) NewListener(v *Version, s Session, state State) (Listener, error) {
	return f(v, s, state)
}

// Session 协议层对单个连接的视图
//
// 入站解码和处理固定在一个执行上下文中，State/Listener 等字段不需要加锁；
// WriteFrame、Send、Disconnect、Close 可以从任意 goroutine 调用。
type Session interface {
	ID() string
	RemoteAddr() net.Addr
	// LocalAddr 客户端连入的本地地址，用于查找按地址覆盖的配置
	LocalAddr() net.Addr
	// Context 会话结束时取消
	Context() context.Context
	Logger() *zerolog.Logger

	State() State
	// Advance 只允许按 CanAdvanceTo 前进
	Advance(next State) error
	// Version 握手前为 nil
	Version() *Version
	// BindVersion 每个连接只能绑定一次
	BindVersion(v *Version) error
	Listener() Listener
	SetListener(l Listener)

	// ConsumeHandshake 第一次调用返回 true，之后都返回 false
	ConsumeHandshake() bool
	AuthenticateUpstream() bool
	SetAuthenticateUpstream(v bool)

	WriteFrame(frame []byte) error
	Send(p Packet) error
	Disconnect(reason chat.Message)
	Close()
}

func wrongListener(p Packet, l Listener) error {
	if l == nil {
		return ErrWrongListener
	}
	return &wrongListenerError{packet: packetType(p).Name(), state: l.State()}
}

type wrongListenerError struct {
	packet string
	state  State
}

func (e *wrongListenerError) Error() string {
	return e.packet + " not accepted in state " + e.state.String()
}

func (e *wrongListenerError) Unwrap() error { return ErrWrongListener }
