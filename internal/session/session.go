package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tnze/go-mc/chat"
	"github.com/rs/zerolog"

	"mc-frontend/internal/protocol"
)

var (
	// ErrClosed 会话已关闭
	ErrClosed = errors.New("session closed")
	// ErrDoubleHandshake 同一会话收到第二个握手包
	ErrDoubleHandshake = errors.New("handshake already consumed")
	// ErrOutboundFull 发送队列已满，对端读取过慢
	ErrOutboundFull = errors.New("outbound queue full")
	// ErrStateRegression 状态只能前进
	ErrStateRegression = errors.New("illegal state transition")
	// ErrVersionBound 协议版本已绑定
	ErrVersionBound = errors.New("protocol version already bound")
	// ErrNoVersion 握手前没有可用的编码器
	ErrNoVersion = errors.New("no protocol version bound")
)

// 违规类型，用于日志和指标
const (
	ViolationFraming       = "framing"
	ViolationUnknownPacket = "unknown_packet"
	ViolationDecode        = "decode"
	ViolationWrongState    = "wrong_state"
	ViolationHandler       = "handler"
)

// Observer 会话生命周期的观察者，所有方法都可能在不同 goroutine 中调用
type Observer interface {
	FrameReceived(s *Session, id int32)
	FrameSent(s *Session, size int)
	Violation(s *Session, kind string, err error)
	Closed(s *Session)
}

type nopObserver struct{}

func (nopObserver) FrameReceived(*Session, int32) {}
func (nopObserver) FrameSent(*Session, int) {}
func (nopObserver) Violation(*Session, string, error) {}
func (nopObserver) Closed(*Session) {}

// Options 会话参数
type Options struct {
	// OutboundQueue 发送队列长度
	OutboundQueue int
	// WriteTimeout 单帧写入超时，0 表示不设置
	WriteTimeout time.Duration
	Observer     Observer
}

// Session 单个连接的协议会话
//
// 入站帧的读取、解码和处理都在 Serve 所在的 goroutine 中完成，state、listener
// 等字段只在这里修改；出站帧经由队列交给唯一的写协程，保证提交顺序即发送顺序。
type Session struct {
	id        string
	conn      net.Conn
	reader    *bufio.Reader
	logger    zerolog.Logger
	registry  *protocol.Registry
	observer  Observer
	startTime time.Time

	state             atomic.Int32 // protocol.State
	listener          protocol.Listener
	handshakeConsumed bool
	authUpstream      bool
	version           atomic.Pointer[protocol.Version]

	ctx    context.Context
	cancel context.CancelFunc

	out          chan []byte
	writeTimeout time.Duration
	mu           sync.Mutex // 保护 closed 与向 out 的发送
	closed       bool
	disconnected atomic.Bool
	writerDone   chan struct{}
	closeReason  atomic.Value // string
}

// New 创建会话，调用 Serve 开始处理
func New(id string, conn net.Conn, registry *protocol.Registry, logger zerolog.Logger, opts Options) *Session {
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = 128
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           id,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		logger:       logger,
		registry:     registry,
		observer:     opts.Observer,
		startTime:    time.Now(),
		out:          make(chan []byte, opts.OutboundQueue),
		writeTimeout: opts.WriteTimeout,
		writerDone:   make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Session) ID() string { return s.id }
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *Session) Logger() *zerolog.Logger { return &s.logger }
func (s *Session) StartTime() time.Time { return s.startTime }
func (s *Session) State() protocol.State { return protocol.State(s.state.Load()) }
func (s *Session) Version() *protocol.Version { return s.version.Load() }
func (s *Session) Listener() protocol.Listener { return s.listener }

// Context 会话关闭时取消
func (s *Session) Context() context.Context {
	return s.ctx
}

// Advance 推进连接状态
func (s *Session) Advance(next protocol.State) error {
	cur := s.State()
	if !cur.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrStateRegression, cur, next)
	}
	s.logger.Debug().
		Str("from", cur.String()).
		Str("to", next.String()).
		Msg("连接状态变更")
	s.state.Store(int32(next))
	return nil
}

// BindVersion 绑定协议版本，每个会话只能绑定一次
func (s *Session) BindVersion(v *protocol.Version) error {
	if v == nil {
		return ErrNoVersion
	}
	if !s.version.CompareAndSwap(nil, v) {
		return fmt.Errorf("%w: %s", ErrVersionBound, s.version.Load())
	}
	return nil
}

// SetListener 安装监听器
func (s *Session) SetListener(l protocol.Listener) {
	s.listener = l
}

// ConsumeHandshake 第一次返回 true
func (s *Session) ConsumeHandshake() bool {
	if s.handshakeConsumed {
		return false
	}
	s.handshakeConsumed = true
	return true
}

func (s *Session) AuthenticateUpstream() bool { return s.authUpstream }
func (s *Session) SetAuthenticateUpstream(v bool) { s.authUpstream = v }

// CloseReason 关闭原因，未关闭时为空
func (s *Session) CloseReason() string {
	reason, _ := s.closeReason.Load().(string)
	return reason
}

// Closed 会话是否已关闭
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// WriteFrame 把编码好的帧放入发送队列，可从任意 goroutine 调用
func (s *Session) WriteFrame(frame []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	select {
	case s.out <- frame:
		s.mu.Unlock()
		return nil
	default:
	}
	s.mu.Unlock()

	s.logger.Warn().Int("queue", cap(s.out)).Msg("发送队列已满，关闭连接")
	s.closeWith("outbound queue full")
	return ErrOutboundFull
}

// Send 用已绑定的版本编码并发送
func (s *Session) Send(p protocol.Packet) error {
	v := s.version.Load()
	if v == nil {
		return ErrNoVersion
	}
	return v.SendOutgoing(s, p)
}

// Disconnect 发送一次带原因的断开包（当前状态有的话）后关闭，重复调用无效果
func (s *Session) Disconnect(reason chat.Message) {
	if !s.disconnected.CompareAndSwap(false, true) {
		return
	}

	if v := s.version.Load(); v != nil {
		if p, ok := v.DisconnectPacket(s.State(), reason); ok {
			if err := s.Send(p); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Debug().Err(err).Msg("发送断开包失败")
			}
		}
	}
	s.closeWith("disconnect: " + reason.ClearString())
}

// Close 停止接收新的出站帧，已排队的帧写完后关闭连接
func (s *Session) Close() {
	s.closeWith("closed")
}

func (s *Session) closeWith(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeReason.Store(reason)
	close(s.out)
	s.mu.Unlock()

	s.cancel()
}

// Serve 运行会话直到连接关闭，返回后连接已关闭；ctx 取消时会话随之关闭
func (s *Session) Serve(ctx context.Context) error {
	go s.writeLoop()
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	defer func() {
		s.Close()
		<-s.writerDone
		s.observer.Closed(s)
	}()

	initial, err := s.registry.Default().CreateHandler(s)
	if err != nil {
		return fmt.Errorf("创建握手监听器失败: %w", err)
	}
	s.listener = initial

	return s.readLoop()
}

// readLoop 按当前版本切帧；握手绑定新版本后以新版本继续读取剩余字节
func (s *Session) readLoop() error {
	for {
		codec := s.version.Load()
		if codec == nil {
			codec = s.registry.Default()
		}

		rebound := false
		for frame, err := range codec.Frames(s.reader) {
			if err != nil {
				return s.fail(err)
			}
			s.observer.FrameReceived(s, frame.ID)

			p, err := codec.Decode(s.State(), frame)
			if err != nil {
				return s.fail(err)
			}
			if err := codec.HandleIncoming(s, p); err != nil {
				return s.fail(err)
			}
			if s.Closed() {
				return nil
			}
			if v := s.version.Load(); v != nil && v != codec {
				rebound = true
				break
			}
		}
		if !rebound {
			s.closeWith("peer closed")
			return nil
		}
	}
}

// fail 按错误类型决定日志级别；任何入站错误都会关闭连接，且不做应答
func (s *Session) fail(err error) error {
	if s.Closed() {
		return nil
	}

	kind := ""
	switch {
	case errors.Is(err, protocol.ErrFraming):
		kind = ViolationFraming
	case errors.Is(err, protocol.ErrUnknownPacket):
		kind = ViolationUnknownPacket
	case errors.Is(err, protocol.ErrDecode):
		kind = ViolationDecode
	case errors.Is(err, protocol.ErrWrongListener), errors.Is(err, ErrDoubleHandshake), errors.Is(err, ErrStateRegression):
		kind = ViolationWrongState
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		s.closeWith("peer closed")
		return nil
	}

	if kind == "" {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			s.logger.Debug().Msg("读取超时")
			s.closeWith("read timeout")
			return nil
		}
		kind = ViolationHandler
	}

	s.logger.Debug().
		Err(err).
		Str("violation", kind).
		Str("state", s.State().String()).
		Msg("入站处理失败，关闭连接")
	s.observer.Violation(s, kind, err)
	s.closeWith(kind)
	return err
}

// writeLoop 唯一的写协程；队列关闭后写完剩余帧再关闭底层连接
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	defer s.conn.Close()

	broken := false
	for frame := range s.out {
		if broken {
			continue
		}
		if s.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if _, err := s.conn.Write(frame); err != nil {
			s.logger.Debug().Err(err).Msg("写入失败")
			broken = true
			s.closeWith("write failed")
			continue
		}
		s.observer.FrameSent(s, len(frame))
	}
}
