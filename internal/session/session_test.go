package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Tnze/go-mc/chat"
	"github.com/rs/zerolog"

	"mc-frontend/internal/protocol"
)

type stubListener struct{ state protocol.State }

func (l stubListener) State() protocol.State { return l.state }

var stubListeners = protocol.ListenerFactoryFunc(func(_ *protocol.Version, _ protocol.Session, state protocol.State) (protocol.Listener, error) {
	return stubListener{state: state}, nil
})

func newTestRegistry(t *testing.T) *protocol.Registry {
	t.Helper()
	r := protocol.NewRegistry()
	for _, rev := range protocol.KnownRevisions {
		v, err := protocol.NewVersion(protocol.VersionSpec{
			ID:        rev.ID,
			Name:      rev.Name,
			Aliases:   rev.Aliases,
			Table:     rev.NewTable(),
			Listeners: stubListeners,
		})
		if err != nil {
			t.Fatalf("创建版本失败: %v", err)
		}
		if err := r.AddVersion(v); err != nil {
			t.Fatalf("注册版本失败: %v", err)
		}
	}
	if err := r.SetDefaultByName("1.20.6"); err != nil {
		t.Fatalf("设置默认版本失败: %v", err)
	}
	if err := r.Seal(); err != nil {
		t.Fatalf("封存注册表失败: %v", err)
	}
	return r
}

// recorder 记录观察者回调
type recorder struct {
	mu         sync.Mutex
	violations []string
	sent       int
	closed     chan struct{}
}

func newRecorder() *recorder { return &recorder{closed: make(chan struct{})} }

func (r *recorder) FrameReceived(*Session, int32) {}

func (r *recorder) FrameSent(*Session, int) {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

func (r *recorder) Violation(_ *Session, kind string, _ error) {
	r.mu.Lock()
	r.violations = append(r.violations, kind)
	r.mu.Unlock()
}

func (r *recorder) Closed(*Session) { close(r.closed) }

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.violations...)
}

func newPipeSession(t *testing.T, opts Options) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return New("test", server, newTestRegistry(t), zerolog.Nop(), opts), client
}

// rawFrame 构造 VarInt(len) + VarInt(id) + body
func rawFrame(id int32, body []byte) []byte {
	var payload bytes.Buffer
	protocol.NewWriter(&payload).VarInt(id)
	payload.Write(body)

	var frame bytes.Buffer
	protocol.NewWriter(&frame).VarInt(int32(payload.Len()))
	payload.WriteTo(&frame)
	return frame.Bytes()
}

func handshakeBody(t *testing.T, intent int32) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	w.VarInt(766)
	if err := w.String("server_address", "localhost", protocol.MaxServerAddressChars, protocol.MaxServerAddressBytes); err != nil {
		t.Fatal(err)
	}
	w.UnsignedShort(25565)
	w.VarInt(intent)
	return buf.Bytes()
}

func TestSendOrdering(t *testing.T) {
	s, client := newPipeSession(t, Options{OutboundQueue: 256})
	v := s.registry.Default()
	if err := s.BindVersion(v); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	const n = 100
	go func() {
		for i := range n {
			if err := s.Send(&protocol.StatusPong{Payload: int64(i)}); err != nil {
				t.Errorf("发送第 %d 个包失败: %v", i, err)
				return
			}
		}
		s.Close()
	}()

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := 0
	for frame, err := range v.Frames(bufio.NewReader(client)) {
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		d, _ := v.Table().Resolve(protocol.StateStatus, protocol.Clientbound, frame.ID)
		p, err := protocol.DecodePacket(d, frame.Payload)
		if err != nil {
			t.Fatalf("解码失败: %v", err)
		}
		if pong := p.(*protocol.StatusPong); pong.Payload != int64(got) {
			t.Fatalf("第 %d 个包的负载为 %d，顺序错乱", got, pong.Payload)
		}
		got++
	}
	if got != n {
		t.Errorf("期望收到 %d 个包，实际 %d 个", n, got)
	}
	<-done
}

func TestDisconnectOnce(t *testing.T) {
	obs := newRecorder()
	s, client := newPipeSession(t, Options{Observer: obs})
	v := s.registry.Default()
	if err := s.BindVersion(v); err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(protocol.StateLogin); err != nil {
		t.Fatal(err)
	}

	go s.Serve(context.Background())

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Disconnect(chat.Text("bye"))
		}()
	}

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	frames := 0
	for _, err := range v.Frames(bufio.NewReader(client)) {
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		frames++
	}
	wg.Wait()

	if frames != 1 {
		t.Errorf("重复断开应只发送 1 个包，实际 %d 个", frames)
	}
	<-obs.closed
	if s.CloseReason() != "disconnect: bye" {
		t.Errorf("关闭原因不正确: %q", s.CloseReason())
	}
	select {
	case <-s.Context().Done():
	default:
		t.Error("关闭后 Context 应已取消")
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name string
		path []protocol.State
		ok   bool
	}{
		{"握手到状态", []protocol.State{protocol.StateStatus}, true},
		{"握手到登录再到游戏", []protocol.State{protocol.StateLogin, protocol.StatePlay}, true},
		{"握手直接到游戏", []protocol.State{protocol.StatePlay}, false},
		{"状态到登录", []protocol.State{protocol.StateStatus, protocol.StateLogin}, false},
		{"回到握手", []protocol.State{protocol.StateLogin, protocol.StateHandshake}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newPipeSession(t, Options{})
			var err error
			for _, next := range tt.path {
				if err = s.Advance(next); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Errorf("不应失败: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrStateRegression) {
				t.Errorf("期望 ErrStateRegression，实际为 %v", err)
			}
		})
	}
}

func TestBindVersionOnce(t *testing.T) {
	s, _ := newPipeSession(t, Options{})
	v47, _ := s.registry.GetVersion(47)
	v766, _ := s.registry.GetVersion(766)

	if err := s.BindVersion(nil); !errors.Is(err, ErrNoVersion) {
		t.Errorf("绑定 nil 期望 ErrNoVersion，实际为 %v", err)
	}
	if err := s.BindVersion(v47); err != nil {
		t.Fatalf("第一次绑定失败: %v", err)
	}
	if err := s.BindVersion(v766); !errors.Is(err, ErrVersionBound) {
		t.Errorf("期望 ErrVersionBound，实际为 %v", err)
	}
	if s.Version() != v47 {
		t.Error("第二次绑定不应生效")
	}
}

func TestConsumeHandshake(t *testing.T) {
	s, _ := newPipeSession(t, Options{})
	if !s.ConsumeHandshake() {
		t.Fatal("第一次应返回 true")
	}
	if s.ConsumeHandshake() {
		t.Error("第二次应返回 false")
	}
}

func TestOutboundQueueFull(t *testing.T) {
	s, _ := newPipeSession(t, Options{OutboundQueue: 2})
	if err := s.Send(&protocol.StatusPong{}); !errors.Is(err, ErrNoVersion) {
		t.Errorf("未绑定版本时期望 ErrNoVersion，实际为 %v", err)
	}
	if err := s.BindVersion(s.registry.Default()); err != nil {
		t.Fatal(err)
	}

	// 没有写协程，队列只进不出
	for i := range 2 {
		if err := s.Send(&protocol.StatusPong{Payload: int64(i)}); err != nil {
			t.Fatalf("第 %d 次发送失败: %v", i, err)
		}
	}
	if err := s.Send(&protocol.StatusPong{}); !errors.Is(err, ErrOutboundFull) {
		t.Fatalf("期望 ErrOutboundFull，实际为 %v", err)
	}
	if !s.Closed() || s.CloseReason() != "outbound queue full" {
		t.Errorf("队列满后应关闭会话，原因 %q", s.CloseReason())
	}
	if err := s.Send(&protocol.StatusPong{}); !errors.Is(err, ErrClosed) {
		t.Errorf("关闭后期望 ErrClosed，实际为 %v", err)
	}
}

func TestInboundViolations(t *testing.T) {
	tests := []struct {
		name  string
		input func(t *testing.T) []byte
		kind  string
	}{
		{"未知包ID", func(*testing.T) []byte { return rawFrame(0x7f, nil) }, ViolationUnknownPacket},
		{"帧超过上限", func(*testing.T) []byte {
			var buf bytes.Buffer
			protocol.NewWriter(&buf).VarInt(protocol.DefaultMaxServerboundSize + 1)
			return buf.Bytes()
		}, ViolationFraming},
		{"包体过短", func(*testing.T) []byte { return rawFrame(0x00, []byte{0x01}) }, ViolationFraming},
		{"枚举越界", func(t *testing.T) []byte { return rawFrame(0x00, handshakeBody(t, 3)) }, ViolationDecode},
		// 占位监听器不处理握手
		{"监听器不接受", func(t *testing.T) []byte { return rawFrame(0x00, handshakeBody(t, 2)) }, ViolationWrongState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := newRecorder()
			s, client := newPipeSession(t, Options{Observer: obs})
			input := tt.input(t)

			done := make(chan error, 1)
			go func() { done <- s.Serve(context.Background()) }()
			go func() { _, _ = client.Write(input) }()

			_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
			out, err := io.ReadAll(client)
			if err != nil {
				t.Fatalf("读取失败: %v", err)
			}
			if len(out) != 0 {
				t.Errorf("违规后不应有任何响应，实际 %d 字节", len(out))
			}

			if err := <-done; err == nil {
				t.Error("Serve 应返回入站错误")
			}
			<-obs.closed
			if kinds := obs.kinds(); len(kinds) != 1 || kinds[0] != tt.kind {
				t.Errorf("期望违规 %s，实际 %v", tt.kind, kinds)
			}
		})
	}
}

func TestServeStopsOnContext(t *testing.T) {
	obs := newRecorder()
	s, _ := newPipeSession(t, Options{Observer: obs})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("取消后不应返回错误: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("取消后 Serve 没有返回")
	}
	<-obs.closed
	if len(obs.kinds()) != 0 {
		t.Errorf("不应记录违规: %v", obs.kinds())
	}
}

func TestPeerCloseIsClean(t *testing.T) {
	obs := newRecorder()
	s, client := newPipeSession(t, Options{Observer: obs})
	client.Close()

	if err := s.Serve(context.Background()); err != nil {
		t.Errorf("对端正常关闭不应返回错误: %v", err)
	}
	<-obs.closed
	if kinds := obs.kinds(); len(kinds) != 0 {
		t.Errorf("对端正常关闭不应记录违规: %v", kinds)
	}
	if s.CloseReason() != "peer closed" {
		t.Errorf("关闭原因不正确: %q", s.CloseReason())
	}
}

func TestManager(t *testing.T) {
	m := NewManager(4)
	registry := newTestRegistry(t)

	var sessions []*Session
	for i, state := range []protocol.State{protocol.StateHandshake, protocol.StateStatus, protocol.StateLogin} {
		server, client := net.Pipe()
		t.Cleanup(func() { client.Close() })
		s := New(string(rune('a'+i)), server, registry, zerolog.Nop(), Options{})
		if state != protocol.StateHandshake {
			if err := s.BindVersion(registry.Default()); err != nil {
				t.Fatal(err)
			}
			if err := s.Advance(state); err != nil {
				t.Fatal(err)
			}
		}
		m.Store(s)
		sessions = append(sessions, s)
	}
	m.Store(sessions[0])

	if m.Count() != 3 {
		t.Fatalf("期望 3 个会话，实际 %d", m.Count())
	}
	if got, ok := m.Load("b"); !ok || got != sessions[1] {
		t.Error("按 ID 查找失败")
	}

	counts := m.CountByState()
	for _, state := range []protocol.State{protocol.StateHandshake, protocol.StateStatus, protocol.StateLogin} {
		if counts[state] != 1 {
			t.Errorf("%s 状态期望 1 个，实际 %d", state, counts[state])
		}
	}

	// 未绑定版本的会话跳过
	if n := m.Broadcast(&protocol.StatusPong{Payload: 7}, nil); n != 2 {
		t.Errorf("广播期望送达 2 个会话，实际 %d", n)
	}
	onlyLogin := func(s *Session) bool { return s.State() == protocol.StateLogin }
	if n := m.Broadcast(&protocol.StatusPong{Payload: 8}, onlyLogin); n != 1 {
		t.Errorf("过滤后期望送达 1 个会话，实际 %d", n)
	}

	m.Delete("a")
	m.Delete("a")
	if m.Count() != 2 {
		t.Errorf("删除后期望 2 个会话，实际 %d", m.Count())
	}

	if n := m.CleanupExpired(time.Hour); n != 0 {
		t.Errorf("不应清理新会话，实际清理 %d", n)
	}
	time.Sleep(5 * time.Millisecond)
	if n := m.CleanupExpired(time.Millisecond); n != 2 {
		t.Errorf("期望清理 2 个会话，实际 %d", n)
	}
	if m.Count() != 0 || !sessions[1].Closed() {
		t.Error("清理后会话应被关闭并移出")
	}
}
