package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"

	"github.com/Tnze/go-mc/chat"
	pk "github.com/Tnze/go-mc/net/packet"

	"mc-frontend/internal/pool"
)

var encodeBuffers = pool.NewBufferPool(512, 64*1024)

// 协议默认的入站大小上限
const (
	DefaultMaxServerboundSize           = 1<<21 - 1 // 3 字节 VarInt 能表示的最大长度
	DefaultMaxServerboundCompressedSize = 1 << 23
)

// Settings 版本级设置：0 表示协议默认值，-1 表示不限制
type Settings struct {
	MaxServerboundSize           int
	MaxServerboundCompressedSize int
}

// resolveCap 把 0 / -1 / 正数三种取值折算为实际上限
func resolveCap(v, def int) int {
	switch {
	case v == 0:
		return def
	case v < 0:
		return math.MaxInt32
	}
	return v
}

// Frame 一个完整的长度前缀帧，已拆出包ID
type Frame struct {
	ID      int32
	Payload []byte
}

// FrameSource 帧读取所需的字节源
type FrameSource interface {
	io.Reader
	io.ByteReader
}

// VersionSpec 构造 Version 的参数
type VersionSpec struct {
	ID        int32
	Name      string
	Aliases   []string
	Stable    bool
	Table     *PacketTable
	Settings  Settings
	Listeners ListenerFactory
}

// Version 一个线上协议修订，注册后不可变
type Version struct {
	id      int32
	name    string
	aliases []string
	stable  bool

	registry  *Registry
	table     *PacketTable
	listeners ListenerFactory

	maxServerbound           int
	maxServerboundCompressed int
}

// NewVersion 创建协议版本，大小上限在此一次性折算
func NewVersion(spec VersionSpec) (*Version, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("version %d: empty name", spec.ID)
	}
	if spec.Table == nil {
		return nil, fmt.Errorf("version %s: nil packet table", spec.Name)
	}
	if spec.Listeners == nil {
		return nil, fmt.Errorf("version %s: nil listener factory", spec.Name)
	}
	if spec.Settings.MaxServerboundSize < Unbounded || spec.Settings.MaxServerboundCompressedSize < Unbounded {
		return nil, fmt.Errorf("version %s: size caps must be -1, 0 or positive", spec.Name)
	}

	return &Version{
		id:                       spec.ID,
		name:                     spec.Name,
		aliases:                  append([]string(nil), spec.Aliases...),
		stable:                   spec.Stable,
		table:                    spec.Table,
		listeners:                spec.Listeners,
		maxServerbound:           resolveCap(spec.Settings.MaxServerboundSize, DefaultMaxServerboundSize),
		maxServerboundCompressed: resolveCap(spec.Settings.MaxServerboundCompressedSize, DefaultMaxServerboundCompressedSize),
	}, nil
}

func (v *Version) ID() int32 { return v.id }
func (v *Version) Name() string { return v.name }
func (v *Version) Aliases() []string { return append([]string(nil), v.aliases...) }
func (v *Version) Stable() bool { return v.stable }
func (v *Version) Registry() *Registry { return v.registry }
func (v *Version) Table() *PacketTable { return v.table }
func (v *Version) MaxServerboundSize() int { return v.maxServerbound }

// MaxServerboundCompressedSize 压缩后的上限；压缩本身不在前端实现，仅供下游读取
func (v *Version) MaxServerboundCompressedSize() int { return v.maxServerboundCompressed }

func (v *Version) String() string {
	return fmt.Sprintf("%s(%d)", v.name, v.id)
}

// IsPacket 该版本的包表是否包含此包类型
func (v *Version) IsPacket(p Packet) bool {
	return v.table.Owns(p)
}

// Frames 把字节流惰性切分为帧；流在帧边界正常结束时序列结束，其余错误产出一次后结束
func (v *Version) Frames(src FrameSource) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			frame, err := v.readFrame(src)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

func (v *Version) readFrame(src FrameSource) (Frame, error) {
	length, n, err := readVarInt(src)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, &FramingError{Reason: "stream ended inside length prefix"}
		}
		if errors.Is(err, errVarIntTooLong) {
			return Frame{}, &FramingError{Reason: "length prefix longer than 5 bytes"}
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) || errors.Is(err, io.ErrClosedPipe) {
			return Frame{}, err
		}
		return Frame{}, &FramingError{Reason: err.Error()}
	}

	size := int(length)
	if size <= 0 {
		return Frame{}, &FramingError{Reason: "empty or negative frame", Length: size}
	}
	if size > v.maxServerbound {
		return Frame{}, &FramingError{Reason: "frame exceeds serverbound limit", Length: size}
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(src, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, &FramingError{Reason: "stream ended inside frame", Length: size}
		}
		return Frame{}, err
	}

	r := bytes.NewReader(buf)
	id, _, err := readVarInt(r)
	if err != nil {
		return Frame{}, &FramingError{Reason: "malformed packet id", Length: size}
	}
	return Frame{ID: id, Payload: buf[size-r.Len():]}, nil
}

// Decode 用本版本的包表解析入站帧
func (v *Version) Decode(state State, f Frame) (ServerboundPacket, error) {
	d, ok := v.table.Resolve(state, Serverbound, f.ID)
	if !ok {
		return nil, &UnknownPacketError{Version: v.id, State: state, Direction: Serverbound, ID: f.ID}
	}
	p, err := DecodePacket(d, f.Payload)
	if err != nil {
		return nil, err
	}
	sp, ok := p.(ServerboundPacket)
	if !ok {
		return nil, fmt.Errorf("%s registered serverbound without a handler", d.Name)
	}
	return sp, nil
}

// Encode 编码出站包为完整帧：VarInt(长度) + VarInt(ID) + 字段
func (v *Version) Encode(p Packet) ([]byte, error) {
	d, ok := v.table.Describe(p)
	if !ok || d.Direction != Clientbound {
		return nil, fmt.Errorf("%s is not a clientbound packet of version %s", packetType(p), v)
	}

	body := encodeBuffers.Get()
	defer encodeBuffers.Put(body)
	if err := EncodePacket(d, p, body); err != nil {
		return nil, err
	}

	// 返回的帧会进入发送队列，不能与池中的缓冲区共享底层数组
	frame := bytes.NewBuffer(make([]byte, 0, body.Len()+MaxVarIntLen))
	_, _ = pk.VarInt(body.Len()).WriteTo(frame)
	_, _ = body.WriteTo(frame)
	return frame.Bytes(), nil
}

// HandleIncoming 把包交给会话当前安装的监听器
func (v *Version) HandleIncoming(s Session, p ServerboundPacket) error {
	return p.Handle(s.Listener())
}

// SendOutgoing 编码并写入会话的发送队列
func (v *Version) SendOutgoing(s Session, p Packet) error {
	frame, err := v.Encode(p)
	if err != nil {
		return err
	}
	return s.WriteFrame(frame)
}

// SetListener 为会话安装本版本在该状态下的监听器
func (v *Version) SetListener(s Session, state State) error {
	l, err := v.listeners.NewListener(v, s, state)
	if err != nil {
		return err
	}
	s.SetListener(l)
	return nil
}

// CreateHandler 创建新连接的初始（握手）监听器
func (v *Version) CreateHandler(s Session) (Listener, error) {
	return v.listeners.NewListener(v, s, StateHandshake)
}

// DisconnectPacket 返回该状态下可携带原因的断开包；没有对应包时返回 false
func (v *Version) DisconnectPacket(state State, reason chat.Message) (Packet, bool) {
	if state != StateLogin {
		return nil, false
	}
	p := &LoginDisconnect{Reason: reason}
	if !v.table.Owns(p) {
		return nil, false
	}
	return p, true
}
