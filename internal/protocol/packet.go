package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"slices"

	pk "github.com/Tnze/go-mc/net/packet"
)

// Unbounded 表示不限制大小
const Unbounded = -1

// Packet 一个已解码的协议消息
type Packet interface {
	Decode(r *Reader) error
	Encode(w *Writer) error
}

// ServerboundPacket 客户端发来的包，知道自己该交给监听器的哪个方法
type ServerboundPacket interface {
	Packet
	Handle(l Listener) error
}

// Descriptor 包类型描述：类型、名称、ID 以及包体大小范围
type Descriptor struct {
	Type      reflect.Type
	Name      string
	ID        int32
	State     State
	Direction Direction
	MinSize   int
	MaxSize   int // Unbounded 表示不限制

	factory func() Packet
}

// Describe 为包类型 P 构造描述
func Describe[P any, PT interface {
	*P
	Packet
}](state State, dir Direction, id int32, name string, minSize, maxSize int) Descriptor {
	return Descriptor{
		Type:      reflect.TypeFor[P](),
		Name:      name,
		ID:        id,
		State:     state,
		Direction: dir,
		MinSize:   minSize,
		MaxSize:   maxSize,
		factory:   func() Packet { return PT(new(P)) },
	}
}

// New 创建一个零值包
func (d *Descriptor) New() Packet {
	return d.factory()
}

// Accepts 检查包体长度是否在范围内
func (d *Descriptor) Accepts(size int) bool {
	if size < d.MinSize {
		return false
	}
	return d.MaxSize == Unbounded || size <= d.MaxSize
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(%#02x %s %s)", d.Name, d.ID, d.State, d.Direction)
}

// packetType 取包的结构体类型
func packetType(p Packet) reflect.Type {
	t := reflect.TypeOf(p)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

type tableKey struct {
	state State
	dir   Direction
	id    int32
}

// PacketTable 单个协议版本内 (状态, 方向, ID) 与包类型的双向映射
// 启动时填充，之后只读
type PacketTable struct {
	byID   map[tableKey]*Descriptor
	byType map[reflect.Type]*Descriptor
}

// NewPacketTable 创建空包表
func NewPacketTable() *PacketTable {
	return &PacketTable{
		byID:   make(map[tableKey]*Descriptor),
		byType: make(map[reflect.Type]*Descriptor),
	}
}

// Register 注册包类型，ID 或类型冲突时报错，不会覆盖
func (t *PacketTable) Register(d Descriptor) error {
	if d.factory == nil || d.Type == nil {
		return fmt.Errorf("register %s: descriptor not built with Describe", d.Name)
	}
	if d.MinSize < 0 || (d.MaxSize != Unbounded && d.MaxSize < d.MinSize) {
		return fmt.Errorf("register %s: invalid size range [%d, %d]", d.Name, d.MinSize, d.MaxSize)
	}

	key := tableKey{state: d.State, dir: d.Direction, id: d.ID}
	if existing, ok := t.byID[key]; ok {
		return fmt.Errorf("%w: %s collides with %s", ErrDuplicatePacket, d.String(), existing.String())
	}
	if existing, ok := t.byType[d.Type]; ok {
		return fmt.Errorf("%w: type %s already registered as %s", ErrDuplicatePacket, d.Type, existing.String())
	}

	desc := d
	t.byID[key] = &desc
	t.byType[d.Type] = &desc
	return nil
}

// MustRegister 注册一组包类型，冲突时 panic（仅用于启动阶段）
func (t *PacketTable) MustRegister(ds ...Descriptor) *PacketTable {
	for _, d := range ds {
		if err := t.Register(d); err != nil {
			panic(err)
		}
	}
	return t
}

// Resolve 根据 (状态, 方向, ID) 查找包描述
func (t *PacketTable) Resolve(state State, dir Direction, id int32) (*Descriptor, bool) {
	d, ok := t.byID[tableKey{state: state, dir: dir, id: id}]
	return d, ok
}

// Describe 根据包实例查找描述
func (t *PacketTable) Describe(p Packet) (*Descriptor, bool) {
	d, ok := t.byType[packetType(p)]
	return d, ok
}

// Owns 包表是否包含该类型
func (t *PacketTable) Owns(p Packet) bool {
	_, ok := t.Describe(p)
	return ok
}

// Descriptors 按 (状态, 方向, ID) 排序的全部描述
func (t *PacketTable) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(t.byID))
	for _, d := range t.byID {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Descriptor) int {
		if a.State != b.State {
			return int(a.State) - int(b.State)
		}
		if a.Direction != b.Direction {
			return int(a.Direction) - int(b.Direction)
		}
		return int(a.ID) - int(b.ID)
	})
	return out
}

// Len 已注册数量
func (t *PacketTable) Len() int {
	return len(t.byID)
}

// DecodePacket 先校验包体大小，再解析字段；失败时不返回任何半成品
func DecodePacket(d *Descriptor, payload []byte) (Packet, error) {
	if !d.Accepts(len(payload)) {
		return nil, &FramingError{
			Reason: fmt.Sprintf("%s payload outside [%d, %d]", d.Name, d.MinSize, d.MaxSize),
			Length: len(payload),
		}
	}

	p := d.New()
	r := NewReader(payload)
	err := p.Decode(r)
	if err == nil {
		err = r.Finish()
	}
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) && de.Packet == "" {
			de.Packet = d.Name
			return nil, de
		}
		return nil, &DecodeError{Packet: d.Name, Field: "?", Err: err}
	}
	return p, nil
}

// EncodePacket 编码包体（不含长度前缀），结果为 VarInt(ID) + 字段
func EncodePacket(d *Descriptor, p Packet, buf *bytes.Buffer) error {
	start := buf.Len()
	_, _ = pk.VarInt(d.ID).WriteTo(buf)
	bodyStart := buf.Len()

	if err := p.Encode(NewWriter(buf)); err != nil {
		buf.Truncate(start)
		return err
	}
	if size := buf.Len() - bodyStart; !d.Accepts(size) {
		buf.Truncate(start)
		return &FramingError{
			Reason: fmt.Sprintf("%s payload outside [%d, %d]", d.Name, d.MinSize, d.MaxSize),
			Length: size,
		}
	}
	return nil
}
