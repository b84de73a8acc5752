package protocol

import "fmt"

// Intent 握手包中请求进入的下一个状态
type Intent int32

// 线上取值与 Minecraft Java 协议一致
const (
	IntentStatus Intent = 1
	IntentLogin  Intent = 2
)

// State 对应的连接状态
func (i Intent) State() State {
	if i == IntentLogin {
		return StateLogin
	}
	return StateStatus
}

func (i Intent) String() string {
	switch i {
	case IntentStatus:
		return "status"
	case IntentLogin:
		return "login"
	}
	return fmt.Sprintf("Intent(%d)", int32(i))
}

// 握手包字段上限
const (
	MaxServerAddressChars = 50
	MaxServerAddressBytes = 100

	handshakeMinSize = 1 + 1 + 2 + 1
	handshakeMaxSize = MaxVarIntLen + 1 + MaxServerAddressBytes + 2 + MaxVarIntLen
)

// Handshake 客户端连接后发送的第一个包 (serverbound 0x00)
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	Intent          Intent
}

func (p *Handshake) Decode(r *Reader) (err error) {
	if p.ProtocolVersion, err = r.VarInt("protocol_version"); err != nil {
		return err
	}
	if p.ServerAddress, err = r.String("server_address", MaxServerAddressChars, MaxServerAddressBytes); err != nil {
		return err
	}
	if p.ServerPort, err = r.UnsignedShort("server_port"); err != nil {
		return err
	}
	intent, err := r.Enum("next_state", int32(IntentStatus), int32(IntentLogin))
	if err != nil {
		return err
	}
	p.Intent = Intent(intent)
	return nil
}

func (p *Handshake) Encode(w *Writer) error {
	w.VarInt(p.ProtocolVersion)
	if err := w.String("server_address", p.ServerAddress, MaxServerAddressChars, MaxServerAddressBytes); err != nil {
		return err
	}
	w.UnsignedShort(p.ServerPort)
	return w.Enum("next_state", int32(p.Intent), int32(IntentStatus), int32(IntentLogin))
}

func (p *Handshake) Handle(l Listener) error {
	hl, ok := l.(HandshakeListener)
	if !ok {
		return wrongListener(p, l)
	}
	return hl.HandleHandshake(p)
}
