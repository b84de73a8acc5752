package protocol

// Revision 一个线上协议修订的静态描述
type Revision struct {
	ID      int32
	Name    string
	Aliases []string
	Stable  bool
	// LoginWithID 登录开始包是否携带 UUID（1.20.2 起）
	LoginWithID bool
}

// KnownRevisions 内置支持的协议修订，按协议号升序
var KnownRevisions = []Revision{
	{ID: 47, Name: "1.8", Aliases: []string{"1.8.8", "1.8.9"}, Stable: true},
	{ID: 340, Name: "1.12.2", Stable: true},
	{ID: 765, Name: "1.20.4", Aliases: []string{"1.20.3"}, Stable: true, LoginWithID: true},
	{ID: 766, Name: "1.20.6", Aliases: []string{"1.20.5"}, Stable: true, LoginWithID: true},
}

const (
	loginDisconnectMaxSize = MaxVarIntLen + MaxChatLen*maxUTF8PerRune
	statusResponseMaxSize  = MaxVarIntLen + MaxStringLen*maxUTF8PerRune
)

// NewTable 为该修订构造一张独立的包表，各版本之间不共享
func (rev Revision) NewTable() *PacketTable {
	t := NewPacketTable().MustRegister(
		Describe[Handshake](StateHandshake, Serverbound, 0x00, "handshake", handshakeMinSize, handshakeMaxSize),

		Describe[StatusRequest](StateStatus, Serverbound, 0x00, "status_request", 0, 0),
		Describe[StatusPing](StateStatus, Serverbound, 0x01, "status_ping", 8, 8),
		Describe[StatusResponse](StateStatus, Clientbound, 0x00, "status_response", 1, statusResponseMaxSize),
		Describe[StatusPong](StateStatus, Clientbound, 0x01, "status_pong", 8, 8),

		Describe[LoginDisconnect](StateLogin, Clientbound, 0x00, "login_disconnect", 1, loginDisconnectMaxSize),
	)

	if rev.LoginWithID {
		t.MustRegister(Describe[LoginStartWithID](StateLogin, Serverbound, 0x00, "login_start", 1+16, 1+MaxUsernameBytes+16))
	} else {
		t.MustRegister(Describe[LoginStart](StateLogin, Serverbound, 0x00, "login_start", 1, 1+MaxUsernameBytes))
	}
	return t
}
