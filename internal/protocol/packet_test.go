package protocol

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/Tnze/go-mc/chat"
	"github.com/google/uuid"
)

func TestPacketTableResolveAll(t *testing.T) {
	for _, rev := range KnownRevisions {
		table := rev.NewTable()
		for _, d := range table.Descriptors() {
			got, ok := table.Resolve(d.State, d.Direction, d.ID)
			if !ok {
				t.Errorf("%s: 无法解析已注册的 %s", rev.Name, d)
				continue
			}
			if got.Type != d.Type {
				t.Errorf("%s: %s 解析为 %s", rev.Name, d, got)
			}

			described, ok := table.Describe(got.New())
			if !ok || described != got {
				t.Errorf("%s: 类型 %s 反查失败", rev.Name, d.Type)
			}
		}
	}
}

func TestPacketTableRejectsDuplicates(t *testing.T) {
	table := NewPacketTable().MustRegister(
		Describe[StatusRequest](StateStatus, Serverbound, 0x00, "status_request", 0, 0),
	)

	t.Run("相同ID", func(t *testing.T) {
		err := table.Register(Describe[StatusPing](StateStatus, Serverbound, 0x00, "status_ping", 8, 8))
		if !errors.Is(err, ErrDuplicatePacket) {
			t.Errorf("期望 ErrDuplicatePacket，实际为 %v", err)
		}
		if d, _ := table.Resolve(StateStatus, Serverbound, 0x00); d.Name != "status_request" {
			t.Errorf("冲突注册不应覆盖原有描述，实际为 %s", d.Name)
		}
	})

	t.Run("相同类型", func(t *testing.T) {
		err := table.Register(Describe[StatusRequest](StateStatus, Serverbound, 0x05, "again", 0, 0))
		if !errors.Is(err, ErrDuplicatePacket) {
			t.Errorf("期望 ErrDuplicatePacket，实际为 %v", err)
		}
	})

	t.Run("不同方向可复用ID", func(t *testing.T) {
		err := table.Register(Describe[StatusResponse](StateStatus, Clientbound, 0x00, "status_response", 1, Unbounded))
		if err != nil {
			t.Errorf("不同方向的同一ID应允许注册: %v", err)
		}
	})

	t.Run("非法大小范围", func(t *testing.T) {
		err := table.Register(Describe[StatusPong](StateStatus, Clientbound, 0x01, "status_pong", 8, 4))
		if err == nil {
			t.Error("max < min 应该注册失败")
		}
	})

	t.Run("MustRegister冲突时panic", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("期望 panic")
			}
		}()
		table.MustRegister(Describe[StatusPing](StateStatus, Serverbound, 0x00, "status_ping", 8, 8))
	})
}

func TestTablesAreIndependent(t *testing.T) {
	modern := KnownRevisions[len(KnownRevisions)-1].NewTable()
	legacy := KnownRevisions[0].NewTable()

	if modern.Owns(&LoginStart{}) {
		t.Error("新版本包表不应包含旧版登录包")
	}
	if legacy.Owns(&LoginStartWithID{}) {
		t.Error("旧版本包表不应包含带UUID的登录包")
	}

	d, _ := legacy.Resolve(StateLogin, Serverbound, 0x00)
	if d.Type != reflect.TypeFor[LoginStart]() {
		t.Errorf("旧版本 login 0x00 应为 LoginStart，实际为 %s", d.Type)
	}
}

func TestDecodePacketSizeBounds(t *testing.T) {
	table := KnownRevisions[0].NewTable()
	ping, _ := table.Resolve(StateStatus, Serverbound, 0x01)
	request, _ := table.Resolve(StateStatus, Serverbound, 0x00)

	tests := []struct {
		name    string
		desc    *Descriptor
		payload []byte
	}{
		{"ping过短", ping, make([]byte, 7)},
		{"ping过长", ping, make([]byte, 9)},
		{"request带字段", request, []byte{0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePacket(tt.desc, tt.payload)
			if !errors.Is(err, ErrFraming) {
				t.Errorf("期望 ErrFraming，实际为 %v", err)
			}
			if p != nil {
				t.Errorf("出错时不应返回包对象，实际为 %#v", p)
			}
		})
	}
}

func TestDecodePacketMalformedField(t *testing.T) {
	table := KnownRevisions[0].NewTable()
	hs, _ := table.Resolve(StateHandshake, Serverbound, 0x00)

	// protocol=47, address="a", port=25565, next_state=3
	payload := []byte{0x2f, 0x01, 'a', 0x63, 0xdd, 0x03}
	p, err := DecodePacket(hs, payload)
	if p != nil {
		t.Errorf("出错时不应返回包对象，实际为 %#v", p)
	}

	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("期望 *DecodeError，实际为 %v", err)
	}
	if de.Packet != "handshake" || de.Field != "next_state" {
		t.Errorf("错误定位不正确: %s.%s", de.Packet, de.Field)
	}
	if errors.Is(err, ErrUnknownPacket) {
		t.Error("字段错误不应被识别为未知包")
	}
}

// roundTrip 编码后按同一描述解码
func roundTrip(t *testing.T, table *PacketTable, p Packet) Packet {
	t.Helper()
	d, ok := table.Describe(p)
	if !ok {
		t.Fatalf("包表中没有 %T", p)
	}

	var buf bytes.Buffer
	if err := EncodePacket(d, p, &buf); err != nil {
		t.Fatalf("编码 %T 失败: %v", p, err)
	}

	r := NewReader(buf.Bytes())
	id, err := r.VarInt("id")
	if err != nil || id != d.ID {
		t.Fatalf("包ID不正确: %d (%v)", id, err)
	}
	body := buf.Bytes()[len(buf.Bytes())-r.Remaining():]

	got, err := DecodePacket(d, body)
	if err != nil {
		t.Fatalf("解码 %T 失败: %v", p, err)
	}
	return got
}

func TestPacketRoundTrip(t *testing.T) {
	modern := KnownRevisions[len(KnownRevisions)-1].NewTable()
	legacy := KnownRevisions[0].NewTable()

	tests := []struct {
		name  string
		table *PacketTable
		p     Packet
	}{
		{"握手最小值", modern, &Handshake{ProtocolVersion: 0, ServerAddress: "", ServerPort: 0, Intent: IntentStatus}},
		{"握手最大值", modern, &Handshake{
			ProtocolVersion: math.MaxInt32,
			ServerAddress:   strings.Repeat("é", MaxServerAddressChars),
			ServerPort:      math.MaxUint16,
			Intent:          IntentLogin,
		}},
		{"握手负协议号", modern, &Handshake{ProtocolVersion: -1, ServerAddress: "mc.example.com", ServerPort: 25565, Intent: IntentLogin}},
		{"状态请求", modern, &StatusRequest{}},
		{"ping", modern, &StatusPing{Payload: math.MinInt64}},
		{"pong", modern, &StatusPong{Payload: math.MaxInt64}},
		{"旧版登录", legacy, &LoginStart{Username: strings.Repeat("a", MaxUsernameChars)}},
		{"旧版登录空用户名", legacy, &LoginStart{Username: ""}},
		{"新版登录", modern, &LoginStartWithID{Username: "Valid_Name1", PlayerID: uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.table, tt.p)
			if !reflect.DeepEqual(got, tt.p) {
				t.Errorf("往返结果不一致: 期望 %#v，实际为 %#v", tt.p, got)
			}
		})
	}
}

func TestChatPacketRoundTrip(t *testing.T) {
	table := KnownRevisions[len(KnownRevisions)-1].NewTable()

	t.Run("状态响应", func(t *testing.T) {
		want := &StatusResponse{
			VersionName:     "1.20.6",
			VersionProtocol: 766,
			MaxPlayers:      100,
			OnlinePlayers:   3,
			PlayerSample: []PlayerSample{
				{Name: "Notch", ID: uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")},
			},
			MOTD:    chat.Text("A Minecraft Server"),
			Favicon: "data:image/png;base64,AAAA",
		}
		got := roundTrip(t, table, want).(*StatusResponse)

		if got.VersionName != want.VersionName || got.VersionProtocol != want.VersionProtocol {
			t.Errorf("版本信息不一致: %s/%d", got.VersionName, got.VersionProtocol)
		}
		if got.MaxPlayers != want.MaxPlayers || got.OnlinePlayers != want.OnlinePlayers {
			t.Errorf("人数不一致: %d/%d", got.OnlinePlayers, got.MaxPlayers)
		}
		if !reflect.DeepEqual(got.PlayerSample, want.PlayerSample) {
			t.Errorf("玩家样本不一致: %v", got.PlayerSample)
		}
		if got.MOTD.Text != want.MOTD.Text {
			t.Errorf("MOTD 不一致: %q", got.MOTD.Text)
		}
		if got.Favicon != want.Favicon {
			t.Errorf("favicon 不一致: %q", got.Favicon)
		}
	})

	t.Run("登录断开", func(t *testing.T) {
		want := &LoginDisconnect{Reason: chat.Text("bye")}
		got := roundTrip(t, table, want).(*LoginDisconnect)
		if got.Reason.Text != "bye" {
			t.Errorf("断开原因不一致: %q", got.Reason.Text)
		}
	})
}

func TestUsernameTooLongIsDecodeError(t *testing.T) {
	table := KnownRevisions[0].NewTable()
	d, _ := table.Resolve(StateLogin, Serverbound, 0x00)

	var buf bytes.Buffer
	name := strings.Repeat("a", MaxUsernameChars+1)
	NewWriter(&buf).VarInt(int32(len(name)))
	buf.WriteString(name)

	if _, err := DecodePacket(d, buf.Bytes()); !errors.Is(err, ErrDecode) {
		t.Errorf("超长用户名应为解码错误，实际为 %v", err)
	}
}
