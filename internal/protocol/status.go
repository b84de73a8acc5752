package protocol

import (
	"fmt"

	"github.com/Tnze/go-mc/chat"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// StatusRequest 服务器列表查询 (serverbound 0x00)，无字段
type StatusRequest struct{}

func (p *StatusRequest) Decode(*Reader) error { return nil }
func (p *StatusRequest) Encode(*Writer) error { return nil }

func (p *StatusRequest) Handle(l Listener) error {
	sl, ok := l.(StatusListener)
	if !ok {
		return wrongListener(p, l)
	}
	return sl.HandleStatusRequest(p)
}

// StatusPing 延迟测量 (serverbound 0x01)
type StatusPing struct {
	Payload int64
}

func (p *StatusPing) Decode(r *Reader) (err error) {
	p.Payload, err = r.Long("payload")
	return err
}

func (p *StatusPing) Encode(w *Writer) error {
	w.Long(p.Payload)
	return nil
}

func (p *StatusPing) Handle(l Listener) error {
	sl, ok := l.(StatusListener)
	if !ok {
		return wrongListener(p, l)
	}
	return sl.HandleStatusPing(p)
}

// StatusPong 原样回显 StatusPing 的负载 (clientbound 0x01)
type StatusPong struct {
	Payload int64
}

func (p *StatusPong) Decode(r *Reader) (err error) {
	p.Payload, err = r.Long("payload")
	return err
}

func (p *StatusPong) Encode(w *Writer) error {
	w.Long(p.Payload)
	return nil
}

// PlayerSample 服务器列表中展示的玩家
type PlayerSample struct {
	Name string    `json:"name"`
	ID   uuid.UUID `json:"id"`
}

// StatusResponse 服务器列表响应 (clientbound 0x00)，线上格式是一段 JSON 文本
type StatusResponse struct {
	VersionName     string
	VersionProtocol int32
	MaxPlayers      int
	OnlinePlayers   int
	PlayerSample    []PlayerSample
	MOTD            chat.Message
	Favicon         string // 可选，data:image/png;base64,...
}

type statusJSON struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int32  `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int            `json:"max"`
		Online int            `json:"online"`
		Sample []PlayerSample `json:"sample,omitempty"`
	} `json:"players"`
	Description chat.Message `json:"description"`
	Favicon     string       `json:"favicon,omitempty"`
}

func (p *StatusResponse) Decode(r *Reader) error {
	raw, err := r.String("json", MaxStringLen, maxBytesFor(MaxStringLen))
	if err != nil {
		return err
	}

	var s statusJSON
	if err := sonic.UnmarshalString(raw, &s); err != nil {
		return fieldError("json", err)
	}

	p.VersionName = s.Version.Name
	p.VersionProtocol = s.Version.Protocol
	p.MaxPlayers = s.Players.Max
	p.OnlinePlayers = s.Players.Online
	p.PlayerSample = s.Players.Sample
	p.MOTD = s.Description
	p.Favicon = s.Favicon
	return nil
}

func (p *StatusResponse) Encode(w *Writer) error {
	var s statusJSON
	s.Version.Name = p.VersionName
	s.Version.Protocol = p.VersionProtocol
	s.Players.Max = p.MaxPlayers
	s.Players.Online = p.OnlinePlayers
	s.Players.Sample = p.PlayerSample
	s.Description = p.MOTD
	s.Favicon = p.Favicon

	raw, err := sonic.MarshalString(&s)
	if err != nil {
		return fieldError("json", fmt.Errorf("marshal status: %w", err))
	}
	return w.String("json", raw, MaxStringLen, maxBytesFor(MaxStringLen))
}
