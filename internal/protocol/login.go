package protocol

import (
	"fmt"

	"github.com/Tnze/go-mc/chat"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// 用户名在解码层只做长度限制，字符集校验由登录流程负责
const (
	MaxUsernameChars = 16
	MaxUsernameBytes = MaxUsernameChars * maxUTF8PerRune
)

// LoginStart 登录开始 (serverbound 0x00)，旧版本只携带用户名
type LoginStart struct {
	Username string
	// PlayerID 客户端自报的 UUID，旧版本为 uuid.Nil
	PlayerID uuid.UUID
}

func (p *LoginStart) Decode(r *Reader) (err error) {
	p.Username, err = r.String("username", MaxUsernameChars, MaxUsernameBytes)
	return err
}

func (p *LoginStart) Encode(w *Writer) error {
	return w.String("username", p.Username, MaxUsernameChars, MaxUsernameBytes)
}

func (p *LoginStart) Handle(l Listener) error {
	ll, ok := l.(LoginListener)
	if !ok {
		return wrongListener(p, l)
	}
	return ll.HandleLoginStart(p)
}

// LoginStartWithID 1.20.2 起的登录开始包，用户名后紧跟 UUID
type LoginStartWithID LoginStart

func (p *LoginStartWithID) Decode(r *Reader) (err error) {
	if p.Username, err = r.String("username", MaxUsernameChars, MaxUsernameBytes); err != nil {
		return err
	}
	p.PlayerID, err = r.UUID("player_id")
	return err
}

func (p *LoginStartWithID) Encode(w *Writer) error {
	if err := w.String("username", p.Username, MaxUsernameChars, MaxUsernameBytes); err != nil {
		return err
	}
	w.UUID(p.PlayerID)
	return nil
}

func (p *LoginStartWithID) Handle(l Listener) error {
	ll, ok := l.(LoginListener)
	if !ok {
		return wrongListener(p, l)
	}
	return ll.HandleLoginStart((*LoginStart)(p))
}

// LoginDisconnect 登录阶段断开连接 (clientbound 0x00)
type LoginDisconnect struct {
	Reason chat.Message
}

func (p *LoginDisconnect) Decode(r *Reader) error {
	raw, err := r.String("reason", MaxChatLen, maxBytesFor(MaxChatLen))
	if err != nil {
		return err
	}
	if err := sonic.UnmarshalString(raw, &p.Reason); err != nil {
		return fieldError("reason", err)
	}
	return nil
}

func (p *LoginDisconnect) Encode(w *Writer) error {
	raw, err := sonic.MarshalString(&p.Reason)
	if err != nil {
		return fieldError("reason", fmt.Errorf("marshal chat: %w", err))
	}
	return w.String("reason", raw, MaxChatLen, maxBytesFor(MaxChatLen))
}
