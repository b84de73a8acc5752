package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFraming 字节流层面的越界，连接已不可信
	ErrFraming = errors.New("framing error")
	// ErrUnknownPacket 当前 (版本, 状态, 方向) 下没有该包ID
	ErrUnknownPacket = errors.New("unknown packet id")
	// ErrDecode 帧完整但字段非法
	ErrDecode = errors.New("packet decode error")
	// ErrDuplicatePacket 包表注册冲突
	ErrDuplicatePacket = errors.New("duplicate packet registration")
	// ErrUnsupportedVersion 客户端声明的协议版本未注册
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// ErrWrongListener 当前监听器不接受该包
	ErrWrongListener = errors.New("packet not accepted by listener")
)

// FramingError 帧长度或包体大小越界
type FramingError struct {
	Reason string
	Length int
}

func (e *FramingError) Error() string {
	if e.Length != 0 {
		return fmt.Sprintf("framing error: %s (length %d)", e.Reason, e.Length)
	}
	return "framing error: " + e.Reason
}

func (e *FramingError) Unwrap() error { return ErrFraming }

// UnknownPacketError 未注册的包ID
type UnknownPacketError struct {
	Version   int32
	State     State
	Direction Direction
	ID        int32
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("unknown packet id %#02x (version %d, %s, %s)", e.ID, e.Version, e.State, e.Direction)
}

func (e *UnknownPacketError) Unwrap() error { return ErrUnknownPacket }

// DecodeError 字段解析失败
type DecodeError struct {
	Packet string
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Packet == "" {
		return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s.%s: %v", e.Packet, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

func fieldError(field string, err error) error {
	return &DecodeError{Field: field, Err: err}
}
