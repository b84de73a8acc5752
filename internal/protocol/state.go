package protocol

import "fmt"

// State 连接所处的协议阶段
type State int8

const (
	StateHandshake State = iota // 初始状态
	StateStatus
	StateLogin
	StatePlay // 前端的终点，之后交给游戏逻辑
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "HANDSHAKE"
	case StateStatus:
		return "STATUS"
	case StateLogin:
		return "LOGIN"
	case StatePlay:
		return "PLAY"
	}
	return fmt.Sprintf("State(%d)", int8(s))
}

// CanAdvanceTo 状态只允许前进：HANDSHAKE → STATUS|LOGIN，LOGIN → PLAY
func (s State) CanAdvanceTo(next State) bool {
	switch s {
	case StateHandshake:
		return next == StateStatus || next == StateLogin
	case StateLogin:
		return next == StatePlay
	}
	return false
}

// Direction 数据包方向
type Direction int8

const (
	Serverbound Direction = iota // 客户端 → 服务器
	Clientbound                  // 服务器 → 客户端
)

func (d Direction) String() string {
	if d == Serverbound {
		return "serverbound"
	}
	return "clientbound"
}
