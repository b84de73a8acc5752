package network

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mc-frontend/internal/logger"
)

// ConnectionHandler 连接处理器，HandleConnection 阻塞直到连接结束
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, conn *Connection) error
}

// RejectObserver 处理器可选实现：连接在交给处理器之前被拒绝时收到通知
type RejectObserver interface {
	ConnectionRejected(remote net.Addr, reason string)
}

// 拒绝原因
const (
	RejectMaxConnections = "max_connections"
	RejectBadAddress     = "bad_address"
)

// Connection 已接受的连接
type Connection struct {
	net.Conn
	ID         string
	RemoteIP   string
	ListenAddr string // 接受此连接的监听地址（配置中的写法）
	StartTime  time.Time
	Logger     zerolog.Logger
}

type connKey struct{}

func withConnection(ctx context.Context, conn *Connection) context.Context {
	return context.WithValue(ctx, connKey{}, conn)
}

// ConnectionFrom 取出上下文中的连接
func ConnectionFrom(ctx context.Context) (*Connection, bool) {
	conn, ok := ctx.Value(connKey{}).(*Connection)
	return conn, ok
}

func newConnection(conn net.Conn, listenAddr string, base zerolog.Logger) (*Connection, error) {
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, err
	}

	connID := uuid.NewString()
	return &Connection{
		Conn:       conn,
		ID:         connID,
		RemoteIP:   remoteIP,
		ListenAddr: listenAddr,
		StartTime:  time.Now(),
		Logger:     logger.ForConnection(base, connID, remoteIP),
	}, nil
}

func reject(handler ConnectionHandler, remote net.Addr, reason string) {
	if ro, ok := handler.(RejectObserver); ok {
		ro.ConnectionRejected(remote, reason)
	}
}
