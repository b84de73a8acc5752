package network

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
)

type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.remote }

type recordingHandler struct {
	rejected []string
}

func (h *recordingHandler) HandleConnection(context.Context, *Connection) error { return nil }

func (h *recordingHandler) ConnectionRejected(_ net.Addr, reason string) {
	h.rejected = append(h.rejected, reason)
}

func TestNewConnection(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	raw := addrConn{Conn: a, remote: &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 50000}}
	conn, err := newConnection(raw, "0.0.0.0:25565", zerolog.Nop())
	if err != nil {
		t.Fatalf("创建连接失败: %v", err)
	}
	if conn.RemoteIP != "203.0.113.9" {
		t.Errorf("期望远程 IP 为 203.0.113.9，实际为 %s", conn.RemoteIP)
	}
	if conn.ListenAddr != "0.0.0.0:25565" || conn.ID == "" {
		t.Errorf("连接字段不正确: %+v", conn)
	}

	other, _ := newConnection(raw, "0.0.0.0:25565", zerolog.Nop())
	if other.ID == conn.ID {
		t.Error("连接 ID 不应重复")
	}

	ctx := withConnection(context.Background(), conn)
	if got, ok := ConnectionFrom(ctx); !ok || got != conn {
		t.Error("应能从上下文取回连接")
	}
	if _, ok := ConnectionFrom(context.Background()); ok {
		t.Error("空上下文不应有连接")
	}
}

func TestNewConnectionBadAddress(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	// net.Pipe 的地址没有端口
	if _, err := newConnection(a, ":25565", zerolog.Nop()); err == nil {
		t.Error("无法解析的远程地址应报错")
	}
}

func TestReject(t *testing.T) {
	h := &recordingHandler{}
	reject(h, nil, RejectMaxConnections)
	if len(h.rejected) != 1 || h.rejected[0] != RejectMaxConnections {
		t.Errorf("应通知处理器拒绝原因，实际为 %v", h.rejected)
	}
}
