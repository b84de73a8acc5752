//go:build windows

package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"mc-frontend/internal/config"
)

// Server 网络服务器 (Windows 版本，使用标准库 net)
type Server struct {
	config    *config.Config
	logger    zerolog.Logger
	listeners []*listenLoop
	handler   ConnectionHandler
	running   atomic.Bool
	connCount atomic.Int64
	ctx       context.Context
}

type listenLoop struct {
	addr     string
	listener net.Listener
}

// NewServer 创建新的服务器 (Windows 版本)
func NewServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, handler ConnectionHandler) (*Server, error) {
	server := &Server{
		config:  cfg,
		logger:  logger.With().Str("component", "network").Logger(),
		handler: handler,
		ctx:     ctx,
	}

	for _, addr := range cfg.ListenAddresses() {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			server.closeListeners()
			return nil, fmt.Errorf("创建监听器失败 %s: %w", addr, err)
		}
		server.listeners = append(server.listeners, &listenLoop{addr: addr, listener: listener})
	}

	server.logger.Debug().Int("listeners", len(server.listeners)).Msg("网络服务器创建成功 (Windows)")
	return server, nil
}

func (s *Server) closeListeners() {
	for _, l := range s.listeners {
		l.listener.Close()
	}
}

// Start 启动所有接受循环并阻塞
func (s *Server) Start() error {
	if s == nil {
		return fmt.Errorf("服务器实例为 nil")
	}
	if len(s.listeners) == 0 {
		return fmt.Errorf("没有可用的监听器")
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("服务器已经在运行")
	}

	go s.lifecycleManager()

	errCh := make(chan error, len(s.listeners))
	for _, l := range s.listeners {
		s.logger.Info().
			Str("address", l.addr).
			Int("max_connections", s.config.Server.MaxConnections).
			Msg("启动网络服务器 (Windows)")
		go func() {
			errCh <- s.acceptConnections(l)
		}()
	}

	for range s.listeners {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

// lifecycleManager 生命周期管理
func (s *Server) lifecycleManager() {
	<-s.ctx.Done()

	s.logger.Info().Msg("收到关闭信号，开始停止网络服务器")
	s.running.Store(false)
	s.closeListeners()
	s.logger.Info().Msg("网络服务器已停止")
}

// acceptConnections 接受连接的循环
func (s *Server) acceptConnections(l *listenLoop) error {
	for s.running.Load() {
		conn, err := l.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn().Err(err).Msg("接受连接出现临时错误，重试")
				time.Sleep(50 * time.Millisecond)
				continue
			}

			s.logger.Error().Err(err).Msg("接受连接失败")
			continue
		}

		go s.handleConnection(l.addr, conn)
	}
	return nil
}

// handleConnection 处理单个连接
func (s *Server) handleConnection(listenAddr string, raw net.Conn) {
	if s.connCount.Load() >= int64(s.config.Server.MaxConnections) {
		s.logger.Debug().
			Str("remote_addr", raw.RemoteAddr().String()).
			Msg("连接数达到上限，拒绝连接")
		reject(s.handler, raw.RemoteAddr(), RejectMaxConnections)
		raw.Close()
		return
	}

	conn, err := newConnection(raw, listenAddr, s.logger)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", raw.RemoteAddr().String()).
			Msg("解析远程地址失败")
		reject(s.handler, raw.RemoteAddr(), RejectBadAddress)
		raw.Close()
		return
	}

	s.connCount.Add(1)
	defer s.onConnectionClose(conn)

	if s.config.Server.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.Server.IdleTimeout))
	}
	if err := s.handler.HandleConnection(withConnection(s.ctx, conn), conn); err != nil {
		conn.Logger.Debug().Err(err).Msg("处理连接失败")
	}
	conn.Close()
}

// onConnectionClose 连接关闭回调
func (s *Server) onConnectionClose(conn *Connection) {
	if duration := time.Since(conn.StartTime); duration > 30*time.Second {
		conn.Logger.Info().
			Dur("duration", duration).
			Msg("长连接关闭")
	}
	s.connCount.Add(-1)
}

// GetStats 获取服务器统计信息
func (s *Server) GetStats() map[string]any {
	addrs := make([]string, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.addr)
	}
	return map[string]any{
		"connection_count": s.connCount.Load(),
		"running":          s.running.Load(),
		"listeners":        addrs,
	}
}
