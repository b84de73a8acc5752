//go:build !windows

package network

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cloudwego/netpoll"
	"github.com/rs/zerolog"

	"mc-frontend/internal/config"
)

// Server 网络服务器 (Unix 版本，使用 netpoll)，每个监听地址一个事件循环
type Server struct {
	config    *config.Config
	logger    zerolog.Logger
	loops     []*listenLoop
	handler   ConnectionHandler
	running   atomic.Bool
	connCount atomic.Int64
	ctx       context.Context
}

type listenLoop struct {
	addr      string
	listener  netpoll.Listener
	eventLoop netpoll.EventLoop
}

// NewServer 创建新的服务器 (Unix 版本)
func NewServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, handler ConnectionHandler) (*Server, error) {
	server := &Server{
		config:  cfg,
		logger:  logger.With().Str("component", "network").Logger(),
		handler: handler,
		ctx:     ctx,
	}

	for _, addr := range cfg.ListenAddresses() {
		loop, err := server.newLoop(addr)
		if err != nil {
			server.closeListeners()
			return nil, err
		}
		server.loops = append(server.loops, loop)
	}

	server.logger.Debug().Int("listeners", len(server.loops)).Msg("网络服务器创建成功 (Unix)")
	return server, nil
}

func (s *Server) newLoop(addr string) (*listenLoop, error) {
	listener, err := netpoll.CreateListener("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("创建监听器失败 %s: %w", addr, err)
	}

	eventLoop, err := netpoll.NewEventLoop(
		s.onRequest,
		netpoll.WithOnPrepare(func(connection netpoll.Connection) context.Context {
			return s.onPrepare(addr, connection)
		}),
		netpoll.WithReadTimeout(s.config.Server.ReadTimeout),
		netpoll.WithIdleTimeout(s.config.Server.IdleTimeout),
	)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("创建事件循环失败: %w", err)
	}
	if eventLoop == nil {
		listener.Close()
		return nil, fmt.Errorf("事件循环创建返回 nil")
	}
	return &listenLoop{addr: addr, listener: listener, eventLoop: eventLoop}, nil
}

func (s *Server) closeListeners() {
	for _, l := range s.loops {
		l.listener.Close()
	}
}

// Start 启动所有事件循环并阻塞，任一循环出错即返回
func (s *Server) Start() error {
	if s == nil {
		return fmt.Errorf("服务器实例为 nil")
	}
	if len(s.loops) == 0 {
		return fmt.Errorf("没有可用的监听器")
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("服务器已经在运行")
	}

	go s.lifecycleManager()

	errCh := make(chan error, len(s.loops))
	for _, l := range s.loops {
		s.logger.Info().
			Str("address", l.addr).
			Int("max_connections", s.config.Server.MaxConnections).
			Msg("启动网络服务器 (Unix)")
		go func() {
			errCh <- l.eventLoop.Serve(l.listener)
		}()
	}

	for range s.loops {
		if err := <-errCh; err != nil && s.running.Load() {
			return fmt.Errorf("事件循环退出: %w", err)
		}
	}
	return nil
}

// lifecycleManager 收到关闭信号后停止所有事件循环
func (s *Server) lifecycleManager() {
	<-s.ctx.Done()

	s.logger.Info().Msg("收到关闭信号，开始停止网络服务器")
	s.running.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, l := range s.loops {
		if err := l.eventLoop.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Str("address", l.addr).Msg("停止事件循环失败")
		}
	}
	s.logger.Info().Msg("网络服务器已停止")
}

// onPrepare 连接准备回调
func (s *Server) onPrepare(listenAddr string, connection netpoll.Connection) context.Context {
	if s.connCount.Load() >= int64(s.config.Server.MaxConnections) {
		s.logger.Debug().
			Str("remote_addr", connection.RemoteAddr().String()).
			Msg("连接数达到上限，拒绝连接")
		reject(s.handler, connection.RemoteAddr(), RejectMaxConnections)
		connection.Close()
		return s.ctx
	}

	conn, err := newConnection(connection, listenAddr, s.logger)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", connection.RemoteAddr().String()).
			Msg("解析远程地址失败")
		reject(s.handler, connection.RemoteAddr(), RejectBadAddress)
		connection.Close()
		return s.ctx
	}

	connection.AddCloseCallback(func(netpoll.Connection) error {
		s.onConnectionClose(conn)
		return nil
	})
	s.connCount.Add(1)

	return withConnection(s.ctx, conn)
}

// onRequest 请求处理回调；处理器阻塞读取直到连接结束
func (s *Server) onRequest(ctx context.Context, connection netpoll.Connection) error {
	conn, ok := ConnectionFrom(ctx)
	if !ok {
		connection.Close()
		return nil
	}

	if err := s.handler.HandleConnection(ctx, conn); err != nil {
		conn.Logger.Debug().Err(err).Msg("处理连接失败")
		connection.Close()
		return err
	}
	return nil
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
	addrs := make([]string, 0, len(s.loops))
	for _, l := range s.loops {
		addrs = append(addrs, l.addr)
	}
	return map[string]any{
		"connection_count": s.connCount.Load(),
		"running":          s.running.Load(),
		"listeners":        addrs,
	}
}
