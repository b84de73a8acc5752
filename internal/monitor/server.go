package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mc-frontend/internal/config"
)

// StatsFunc 为 /stats 提供一个分节
type StatsFunc func() map[string]any

// Server 监控 HTTP 服务：健康检查、Prometheus 指标和 JSON 统计
type Server struct {
	cfg     config.MonitoringConfig
	addr    string
	logger  zerolog.Logger
	metrics *Metrics
	perf    *PerformanceMonitor

	mu        sync.RWMutex
	providers map[string]StatsFunc

	engine *gin.Engine
}

// NewServer 创建监控服务
func NewServer(cfg config.MonitoringConfig, addr string, metrics *Metrics, perf *PerformanceMonitor, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		addr:      addr,
		logger:    logger.With().Str("component", "monitor").Logger(),
		metrics:   metrics,
		perf:      perf,
		providers: make(map[string]StatsFunc),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET(cfg.HealthCheckPath, s.handleHealth)
	r.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	r.GET(cfg.StatsPath, s.handleStats)
	s.engine = r

	return s
}

// AddStats 注册 /stats 中的一个分节，同名覆盖
func (s *Server) AddStats(name string, fn StatsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[name] = fn
}

// Handler 返回 HTTP 处理器，测试中直接使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听直到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.addr).Msg("启动监控服务")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("监控服务失败: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("停止监控服务失败: %w", err)
	}
	s.logger.Info().Msg("监控服务已停止")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]StatsFunc, len(names))
	for i, name := range names {
		fns[i] = s.providers[name]
	}
	s.mu.RUnlock()

	body := gin.H{"performance": s.perf.GetStats()}
	for i, name := range names {
		body[name] = fns[i]()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("监控请求")
	}
}
