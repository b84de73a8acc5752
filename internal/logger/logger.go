package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"mc-frontend/internal/config"
)

// Setup 设置日志
func Setup(cfg *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("无效的日志级别 '%s': %w", cfg.Logging.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	console := cfg.Logging.Format == "console"

	switch strings.ToLower(cfg.Logging.Output) {
	case "stdout":
		writers = append(writers, consoleOrRaw(os.Stdout, console))

	case "stderr":
		writers = append(writers, consoleOrRaw(os.Stderr, console))

	case "file":
		logDir := filepath.Dir(cfg.Logging.FilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("创建日志目录失败: %w", err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Logging.FilePath,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		})

		// 控制台格式时同时输出到终端
		if console {
			writers = append(writers, consoleOrRaw(os.Stdout, true))
		}

	default:
		return zerolog.Logger{}, fmt.Errorf("不支持的日志输出类型: %s", cfg.Logging.Output)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	logger := zerolog.New(writer).With().
		Timestamp().
		Str("service", "mc-frontend").
		Logger()

	log.Logger = logger
	return logger, nil
}

func consoleOrRaw(out io.Writer, console bool) io.Writer {
	if console {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

// SecurityLogger 记录被拒绝的连接和协议违规，高频事件按 IP 限流
type SecurityLogger struct {
	logger  zerolog.Logger
	limited *RateLimitedLogger
	audit   *AuditLogger
}

// NewSecurityLogger 创建安全日志记录器，audit 可以为 nil
func NewSecurityLogger(logger zerolog.Logger, audit *AuditLogger) *SecurityLogger {
	l := logger.With().Str("component", "security_logger").Logger()
	return &SecurityLogger{
		logger:  l,
		limited: NewRateLimitedLogger(l, 10*time.Second),
		audit:   audit,
	}
}

// LogProtocolViolation 记录协议违规：帧越界、未知包、字段非法、重复握手
func (sl *SecurityLogger) LogProtocolViolation(ip, violation string, err error) {
	sl.limited.Warn("violation:"+ip).
		Str("event_type", "protocol_violation").
		Str("ip", ip).
		Str("violation", violation).
		Err(err).
		Msg("协议违规")

	reason := violation
	if err != nil {
		reason = violation + ": " + err.Error()
	}
	if werr := sl.audit.LogProtocolViolation(ip, reason); werr != nil {
		sl.logger.Error().Err(werr).Msg("写入审计日志失败")
	}
}

// LogUnsupportedVersion 记录客户端使用了未注册的协议版本
func (sl *SecurityLogger) LogUnsupportedVersion(ip string, protocolVersion int32) {
	sl.limited.Info("unsupported:"+ip).
		Str("event_type", "unsupported_version").
		Str("ip", ip).
		Int32("protocol_version", protocolVersion).
		Msg("不支持的协议版本")
}

// LogLoginRejected 记录被拒绝的登录
func (sl *SecurityLogger) LogLoginRejected(ip, username, reason string) {
	sl.limited.Info("rejected:"+ip).
		Str("event_type", "login_rejected").
		Str("ip", ip).
		Str("username", username).
		Str("reason", reason).
		Msg("登录被拒绝")

	if err := sl.audit.LogLoginRejected(ip, username, reason); err != nil {
		sl.logger.Error().Err(err).Msg("写入审计日志失败")
	}
}

// Manager 持有主日志器和审计日志，随 context 结束自动关闭
type Manager struct {
	mainLogger     zerolog.Logger
	securityLogger *SecurityLogger
	auditLogger    *AuditLogger
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewManager 创建日志管理器
func NewManager(ctx context.Context, cfg *config.Config) (*Manager, error) {
	mainLogger, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	auditLogger, err := NewAuditLogger(&cfg.AuditLogging)
	if err != nil {
		return nil, fmt.Errorf("创建审计日志记录器失败: %w", err)
	}

	managerCtx, cancel := context.WithCancel(ctx)
	manager := &Manager{
		mainLogger:     mainLogger,
		securityLogger: NewSecurityLogger(mainLogger, auditLogger),
		auditLogger:    auditLogger,
		ctx:            managerCtx,
		cancel:         cancel,
	}

	go manager.lifecycle()
	return manager, nil
}

// Main 主日志器
func (m *Manager) Main() zerolog.Logger {
	return m.mainLogger
}

// Security 安全日志器
func (m *Manager) Security() *SecurityLogger {
	return m.securityLogger
}

// Audit 审计日志器
func (m *Manager) Audit() *AuditLogger {
	return m.auditLogger
}

func (m *Manager) lifecycle() {
	<-m.ctx.Done()

	m.mainLogger.Debug().Msg("日志管理器收到关闭信号")
	if err := m.auditLogger.Close(); err != nil {
		m.mainLogger.Error().Err(err).Msg("关闭审计日志失败")
	}
}

// Close 关闭所有日志器
func (m *Manager) Close() error {
	m.cancel()
	return nil
}
