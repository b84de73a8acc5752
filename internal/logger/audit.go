package logger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"gopkg.in/natefinch/lumberjack.v2"

	"mc-frontend/internal/config"
)

// 审计事件类型
const (
	AuditHandshake         = "handshake"
	AuditStatusQuery       = "status_query"
	AuditLoginAttempt      = "login_attempt"
	AuditLoginRejected     = "login_rejected"
	AuditProtocolViolation = "protocol_violation"
)

// AuditEvent 一条审计记录
type AuditEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	ClientIP        string    `json:"client_ip"`
	EventType       string    `json:"event_type"`
	ProtocolVersion int32     `json:"protocol_version,omitempty"`
	ServerAddress   string    `json:"server_address,omitempty"`
	ServerPort      uint16    `json:"server_port,omitempty"`
	NextState       string    `json:"next_state,omitempty"`
	Username        string    `json:"username,omitempty"`
	OnlineMode      *bool     `json:"online_mode,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

var auditCSVHeader = []string{
	"timestamp", "client_ip", "event_type",
	"protocol_version", "server_address", "server_port", "next_state",
	"username", "online_mode", "reason",
}

// AuditLogger 把握手、查询、登录和协议违规写入独立的轮转文件
type AuditLogger struct {
	format    string
	writer    io.Writer
	csvWriter *csv.Writer
	mutex     sync.Mutex
	enabled   bool
}

// NewAuditLogger 创建审计日志记录器，未启用时所有方法都是空操作
func NewAuditLogger(cfg *config.AuditLoggingConfig) (*AuditLogger, error) {
	if !cfg.Enabled {
		return &AuditLogger{}, nil
	}

	logDir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return newAuditLogger(fileWriter, cfg.Format)
}

func newAuditLogger(w io.Writer, format string) (*AuditLogger, error) {
	al := &AuditLogger{
		format:  strings.ToLower(format),
		writer:  w,
		enabled: true,
	}

	if al.format == "csv" {
		al.csvWriter = csv.NewWriter(w)
		if err := al.csvWriter.Write(auditCSVHeader); err != nil {
			return nil, fmt.Errorf("写入CSV表头失败: %w", err)
		}
		al.csvWriter.Flush()
	}
	return al, nil
}

// LogEvent 写入一条审计记录
func (al *AuditLogger) LogEvent(event *AuditEvent) error {
	if al == nil || !al.enabled {
		return nil
	}

	al.mutex.Lock()
	defer al.mutex.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if al.csvWriter != nil {
		return al.writeCSV(event)
	}
	return al.writeJSON(event)
}

func (al *AuditLogger) writeJSON(event *AuditEvent) error {
	data, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化审计事件失败: %w", err)
	}
	_, err = al.writer.Write(append(data, '\n'))
	return err
}

func (al *AuditLogger) writeCSV(event *AuditEvent) error {
	onlineMode := ""
	if event.OnlineMode != nil {
		onlineMode = strconv.FormatBool(*event.OnlineMode)
	}

	record := []string{
		event.Timestamp.Format(time.RFC3339),
		event.ClientIP,
		event.EventType,
		strconv.FormatInt(int64(event.ProtocolVersion), 10),
		event.ServerAddress,
		strconv.FormatUint(uint64(event.ServerPort), 10),
		event.NextState,
		event.Username,
		onlineMode,
		event.Reason,
	}

	if err := al.csvWriter.Write(record); err != nil {
		return err
	}
	al.csvWriter.Flush()
	return al.csvWriter.Error()
}

// LogHandshake 记录握手
func (al *AuditLogger) LogHandshake(clientIP string, protocolVersion int32, serverAddr string, serverPort uint16, nextState string) error {
	return al.LogEvent(&AuditEvent{
		ClientIP:        clientIP,
		EventType:       AuditHandshake,
		ProtocolVersion: protocolVersion,
		ServerAddress:   serverAddr,
		ServerPort:      serverPort,
		NextState:       nextState,
	})
}

// LogStatusQuery 记录服务器列表查询
func (al *AuditLogger) LogStatusQuery(clientIP string, protocolVersion int32) error {
	return al.LogEvent(&AuditEvent{
		ClientIP:        clientIP,
		EventType:       AuditStatusQuery,
		ProtocolVersion: protocolVersion,
	})
}

// LogLoginAttempt 记录通过准入的登录及其验证方式
func (al *AuditLogger) LogLoginAttempt(clientIP, username string, authenticate bool) error {
	return al.LogEvent(&AuditEvent{
		ClientIP:   clientIP,
		EventType:  AuditLoginAttempt,
		Username:   username,
		OnlineMode: &authenticate,
	})
}

// LogLoginRejected 记录被拒绝的登录
func (al *AuditLogger) LogLoginRejected(clientIP, username, reason string) error {
	return al.LogEvent(&AuditEvent{
		ClientIP:  clientIP,
		EventType: AuditLoginRejected,
		Username:  username,
		Reason:    reason,
	})
}

// LogProtocolViolation 记录协议违规
func (al *AuditLogger) LogProtocolViolation(clientIP, reason string) error {
	return al.LogEvent(&AuditEvent{
		ClientIP:  clientIP,
		EventType: AuditProtocolViolation,
		Reason:    reason,
	})
}

// Close 关闭审计日志
func (al *AuditLogger) Close() error {
	if al == nil || !al.enabled {
		return nil
	}

	al.mutex.Lock()
	defer al.mutex.Unlock()

	if al.csvWriter != nil {
		al.csvWriter.Flush()
	}
	if closer, ok := al.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// IsEnabled 是否启用
func (al *AuditLogger) IsEnabled() bool {
	return al != nil && al.enabled
}
