package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Protocol     ProtocolConfig     `yaml:"protocol" toml:"protocol"`
	Login        LoginConfig        `yaml:"login" toml:"login"`
	Status       StatusConfig       `yaml:"status" toml:"status"`
	Listeners    []ListenerConfig   `yaml:"listeners" toml:"listeners"`
	Upstream     UpstreamConfig     `yaml:"upstream" toml:"upstream"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" toml:"rate_limit"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	AuditLogging AuditLoggingConfig `yaml:"audit_logging" toml:"audit_logging"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" toml:"monitoring"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" toml:"host"`
	Port           int           `yaml:"port" toml:"port"`
	MaxConnections int           `yaml:"max_connections" toml:"max_connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`
}

// ProtocolConfig 协议层配置
type ProtocolConfig struct {
	// DefaultVersion 客户端版本无法识别时使用的版本（名称或协议号）
	DefaultVersion string `yaml:"default_version" toml:"default_version"`
	// 0 表示协议默认值，-1 表示不限制
	MaxServerboundSize           int `yaml:"max_serverbound_size" toml:"max_serverbound_size"`
	MaxServerboundCompressedSize int `yaml:"max_serverbound_compressed_size" toml:"max_serverbound_compressed_size"`
	OutboundQueue                int `yaml:"outbound_queue" toml:"outbound_queue"`
}

// LoginConfig 登录准入配置
type LoginConfig struct {
	OnlineMode OnlineMode `yaml:"online_mode" toml:"online_mode"`
	// 同一地址两次登录之间的最小间隔，负数表示关闭节流
	ThrottleWindow time.Duration `yaml:"throttle_window" toml:"throttle_window"`
	KickMessage    string        `yaml:"kick_message" toml:"kick_message"`
}

// StatusConfig 服务器列表状态配置
type StatusConfig struct {
	MOTD        string `yaml:"motd" toml:"motd"`
	FaviconPath string `yaml:"favicon_path" toml:"favicon_path"`
	VersionName string `yaml:"version_name" toml:"version_name"`
	MaxPlayers  int    `yaml:"max_players" toml:"max_players"`
	SampleSize  int    `yaml:"sample_size" toml:"sample_size"`
	// PingTimeout 响应后等待延迟测量包的时间，超时关闭；负数表示响应后立即关闭
	PingTimeout time.Duration `yaml:"ping_timeout" toml:"ping_timeout"`

	favicon string
}

// ListenerConfig 针对单个监听地址的覆盖配置，零值字段沿用全局配置
type ListenerConfig struct {
	Address        string        `yaml:"address" toml:"address"`
	OnlineMode     OnlineMode    `yaml:"online_mode" toml:"online_mode"`
	MOTD           string        `yaml:"motd" toml:"motd"`
	FaviconPath    string        `yaml:"favicon_path" toml:"favicon_path"`
	MaxPlayers     int           `yaml:"max_players" toml:"max_players"`
	SampleSize     int           `yaml:"sample_size" toml:"sample_size"`
	ThrottleWindow time.Duration `yaml:"throttle_window" toml:"throttle_window"`
	KickMessage    string        `yaml:"kick_message" toml:"kick_message"`

	favicon string
}

// UpstreamConfig 上游服务器配置
type UpstreamConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	Address         string        `yaml:"address" toml:"address"` // 服务器地址（支持 IP、域名、SRV 记录等）
	SyncInterval    time.Duration `yaml:"sync_interval" toml:"sync_interval"`
	Timeout         time.Duration `yaml:"timeout" toml:"timeout"`
	RetryCount      int           `yaml:"retry_count" toml:"retry_count"`
	RetryInterval   time.Duration `yaml:"retry_interval" toml:"retry_interval"`
	OverrideVersion bool          `yaml:"override_version" toml:"override_version"`
}

// RateLimitConfig 全局接入限流配置
type RateLimitConfig struct {
	GlobalLimit int `yaml:"global_limit" toml:"global_limit"`
	Burst       int `yaml:"burst" toml:"burst"`
	// IPLimit 单个地址每秒可建立的连接数，0 表示不限制
	IPLimit         int           `yaml:"ip_limit" toml:"ip_limit"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" toml:"cleanup_interval"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	Output     string `yaml:"output" toml:"output"`
	FilePath   string `yaml:"file_path" toml:"file_path"`
	MaxSize    int    `yaml:"max_size" toml:"max_size"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAge     int    `yaml:"max_age" toml:"max_age"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// AuditLoggingConfig 审计日志配置
type AuditLoggingConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	FilePath   string `yaml:"file_path" toml:"file_path"`
	MaxSize    int    `yaml:"max_size" toml:"max_size"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAge     int    `yaml:"max_age" toml:"max_age"`
	Compress   bool   `yaml:"compress" toml:"compress"`
	Format     string `yaml:"format" toml:"format"` // json, csv
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Enabled         bool   `yaml:"enabled" toml:"enabled"`
	MetricsPort     int    `yaml:"metrics_port" toml:"metrics_port"`
	HealthCheckPath string `yaml:"health_check_path" toml:"health_check_path"`
	MetricsPath     string `yaml:"metrics_path" toml:"metrics_path"`
	StatsPath       string `yaml:"stats_path" toml:"stats_path"`
}

// ListenerSettings 某个监听地址最终生效的协议层设置
type ListenerSettings struct {
	OnlineMode                   OnlineMode
	MOTD                         string
	Favicon                      string // data:image/png;base64,... 或空
	MaxPlayers                   int
	SampleSize                   int
	ThrottleWindow               time.Duration
	KickMessage                  string
	MaxServerboundSize           int
	MaxServerboundCompressedSize int
}

// Load 从文件加载配置，按扩展名选择 YAML 或 TOML
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".toml":
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	// 设置默认值
	setDefaults(&config)

	// 验证配置
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	// 预先读取图标
	baseDir := filepath.Dir(configPath)
	if err := config.loadFavicons(baseDir); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default 返回填充了默认值的配置，不读取文件
func Default() *Config {
	c := &Config{}
	setDefaults(c)
	return c
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 25565
	}
	if config.Server.MaxConnections == 0 {
		config.Server.MaxConnections = 10000
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 30 * time.Second
	}
	if config.Server.IdleTimeout == 0 {
		config.Server.IdleTimeout = 10 * time.Minute
	}

	if config.Protocol.DefaultVersion == "" {
		config.Protocol.DefaultVersion = "1.20.6"
	}
	if config.Protocol.OutboundQueue == 0 {
		config.Protocol.OutboundQueue = 128
	}

	if config.Login.OnlineMode == "" {
		config.Login.OnlineMode = OnlineModeTrue
	}
	if config.Login.ThrottleWindow == 0 {
		config.Login.ThrottleWindow = 4 * time.Second
	}
	if config.Login.KickMessage == "" {
		config.Login.KickMessage = "§cServer is under maintenance. Try again later."
	}

	if config.Status.MOTD == "" {
		config.Status.MOTD = "§6A Minecraft Server"
	}
	if config.Status.MaxPlayers == 0 {
		config.Status.MaxPlayers = 100
	}
	if config.Status.SampleSize == 0 {
		config.Status.SampleSize = 12
	}
	if config.Status.PingTimeout == 0 {
		config.Status.PingTimeout = 3 * time.Second
	}

	if config.Upstream.SyncInterval == 0 {
		config.Upstream.SyncInterval = 30 * time.Second
	}
	if config.Upstream.Timeout == 0 {
		config.Upstream.Timeout = 5 * time.Second
	}
	if config.Upstream.RetryInterval == 0 {
		config.Upstream.RetryInterval = time.Second
	}

	if config.RateLimit.GlobalLimit == 0 {
		config.RateLimit.GlobalLimit = 100
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = config.RateLimit.GlobalLimit
	}
	if config.RateLimit.CleanupInterval == 0 {
		config.RateLimit.CleanupInterval = time.Minute
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}

	if config.AuditLogging.Format == "" {
		config.AuditLogging.Format = "json"
	}

	if config.Monitoring.MetricsPort == 0 {
		config.Monitoring.MetricsPort = 9100
	}
	if config.Monitoring.HealthCheckPath == "" {
		config.Monitoring.HealthCheckPath = "/health"
	}
	if config.Monitoring.MetricsPath == "" {
		config.Monitoring.MetricsPath = "/metrics"
	}
	if config.Monitoring.StatsPath == "" {
		config.Monitoring.StatsPath = "/stats"
	}
}

// validate 验证配置
func validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", config.Server.Port)
	}

	if config.Server.MaxConnections < 1 {
		return fmt.Errorf("最大连接数必须大于 0")
	}

	if err := validateSizeCap("max_serverbound_size", config.Protocol.MaxServerboundSize); err != nil {
		return err
	}
	if err := validateSizeCap("max_serverbound_compressed_size", config.Protocol.MaxServerboundCompressedSize); err != nil {
		return err
	}

	if config.Protocol.OutboundQueue < 1 {
		return fmt.Errorf("发送队列长度必须大于 0")
	}

	if !config.Login.OnlineMode.Valid() {
		return fmt.Errorf("无效的 online_mode: %q", config.Login.OnlineMode)
	}

	if config.Status.SampleSize < 0 {
		return fmt.Errorf("玩家样本数量不能为负数")
	}
	if config.Status.MaxPlayers < 0 {
		return fmt.Errorf("最大玩家数不能为负数")
	}

	if config.RateLimit.GlobalLimit < 1 {
		return fmt.Errorf("全局限流值必须大于 0")
	}
	if config.RateLimit.IPLimit < 0 {
		return fmt.Errorf("IP 限流值不能为负数")
	}

	seen := make(map[string]bool, len(config.Listeners))
	for i, l := range config.Listeners {
		if l.Address == "" {
			return fmt.Errorf("listeners[%d] 缺少 address", i)
		}
		if _, _, err := net.SplitHostPort(l.Address); err != nil {
			return fmt.Errorf("listeners[%d] 地址无效: %w", i, err)
		}
		if seen[l.Address] {
			return fmt.Errorf("listeners[%d] 地址重复: %s", i, l.Address)
		}
		seen[l.Address] = true
		if l.OnlineMode != "" && !l.OnlineMode.Valid() {
			return fmt.Errorf("listeners[%d] 无效的 online_mode: %q", i, l.OnlineMode)
		}
		if l.SampleSize < 0 {
			return fmt.Errorf("listeners[%d] 玩家样本数量不能为负数", i)
		}
		if l.MaxPlayers < 0 {
			return fmt.Errorf("listeners[%d] 最大玩家数不能为负数", i)
		}
	}

	if config.Upstream.Enabled && config.Upstream.Address == "" {
		return fmt.Errorf("启用上游同步时必须配置 upstream.address")
	}

	return nil
}

func validateSizeCap(name string, v int) error {
	if v < -1 {
		return fmt.Errorf("%s 只能是 -1、0 或正数，实际为 %d", name, v)
	}
	return nil
}

// loadFavicons 读取并编码图标文件
func (c *Config) loadFavicons(baseDir string) error {
	var err error
	if c.Status.favicon, err = readFavicon(baseDir, c.Status.FaviconPath); err != nil {
		return err
	}
	for i := range c.Listeners {
		if c.Listeners[i].favicon, err = readFavicon(baseDir, c.Listeners[i].FaviconPath); err != nil {
			return err
		}
	}
	return nil
}

// MaxFaviconLen 编码后图标的最大字符数，为状态 JSON 中的其他字段留出余量
const MaxFaviconLen = 28 * 1024

func readFavicon(baseDir, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取图标失败: %w", err)
	}
	favicon := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	if len(favicon) > MaxFaviconLen {
		return "", fmt.Errorf("图标 %s 过大: 编码后 %d 字符，上限 %d", path, len(favicon), MaxFaviconLen)
	}
	return favicon, nil
}

// GetAddress 获取监听地址
func (c *Config) GetAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GetMetricsAddress 获取监控地址
func (c *Config) GetMetricsAddress() string {
	return fmt.Sprintf(":%d", c.Monitoring.MetricsPort)
}

// ForAddress 返回指定监听地址生效的设置
func (c *Config) ForAddress(addr string) ListenerSettings {
	s := ListenerSettings{
		OnlineMode:                   c.Login.OnlineMode,
		MOTD:                         c.Status.MOTD,
		Favicon:                      c.Status.favicon,
		MaxPlayers:                   c.Status.MaxPlayers,
		SampleSize:                   c.Status.SampleSize,
		ThrottleWindow:               max(c.Login.ThrottleWindow, 0),
		KickMessage:                  c.Login.KickMessage,
		MaxServerboundSize:           c.Protocol.MaxServerboundSize,
		MaxServerboundCompressedSize: c.Protocol.MaxServerboundCompressedSize,
	}

	if l, ok := c.listenerFor(addr); ok {
		if l.OnlineMode != "" {
			s.OnlineMode = l.OnlineMode
		}
		if l.MOTD != "" {
			s.MOTD = l.MOTD
		}
		if l.favicon != "" {
			s.Favicon = l.favicon
		}
		if l.MaxPlayers != 0 {
			s.MaxPlayers = l.MaxPlayers
		}
		if l.SampleSize != 0 {
			s.SampleSize = l.SampleSize
		}
		if l.ThrottleWindow != 0 {
			s.ThrottleWindow = max(l.ThrottleWindow, 0)
		}
		if l.KickMessage != "" {
			s.KickMessage = l.KickMessage
		}
	}

	return s
}

// listenerFor 先按完整地址匹配，再匹配主机为通配地址且端口相同的监听配置
func (c *Config) listenerFor(addr string) (*ListenerConfig, bool) {
	for i := range c.Listeners {
		if c.Listeners[i].Address == addr {
			return &c.Listeners[i], true
		}
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, false
	}
	for i := range c.Listeners {
		host, p, err := net.SplitHostPort(c.Listeners[i].Address)
		if err != nil || p != port {
			continue
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			return &c.Listeners[i], true
		}
	}
	return nil, false
}

// ListenAddresses 需要监听的全部地址：主地址加上各监听覆盖配置，去重
func (c *Config) ListenAddresses() []string {
	addrs := []string{c.GetAddress()}
	for _, l := range c.Listeners {
		if !slices.Contains(addrs, l.Address) {
			addrs = append(addrs, l.Address)
		}
	}
	return addrs
}
