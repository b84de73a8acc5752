package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"mc-frontend/internal/config"
	"mc-frontend/internal/events"
	"mc-frontend/internal/handler"
	"mc-frontend/internal/limiter"
	"mc-frontend/internal/logger"
	"mc-frontend/internal/monitor"
	"mc-frontend/internal/network"
	"mc-frontend/internal/services"
	"mc-frontend/internal/upstream"
)

// 构建时注入的版本信息
var (
	version   = "dev"
	buildTime = "unknown" // 通过 -ldflags 注入
	gitCommit = "unknown" // 通过 -ldflags 注入
)

var (
	configPath   = flag.String("config", "config/config.yml", "配置文件路径")
	showVersion  = flag.Bool("version", false, "显示版本信息")
	showVersions = flag.Bool("versions", false, "列出支持的协议版本后退出")
)

const AppName = "MC Frontend"

// printVersion 显示详细的版本信息
func printVersion() {
	fmt.Printf("🎮 %s\n", AppName)
	fmt.Printf("📦 Version: %s\n", version)
	if gitCommit != "unknown" {
		fmt.Printf("🔄 Git Commit: %s\n", gitCommit)
	}
	if buildTime != "unknown" {
		fmt.Printf("🕒 Build Time: %s\n", buildTime)
	}
	fmt.Printf("🔧 Go Version: %s\n", runtime.Version())
	fmt.Printf("💻 Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printVersions 以表格列出协议注册表
func printVersions(f *handler.Frontend) {
	registry := f.Registry()
	def := registry.Default()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Protocol", "Name", "Aliases", "Stable", "Default", "Max Serverbound"})
	for _, v := range registry.Versions() {
		mark := ""
		if v == def {
			mark = "*"
		}
		table.Append([]string{
			strconv.Itoa(int(v.ID())),
			v.Name(),
			strings.Join(v.Aliases(), ", "),
			strconv.FormatBool(v.Stable()),
			mark,
			strconv.Itoa(v.MaxServerboundSize()),
		})
	}
	table.Render()
}

func main() {
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if *showVersions {
		f, err := handler.NewFrontend(handler.Options{Config: cfg, Logger: zerolog.Nop()})
		if err != nil {
			fmt.Printf("❌ 构建协议注册表失败: %v\n", err)
			os.Exit(1)
		}
		printVersions(f)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logs, err := logger.NewManager(ctx, cfg)
	if err != nil {
		fmt.Printf("❌ 初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()
	mainLogger := logs.Main()

	fmt.Printf("🚀 启动 %s\n", AppName)
	fmt.Printf("📦 版本: %s\n", version)
	fmt.Printf("📝 配置: %s\n", *configPath)
	fmt.Printf("📊 日志级别: %s\n", cfg.Logging.Level)
	fmt.Println()

	bus := events.NewBus(mainLogger)
	defer bus.Stop()
	locator := services.NewLocator()

	// 上游镜像为服务器列表提供在线人数
	var mirror *upstream.Mirror
	if cfg.Upstream.Enabled {
		fmt.Println("⏳ 启动上游镜像...")
		mirror = upstream.NewMirror(cfg.Upstream, mainLogger)
		if err := mirror.Start(ctx); err != nil {
			fmt.Printf("❌ 启动上游镜像失败: %v\n", err)
			os.Exit(1)
		}
		locator.Register(services.KeyPlayerSource, mirror)
		fmt.Printf("✅ 上游镜像已启动: %s\n", cfg.Upstream.Address)
	}

	fmt.Println("⏳ 初始化限流器...")
	rateLimiter := limiter.NewRateLimiter(cfg.RateLimit, mainLogger)
	go rateLimiter.Run(ctx)

	metrics := monitor.NewMetrics()
	perf := monitor.NewPerformanceMonitor()

	fmt.Println("⏳ 构建协议注册表...")
	frontend, err := handler.NewFrontend(handler.Options{
		Config:   cfg,
		Logger:   mainLogger,
		Bus:      bus,
		Services: locator,
		Metrics:  metrics,
		Perf:     perf,
		Security: logs.Security(),
		Audit:    logs.Audit(),
		Limiter:  rateLimiter,
	})
	if err != nil {
		fmt.Printf("❌ 创建前端失败: %v\n", err)
		os.Exit(1)
	}
	go frontend.Run(ctx)

	fmt.Println("⏳ 创建网络服务器...")
	server, err := network.NewServer(ctx, cfg, mainLogger, frontend)
	if err != nil {
		fmt.Printf("❌ 创建网络服务器失败: %v\n", err)
		os.Exit(1)
	}

	if cfg.Monitoring.Enabled {
		monitorServer := monitor.NewServer(cfg.Monitoring, cfg.GetMetricsAddress(), metrics, perf, mainLogger)
		monitorServer.AddStats("sessions", frontend.Stats)
		monitorServer.AddStats("network", server.GetStats)
		monitorServer.AddStats("rate_limit", rateLimiter.GetStats)
		if mirror != nil {
			monitorServer.AddStats("upstream", mirror.GetStats)
		}
		go func() {
			if err := monitorServer.Run(ctx); err != nil {
				mainLogger.Error().Err(err).Msg("监控服务错误")
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil {
			mainLogger.Error().Err(err).Msg("网络服务器错误")
			cancel()
		}
	}()

	time.Sleep(500 * time.Millisecond)

	fmt.Println()
	fmt.Printf("✨ %s 启动完成\n", AppName)
	fmt.Println("📊 服务器状态:")
	for _, addr := range cfg.ListenAddresses() {
		fmt.Printf("   - 监听地址: %s\n", addr)
	}
	fmt.Printf("   - 协议版本: %s (默认 %s)\n",
		strings.Join(frontend.Registry().SupportedNames(), ", "), frontend.Registry().Default().Name())
	fmt.Printf("   - 正版验证: %s\n", cfg.Login.OnlineMode)
	fmt.Printf("   - 最大连接数: %d\n", cfg.Server.MaxConnections)
	fmt.Printf("   - 全局限流: %d/s\n", cfg.RateLimit.GlobalLimit)
	if logs.Audit().IsEnabled() {
		fmt.Printf("   - 审计日志: %s\n", cfg.AuditLogging.FilePath)
	}
	if cfg.Monitoring.Enabled {
		fmt.Printf("   - 监控地址: %s\n", cfg.GetMetricsAddress())
	}
	fmt.Println("🎯 使用 Ctrl+C 停止服务器")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		fmt.Printf("\n📡 收到停止信号: %s\n", sig.String())
	case <-ctx.Done():
		fmt.Println("\n📡 上下文已取消")
	}

	fmt.Println("🛑 正在停止服务器...")
	cancel()
	time.Sleep(time.Second)

	stats := server.GetStats()
	fmt.Println("📈 服务器统计:")
	fmt.Printf("   - 当前连接数: %v\n", stats["connection_count"])
	fmt.Printf("   - 剩余会话: %d\n", frontend.Sessions().Count())

	fmt.Printf("👋 %s 已停止\n", AppName)
}
