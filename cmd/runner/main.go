package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"trade-exec-go/bracket"
	"trade-exec-go/config"
	"trade-exec-go/exec"
	"trade-exec-go/infrastructure/alert"
	"trade-exec-go/infrastructure/logger"
	internalconfig "trade-exec-go/internal/config"
	"trade-exec-go/internal/store"
	"trade-exec-go/metrics"
	"trade-exec-go/twap"
	"trade-exec-go/venue"

	monitorhub "trade-exec-go/infrastructure/monitor"
)

// runner 守护进程：打开存储、重建在途 bracket/TWAP 并接管其生命
// 周期，直到收到退出信号。下单入口由库方调用方（或 sim）驱动，
// 本进程只负责恢复与运维面。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	envPath := flag.String("env", "", ".env 文件路径，留空则尝试当前目录")
	owner := flag.String("owner", "", "只恢复该归属的在途单，留空恢复全部")
	flag.Parse()

	if *envPath != "" {
		_ = godotenv.Load(*envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	if cfg.Metrics.Addr != "" {
		metrics.StartMetricsServer(cfg.Metrics.Addr)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("打开存储失败: %v", err)
	}
	defer st.Close()

	registry := venue.NewRegistry()
	for name, vc := range cfg.Venues {
		if vc.Paper {
			registry.Register(venue.Venue(name), venue.NewPaperVenue(venue.Venue(name)))
			continue
		}
		// 实盘适配器由上层接入方注册，守护进程不内置
		lg.Warn("venue configured without bundled adapter, skipping",
			zap.String("venue", name))
	}

	svc := exec.New(registry, exec.Config{
		MaxOrderNotional:   cfg.Execution.MaxOrderNotional,
		DefaultMaxSlippage: cfg.Execution.DefaultMaxSlippage,
		SlippageBuffer:     cfg.Execution.SlippageBuffer,
		ConvertToLimit:     cfg.Execution.ConvertToLimit,
		DryRun:             cfg.Execution.DryRun,
	}, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 告警：日志通道 + 控制台通道，60 秒同源同类限流
	alerts := alert.NewManager(time.Minute,
		alert.NewLogChannel(lg),
		alert.NewConsoleChannel(),
	)

	// WebSocket 事件推送
	var hub *monitorhub.Hub
	if cfg.Monitor.Addr != "" {
		hub = monitorhub.NewHub(lg)
		go func() {
			if err := hub.Serve(ctx, cfg.Monitor.Addr); err != nil {
				lg.LogError(err, map[string]interface{}{"addr": cfg.Monitor.Addr})
			}
		}()
	}

	// 恢复在途 bracket
	brackets, err := bracket.ResumeAll(ctx, st, svc, *owner, lg)
	if err != nil {
		log.Fatalf("恢复 bracket 失败: %v", err)
	}
	for _, c := range brackets {
		c.OnEvent(alert.BracketListener(alerts))
		if hub != nil {
			c.OnEvent(hub.BracketListener())
		}
	}

	// 恢复在途 TWAP
	twaps, err := twap.ResumeAll(ctx, st, svc, *owner, lg)
	if err != nil {
		log.Fatalf("恢复 twap 失败: %v", err)
	}
	for _, s := range twaps {
		s.OnEvent(alert.TwapListener(alerts))
		if hub != nil {
			s.OnEvent(hub.TwapListener())
		}
	}

	lg.Info("recovery complete")

	// 配置热更新：执行限额可运行期下发
	reloader, err := internalconfig.NewHotReloader(*cfgPath, internalconfig.DefaultHotReloadConfig())
	if err == nil {
		reloader.RegisterValidator("execution", &internalconfig.ExecutionParameterValidator{})
		reloader.SetReloadHandler(func(interface{}) error {
			next, err := config.LoadWithEnvOverrides(*cfgPath)
			if err != nil {
				return err
			}
			svc.ApplyLimits(next.Execution.MaxOrderNotional, next.Execution.DefaultMaxSlippage)
			return nil
		})
		if err := reloader.Start(ctx); err != nil {
			lg.LogError(err, map[string]interface{}{"path": *cfgPath})
		}
		defer reloader.Stop()
	}

	// systemd 就绪通知与看门狗
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			ticker := time.NewTicker(interval / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	lg.Info("runner exit")
}
