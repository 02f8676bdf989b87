package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"grid-trader-go/config"
	"grid-trader-go/internal/container"
	"grid-trader-go/posttrade"
)

// 模拟盘网格：订阅实时 K 线，用本地撮合器模拟成交；配置文件变化后重建网格。
// 在 systemd 下以 Type=notify 运行时上报 READY/STOPPING，并按 WatchdogSec 发送心跳。
func main() {
	cfgPath := flag.String("config", "configs/grid.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "可选的 .env 文件")
	shutdownTimeout := flag.Duration("shutdownTimeout", 30*time.Second, "退出时撤单与归档的超时")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath, *envFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	cfg.Env = container.ModePaper
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("配置不能用于模拟盘: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := container.NewWithConfig(*cfgPath, *envFile, cfg)
	if err := c.Build(); err != nil {
		log.Fatalf("构建失败: %v", err)
	}
	lg := c.Logger()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify READY failed", zap.Error(err))
	} else if ok {
		lg.Info("systemd notified: ready")
	}
	go watchdog(ctx, c)

	runErr := c.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		lg.Error("grid run failed", zap.Error(runErr))
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	sctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	results, err := c.Stop(sctx)
	for _, r := range results {
		s := posttrade.Summarize(r.Report)
		log.Printf("[%s] run=%s fills=%d trips=%d realized=%s unrealized=%s cancelFailures=%d",
			r.Symbol, r.RunID, s.Fills, s.Trips, s.RealizedPnL.StringFixed(4), s.UnrealizedPnL.StringFixed(4), s.CancelFailures)
	}
	if err != nil {
		log.Printf("收尾失败: %v", err)
	}
	if runErr != nil || err != nil {
		os.Exit(1)
	}
}

// watchdog 健康时按 WatchdogSec 的一半发送心跳；未启用 watchdog 时直接返回。
func watchdog(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				c.Logger().Warn("health check failed, skip watchdog ping", zap.Error(err))
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
