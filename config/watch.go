package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
)

// Watcher 监听配置文件变化，去抖后重新加载并回调。
// 监听所在目录而不是文件本身：很多编辑器保存时先写临时文件再重命名。
type Watcher struct {
	Path     string
	EnvFile  string
	Debounce time.Duration
	Logger   *logger.Logger
}

// Start 阻塞直到 ctx 取消。加载或校验失败的配置只记录日志，不会回调。
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Debounce <= 0 {
		w.Debounce = 500 * time.Millisecond
	}
	if w.Logger == nil {
		w.Logger = logger.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(w.Path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if name, _ := filepath.Abs(event.Name); name != target {
				continue
			}
			// 只处理写入和创建事件
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("Config watcher error", zap.Error(err))

		case <-timer.C:
			cfg, err := LoadWithEnvOverrides(w.Path, w.EnvFile)
			if err != nil {
				w.Logger.Error("Config reload rejected", zap.String("path", w.Path), zap.Error(err))
				continue
			}
			w.Logger.Info("Config reloaded", zap.String("path", w.Path))
			if onUpdate != nil {
				onUpdate(cfg)
			}
		}
	}
}
