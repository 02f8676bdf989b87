package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWatcherStopsOnCancel(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Watcher{Path: path}).Start(ctx, nil); err == nil {
		t.Fatalf("expected context cancellation")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	w := Watcher{Path: path, Debounce: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan AppConfig, 4)
	go func() {
		_ = w.Start(ctx, func(cfg AppConfig) { ch <- cfg })
	}()

	updated := strings.Replace(sampleConfig, "levels: 10", "levels: 12", 1)
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if g, _ := cfg.Grid("BTCUSDT"); g.Levels != 12 {
				t.Fatalf("reloaded config has levels %d", g.Levels)
			}
			return
		case <-tick.C:
			// 监听在 goroutine 里建立，反复写入直到被观察到
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatalf("expected update callback")
		}
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	w := Watcher{Path: path, Debounce: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	called := make(chan struct{}, 1)
	go func() {
		_ = w.Start(ctx, func(AppConfig) { called <- struct{}{} })
	}()
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("env: nowhere\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-called:
		t.Fatalf("invalid config must not be applied")
	case <-ctx.Done():
	}
}
