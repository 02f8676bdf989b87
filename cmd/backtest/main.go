package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"grid-trader-go/config"
	"grid-trader-go/internal/container"
	"grid-trader-go/internal/engine"
	"grid-trader-go/posttrade"
)

type output struct {
	Symbol  string            `json:"symbol"`
	RunID   string            `json:"run_id,omitempty"`
	Summary posttrade.Summary `json:"summary"`
	Report  *engine.Report    `json:"report,omitempty"`
}

// 配置驱动的多交易对网格回测，每个交易对读取自己的 dataFile 并行回放。
// 用法：
//
//	go run ./cmd/backtest -config configs/grid.yaml -out reports.json
func main() {
	cfgPath := flag.String("config", "configs/grid.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "可选的 .env 文件")
	outPath := flag.String("out", "-", "JSON 报告输出路径，- 表示标准输出")
	withFills := flag.Bool("full", false, "输出完整报告（含成交明细）")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath, *envFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	cfg.Env = container.ModeBacktest
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("配置不能用于回测: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := container.NewWithConfig(*cfgPath, *envFile, cfg)
	if err := c.Build(); err != nil {
		log.Fatalf("构建失败: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	runErr := c.Run(ctx)
	results, stopErr := c.Stop(context.Background())
	if runErr != nil {
		log.Printf("回测中止: %v", runErr)
	}
	if stopErr != nil {
		log.Printf("收尾失败: %v", stopErr)
	}

	outs := make([]output, 0, len(results))
	for _, r := range results {
		o := output{Symbol: r.Symbol, RunID: r.RunID, Summary: posttrade.Summarize(r.Report)}
		if *withFills {
			o.Report = r.Report
		}
		outs = append(outs, o)
		s := o.Summary
		fmt.Fprintf(os.Stderr, "%s fills=%d trips=%d win=%s realized=%s unrealized=%s maxDD=%s boundary=%d\n",
			s.Symbol, s.Fills, s.Trips, s.WinRate.StringFixed(2), s.RealizedPnL.StringFixed(4),
			s.UnrealizedPnL.StringFixed(4), s.MaxDrawdown.StringFixed(4), s.BoundaryEvents)
	}
	if err := writeJSON(*outPath, outs); err != nil {
		log.Fatalf("写入报告失败: %v", err)
	}
	if runErr != nil || stopErr != nil {
		os.Exit(1)
	}
}

func writeJSON(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "-" && path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
