package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"finsight/pkg/agent"
	"finsight/pkg/channels"
	_ "finsight/pkg/channels/autoload" // 自動註冊 Channels
	"finsight/pkg/config"
	"finsight/pkg/gateway"
	"finsight/pkg/handler"
	"finsight/pkg/llm"
	_ "finsight/pkg/llm/autoload" // 自動註冊 LLM Providers
	"finsight/pkg/monitor"
	"finsight/pkg/session"
	"finsight/pkg/tools"
)

func main() {
	monitor.PrintBanner()

	// --- 0. 讀取設定檔 ---
	configDir := os.Getenv("FINSIGHT_CONFIG_DIR")
	if configDir == "" {
		configDir = "."
	}
	cfg, sys, err := config.Load(configDir)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v\n", err)
	}
	monitor.SetupSlog(sys.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. LLM 設定 ---
	router, err := llm.NewFromConfig(cfg.LLM, sys)
	if err != nil {
		log.Fatalf("❌ Failed to init LLM client: %v\n", err)
	}
	invoker, err := llm.NewInvoker(router, sys)
	if err != nil {
		log.Fatalf("❌ Failed to init LLM invoker: %v\n", err)
	}

	// --- 2. 工具與對話紀錄 ---
	registry := tools.NewRegistry(tools.NewRandomWalk(sys.MarketSeed))
	store, err := session.NewStore(sys.SessionDir)
	if err != nil {
		log.Fatalf("❌ Failed to open session store: %v\n", err)
	}

	h := handler.NewChatHandler(ctx, invoker, registry, agent.OptionsFromConfig(sys, cfg.SystemInstruction), store)

	// --- 3. Gateway 初始化（使用 Builder 模式）---
	gw, err := gateway.NewGatewayBuilder().
		WithMonitor(monitor.NewCLIMonitor()).
		WithChannel(channels.LoadFromConfig(cfg.Channels, sys)...).
		WithHandler(h).
		Build()
	if err != nil {
		log.Fatalf("Failed to build gateway: %v\n", err)
	}

	// system.json 熱更新
	go func() {
		apply := func(s *config.SystemConfig) {
			monitor.SetLogLevel(s.LogLevel)
			h.SetOptions(agent.OptionsFromConfig(s, cfg.SystemInstruction))
		}
		if err := config.WatchSystemConfig(ctx, filepath.Join(configDir, "system.json"), apply); err != nil {
			slog.Warn("System config hot reload disabled", "error", err)
		}
	}()

	// 等待信號
	<-ctx.Done()
	slog.Info("Received shutdown signal. Stopping services...")

	// 執行清理: 先關 channel 不再收新訊息，再等進行中的 run 結束
	gw.StopAll()
	h.Wait()
	slog.Info("Bye!")
}
