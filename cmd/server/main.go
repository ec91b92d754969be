package main

import (
	"flag"
	"log"
	"os"

	"k8s.io/klog/v2"

	"github.com/faridhamidi/llm-council/config"
	"github.com/faridhamidi/llm-council/internal/council"
	"github.com/faridhamidi/llm-council/internal/eventbus"
	"github.com/faridhamidi/llm-council/internal/handler"
	"github.com/faridhamidi/llm-council/internal/pkg/database"
	"github.com/faridhamidi/llm-council/internal/pkg/llm"
	"github.com/faridhamidi/llm-council/internal/repository"
	"github.com/faridhamidi/llm-council/internal/router"
	"github.com/faridhamidi/llm-council/internal/service"
	"github.com/faridhamidi/llm-council/internal/stream"
	"github.com/faridhamidi/llm-council/internal/subscriber"
)

func main() {
	// 初始化 klog
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	klog.V(6).Info("服务启动中...")

	cfg := config.GetConfig()

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 初始化 Repository
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	presetRepo := repository.NewPresetRepository(db)
	usageRepo := repository.NewRunUsageRepository(db)

	// 模型调用与议会执行器
	invoker := llm.NewClient(cfg)
	memberInvoker, err := council.NewMemberInvoker(invoker, council.MaxStageMembers, cfg.LLM.RequestTimeout)
	if err != nil {
		log.Fatalf("Failed to initialize member invoker: %v", err)
	}
	defer memberInvoker.Release()
	executor := council.NewExecutor(memberInvoker)

	// 事件总线与用量订阅
	bus := eventbus.NewBus()
	subscriber.NewRunUsageSubscriber(usageRepo).Register(bus)

	// 初始化 Service
	settingsService := service.NewSettingsService(settingsRepo, presetRepo)
	conversationService := service.NewConversationService(convRepo, msgRepo, settingsService)
	registry := stream.NewRegistry()
	councilService := service.NewCouncilService(
		conversationService, msgRepo, executor, invoker,
		council.NewTitleGenerator(invoker), registry, bus,
	)

	// 初始化 Handler
	conversationHandler := handler.NewConversationHandler(conversationService, usageRepo)
	messageHandler := handler.NewMessageHandler(councilService)
	settingsHandler := handler.NewSettingsHandler(settingsService)

	r := router.Setup(cfg, conversationHandler, messageHandler, settingsHandler)

	addr := ":" + cfg.Server.Port
	klog.Infof("服务监听于 %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
