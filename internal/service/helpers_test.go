package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faridhamidi/llm-council/internal/council"
	"github.com/faridhamidi/llm-council/internal/eventbus"
	"github.com/faridhamidi/llm-council/internal/model"
	"github.com/faridhamidi/llm-council/internal/pkg/llm"
	"github.com/faridhamidi/llm-council/internal/repository"
	"github.com/faridhamidi/llm-council/internal/stream"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db error: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Conversation{},
		&model.Message{},
		&model.SettingsRecord{},
		&model.Preset{},
		&model.RunUsage{},
	); err != nil {
		t.Fatalf("migrate error: %v", err)
	}
	return db
}

// stubInvoker 按提示词内容路由应答的测试桩
type stubInvoker struct {
	mu      sync.Mutex
	handler func(req llm.Request) llm.Result
	calls   []llm.Request
}

func (s *stubInvoker) Invoke(ctx context.Context, req llm.Request) llm.Result {
	if ctx.Err() != nil {
		return llm.Result{Err: "invocation cancelled"}
	}
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.handler != nil {
		return s.handler(req)
	}
	return llm.Result{Text: "ok"}
}

func (s *stubInvoker) InvokeStream(ctx context.Context, req llm.Request, onChunk llm.ChunkFunc) llm.Result {
	result := s.Invoke(ctx, req)
	if result.OK() && onChunk != nil {
		onChunk(result.Text)
	}
	return result
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// routingHandler 按提示词区分流水线阶段与标题/发言人调用
func routingHandler(t *testing.T) func(req llm.Request) llm.Result {
	t.Helper()
	return func(req llm.Request) llm.Result {
		prompt := ""
		if len(req.Messages) > 0 {
			prompt = req.Messages[len(req.Messages)-1].Content
		}
		switch {
		case strings.Contains(prompt, "Generate a very short title"):
			return llm.Result{Text: "Test Topic"}
		case strings.Contains(prompt, "Council Chairman, continuing a conversation"):
			return llm.Result{Text: "speaker answer"}
		case strings.Contains(prompt, "anonymized"):
			return llm.Result{Text: "FINAL RANKING:\n1. Response A"}
		case strings.Contains(prompt, "Chairman of an LLM Council"):
			return llm.Result{Text: "final synthesis"}
		default:
			return llm.Result{Text: "member answer to: " + prompt}
		}
	}
}

type testEnv struct {
	db            *gorm.DB
	invoker       *stubInvoker
	settings      SettingsService
	conversations ConversationService
	councils      CouncilService
	registry      *stream.Registry
	bus           *eventbus.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newServiceDB(t)
	invoker := &stubInvoker{handler: routingHandler(t)}

	settingsSvc := NewSettingsService(
		repository.NewSettingsRepository(db),
		repository.NewPresetRepository(db),
	)
	msgRepo := repository.NewMessageRepository(db)
	convSvc := NewConversationService(repository.NewConversationRepository(db), msgRepo, settingsSvc)

	memberInvoker, err := council.NewMemberInvoker(invoker, 4, 30*time.Second)
	if err != nil {
		t.Fatalf("NewMemberInvoker error: %v", err)
	}
	registry := stream.NewRegistry()
	bus := eventbus.NewBus()
	councilSvc := NewCouncilService(
		convSvc, msgRepo,
		council.NewExecutor(memberInvoker),
		invoker,
		council.NewTitleGenerator(invoker),
		registry, bus,
	)

	return &testEnv{
		db:            db,
		invoker:       invoker,
		settings:      settingsSvc,
		conversations: convSvc,
		councils:      councilSvc,
		registry:      registry,
		bus:           bus,
	}
}
