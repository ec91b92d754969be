package subscriber

import (
	"context"
	"fmt"

	"github.com/faridhamidi/llm-council/internal/eventbus"
	"github.com/faridhamidi/llm-council/internal/model"
	"github.com/faridhamidi/llm-council/internal/repository"
	"k8s.io/klog/v2"
)

// RunUsageSubscriber 订阅运行完成事件并落用量记录
type RunUsageSubscriber struct {
	usageRepo repository.RunUsageRepository
}

func NewRunUsageSubscriber(usageRepo repository.RunUsageRepository) *RunUsageSubscriber {
	return &RunUsageSubscriber{usageRepo: usageRepo}
}

func (s *RunUsageSubscriber) Register(bus *eventbus.Bus) {
	if bus == nil {
		return
	}
	bus.Subscribe(eventbus.RunEventCompleted, s.handleRunCompleted)
	bus.Subscribe(eventbus.RunEventSpeakerReplied, s.handleRunCompleted)
}

func (s *RunUsageSubscriber) handleRunCompleted(ctx context.Context, event eventbus.RunEvent) error {
	if event.ConversationID == "" {
		return fmt.Errorf("会话ID为空")
	}
	usage := &model.RunUsage{
		ConversationID: event.ConversationID,
		StageCount:     event.StageCount,
		TokenCount:     event.TokenCount,
	}
	if err := s.usageRepo.Create(usage); err != nil {
		klog.Errorf("用量事件处理失败: type=%s, conversationID=%s, error=%v", event.Type, event.ConversationID, err)
		return err
	}
	klog.V(6).Infof("[RunUsageSubscriber] 用量已记录: conversationID=%s, stages=%d, tokens=%d",
		event.ConversationID, event.StageCount, event.TokenCount)
	return nil
}
