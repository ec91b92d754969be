package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/faridhamidi/llm-council/internal/council"
	"github.com/faridhamidi/llm-council/internal/eventbus"
	"github.com/faridhamidi/llm-council/internal/model"
	"github.com/faridhamidi/llm-council/internal/pkg/llm"
	"github.com/faridhamidi/llm-council/internal/repository"
	"github.com/faridhamidi/llm-council/internal/stream"
	"k8s.io/klog/v2"
)

// 运行输出类型
const (
	RunOutputCouncil = "council"
	RunOutputSpeaker = "speaker"
)

const speakerFailureText = "Error: Unable to generate response. Please try again."

// RunOutput 一次消息处理的同步返回
type RunOutput struct {
	Type       string                `json:"type"`
	Stages     []council.StageResult `json:"stages,omitempty"`
	Metadata   *council.Metadata     `json:"metadata,omitempty"`
	Model      string                `json:"model,omitempty"`
	Response   string                `json:"response,omitempty"`
	TokenCount int                   `json:"token_count,omitempty"`
	Title      string                `json:"title,omitempty"`
}

// CouncilService 议会运行服务接口。
// 首条消息走完整议会流水线，追问由主席基于既有分析直接作答。
type CouncilService interface {
	SendMessage(ctx context.Context, conversationID string, content string) (*RunOutput, error)
	SendMessageStream(conversationID string, content string) (*stream.Run, error)
	Cancel(conversationID string) bool
}

type councilService struct {
	conversations ConversationService
	msgRepo       repository.MessageRepository
	executor      *council.Executor
	invoker       llm.Invoker
	titles        *council.TitleGenerator
	registry      *stream.Registry
	bus           *eventbus.Bus
}

// NewCouncilService 创建议会运行服务
func NewCouncilService(
	conversations ConversationService,
	msgRepo repository.MessageRepository,
	executor *council.Executor,
	invoker llm.Invoker,
	titles *council.TitleGenerator,
	registry *stream.Registry,
	bus *eventbus.Bus,
) CouncilService {
	return &councilService{
		conversations: conversations,
		msgRepo:       msgRepo,
		executor:      executor,
		invoker:       invoker,
		titles:        titles,
		registry:      registry,
		bus:           bus,
	}
}

// runContext 一次消息处理开场收集的事实
type runContext struct {
	snapshot *council.Snapshot
	isFirst  bool
	followUp bool
}

func (s *councilService) prepare(ctx context.Context, conversationID string) (*runContext, error) {
	conversation, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.conversations.SettingsSnapshot(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	rc := &runContext{snapshot: snapshot, isFirst: len(conversation.Messages) == 0}
	for _, message := range conversation.Messages {
		if message.Role == council.TranscriptRoleAssistant && message.MessageType == model.MessageTypeCouncil {
			rc.followUp = true
			break
		}
	}
	return rc, nil
}

// SendMessage 同步处理一条消息，阻塞到运行结束
func (s *councilService) SendMessage(ctx context.Context, conversationID string, content string) (*RunOutput, error) {
	rc, err := s.prepare(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := s.addUserMessage(conversationID, content); err != nil {
		return nil, err
	}

	title := ""
	if rc.isFirst {
		title = s.titles.Generate(ctx, rc.snapshot, content)
		if err := s.conversations.UpdateTitle(ctx, conversationID, title); err != nil {
			klog.Errorf("会话标题更新失败: id=%s, err=%v", conversationID, err)
		}
	}

	var out *RunOutput
	if rc.followUp {
		out, err = s.runSpeaker(ctx, conversationID, content, rc.snapshot, nil)
	} else {
		out, err = s.runCouncil(ctx, conversationID, content, rc.snapshot, council.Hooks{}, false)
	}
	if err != nil {
		return nil, err
	}
	out.Title = title
	return out, nil
}

// SendMessageStream 启动流式运行并返回运行句柄。
// 同一会话的旧运行先被取消并等待退场。
func (s *councilService) SendMessageStream(conversationID string, content string) (*stream.Run, error) {
	rc, err := s.prepare(context.Background(), conversationID)
	if err != nil {
		return nil, err
	}

	run, ctx := s.registry.Begin(context.Background(), conversationID)
	go s.streamWorker(ctx, run, conversationID, content, rc)
	return run, nil
}

// Cancel 取消会话的活跃运行
func (s *councilService) Cancel(conversationID string) bool {
	return s.registry.Cancel(conversationID)
}

func (s *councilService) streamWorker(ctx context.Context, run *stream.Run, conversationID string, content string, rc *runContext) {
	defer s.registry.Finish(conversationID, run)
	bridge := run.Bridge

	if bridge.Cancelled() {
		s.finishCancelled(ctx, bridge, conversationID)
		return
	}

	if err := s.addUserMessage(conversationID, content); err != nil {
		bridge.Finish(stream.Event{Type: stream.EventError, Message: err.Error()})
		return
	}

	// 标题与流水线并行生成，收尾时汇合
	var titleCh chan string
	if rc.isFirst {
		titleCh = make(chan string, 1)
		go func() {
			titleCh <- s.titles.Generate(ctx, rc.snapshot, content)
		}()
	}

	if rc.followUp {
		s.streamSpeaker(ctx, bridge, conversationID, content, rc.snapshot)
		return
	}

	result, err := s.executor.Run(ctx, council.RunParams{
		Snapshot:  rc.snapshot,
		UserQuery: content,
		Hooks:     bridge.Hooks(),
		Streaming: true,
	})
	// 取消后不落盘已产出的结果
	if errors.Is(err, council.ErrRunCancelled) || bridge.Cancelled() {
		s.finishCancelled(ctx, bridge, conversationID)
		return
	}
	if err != nil {
		bridge.Finish(stream.Event{Type: stream.EventError, Message: err.Error()})
		return
	}

	out, err := s.persistCouncilRun(ctx, conversationID, result)
	if err != nil {
		bridge.Finish(stream.Event{Type: stream.EventError, Message: err.Error()})
		return
	}

	if titleCh != nil {
		title := <-titleCh
		if err := s.conversations.UpdateTitle(ctx, conversationID, title); err != nil {
			klog.Errorf("会话标题更新失败: id=%s, err=%v", conversationID, err)
		} else {
			bridge.Publish(stream.Event{Type: stream.EventTitleComplete, Title: title})
			s.publish(ctx, eventbus.RunEvent{Type: eventbus.RunEventTitleGenerated, ConversationID: conversationID, Title: title})
		}
	}

	bridge.Finish(stream.Event{
		Type:       stream.EventComplete,
		Result:     &council.RunResult{Stages: out.Stages, Metadata: *out.Metadata},
		TokenCount: out.TokenCount,
	})
}

func (s *councilService) streamSpeaker(ctx context.Context, bridge *stream.Bridge, conversationID string, content string, snapshot *council.Snapshot) {
	chairman := snapshot.ChairmanMember()
	alias := ""
	if chairman != nil {
		alias = chairman.Alias
	}

	out, err := s.runSpeaker(ctx, conversationID, content, snapshot, func(chunk string) {
		bridge.Publish(stream.Event{Type: stream.EventSpeakerDelta, Model: alias, Chunk: chunk})
	})
	if ctx.Err() != nil || bridge.Cancelled() {
		s.finishCancelled(ctx, bridge, conversationID)
		return
	}
	if err != nil {
		bridge.Finish(stream.Event{Type: stream.EventError, Message: err.Error()})
		return
	}

	bridge.Publish(stream.Event{
		Type:       stream.EventSpeakerComplete,
		Model:      out.Model,
		Response:   out.Response,
		TokenCount: out.TokenCount,
	})
	bridge.Finish(stream.Event{Type: stream.EventComplete, TokenCount: out.TokenCount})
}

// runCouncil 执行完整议会流水线并持久化结果
func (s *councilService) runCouncil(ctx context.Context, conversationID string, content string, snapshot *council.Snapshot, hooks council.Hooks, streaming bool) (*RunOutput, error) {
	result, err := s.executor.Run(ctx, council.RunParams{
		Snapshot:  snapshot,
		UserQuery: content,
		Hooks:     hooks,
		Streaming: streaming,
	})
	if err != nil {
		return nil, err
	}
	return s.persistCouncilRun(ctx, conversationID, result)
}

// persistCouncilRun 落盘议会消息并广播运行完成事件
func (s *councilService) persistCouncilRun(ctx context.Context, conversationID string, result *council.RunResult) (*RunOutput, error) {
	tokenCount := estimateRunTokens(result)
	if err := s.persistCouncilMessage(conversationID, result, tokenCount); err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.RunEvent{
		Type:           eventbus.RunEventCompleted,
		ConversationID: conversationID,
		StageCount:     len(result.Stages),
		TokenCount:     tokenCount,
	})

	metadata := result.Metadata
	return &RunOutput{
		Type:       RunOutputCouncil,
		Stages:     result.Stages,
		Metadata:   &metadata,
		TokenCount: tokenCount,
	}, nil
}

// runSpeaker 主席基于既有议会分析处理追问
func (s *councilService) runSpeaker(ctx context.Context, conversationID string, content string, snapshot *council.Snapshot, onChunk llm.ChunkFunc) (*RunOutput, error) {
	chairman := snapshot.ChairmanMember()
	if chairman == nil {
		return &RunOutput{Type: RunOutputSpeaker, Model: "Error", Response: "No council chairman configured."}, nil
	}

	transcript, err := s.conversations.Transcript(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	level := snapshot.SpeakerContextLevel
	if level == "" {
		level = council.DefaultSpeakerContextLevel
	}
	contextText := council.Assemble(transcript, level)
	prompt := council.BuildSpeakerPrompt(contextText, content)

	req := llm.Request{
		Model:        chairman.ModelID,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		SystemPrompt: chairman.SystemPrompt,
		MaxTokens:    chairman.MaxOutputTokens,
	}

	var result llm.Result
	if onChunk != nil {
		result = s.invoker.InvokeStream(ctx, req, onChunk)
	} else {
		result = s.invoker.Invoke(ctx, req)
	}

	out := &RunOutput{Type: RunOutputSpeaker, Model: chairman.Alias}
	if !result.OK() {
		klog.V(6).Infof("[CouncilService] 发言人调用失败: model=%s, err=%s", chairman.ModelID, result.Err)
		out.Response = speakerFailureText
	} else {
		out.Response = result.Text
		out.TokenCount = council.EstimateTokens(prompt + result.Text)
	}

	message := &model.Message{
		ConversationID:  conversationID,
		Role:            council.TranscriptRoleAssistant,
		MessageType:     model.MessageTypeSpeaker,
		SpeakerResponse: out.Response,
		TokenCount:      out.TokenCount,
	}
	if err := s.msgRepo.Create(message); err != nil {
		return nil, fmt.Errorf("保存发言人消息失败: %w", err)
	}

	s.publish(ctx, eventbus.RunEvent{
		Type:           eventbus.RunEventSpeakerReplied,
		ConversationID: conversationID,
		StageCount:     1,
		TokenCount:     out.TokenCount,
	})
	return out, nil
}

func (s *councilService) addUserMessage(conversationID string, content string) error {
	message := &model.Message{
		ConversationID: conversationID,
		Role:           council.TranscriptRoleUser,
		Content:        content,
		TokenCount:     council.EstimateTokens(content),
	}
	if err := s.msgRepo.Create(message); err != nil {
		return fmt.Errorf("保存用户消息失败: %w", err)
	}
	return nil
}

func (s *councilService) persistCouncilMessage(conversationID string, result *council.RunResult, tokenCount int) error {
	stagesJSON, err := json.Marshal(result.Stages)
	if err != nil {
		return fmt.Errorf("序列化阶段结果失败: %w", err)
	}
	metadataJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("序列化运行元数据失败: %w", err)
	}

	message := &model.Message{
		ConversationID: conversationID,
		Role:           council.TranscriptRoleAssistant,
		MessageType:    model.MessageTypeCouncil,
		StagesJSON:     string(stagesJSON),
		MetadataJSON:   string(metadataJSON),
		TokenCount:     tokenCount,
	}
	if err := s.msgRepo.Create(message); err != nil {
		return fmt.Errorf("保存议会消息失败: %w", err)
	}
	return nil
}

func (s *councilService) finishCancelled(ctx context.Context, bridge *stream.Bridge, conversationID string) {
	bridge.Finish(stream.Event{Type: stream.EventCancelled})
	s.publish(ctx, eventbus.RunEvent{Type: eventbus.RunEventCancelled, ConversationID: conversationID})
}

func (s *councilService) publish(ctx context.Context, event eventbus.RunEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		klog.Errorf("运行事件发布失败: type=%s, err=%v", event.Type, err)
	}
}

// estimateRunTokens 粗略估算一次运行产出的 token 总量
func estimateRunTokens(result *council.RunResult) int {
	total := 0
	for _, stage := range result.Stages {
		for _, response := range stage.Responses {
			total += council.EstimateTokens(response.Text)
		}
		for _, ranking := range stage.Rankings {
			total += council.EstimateTokens(ranking.RawText)
		}
		if stage.Synthesis != nil {
			total += council.EstimateTokens(stage.Synthesis.Text)
		}
	}
	return total
}
