package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faridhamidi/llm-council/internal/council"
	"github.com/faridhamidi/llm-council/internal/model"
	"github.com/faridhamidi/llm-council/internal/repository"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

var ErrConversationNotFound = errors.New("conversation not found")

// MessageDTO 对外呈现的一条消息，JSON 字段已解码
type MessageDTO struct {
	ID          uint                  `json:"id"`
	Role        string                `json:"role"`
	Content     string                `json:"content,omitempty"`
	MessageType string                `json:"message_type,omitempty"`
	Stages      []council.StageResult `json:"stages,omitempty"`
	Metadata    *council.Metadata     `json:"metadata,omitempty"`
	Response    string                `json:"response,omitempty"`
	TokenCount  int                   `json:"token_count,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// ConversationDTO 对外呈现的会话
type ConversationDTO struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Mode      string       `json:"mode"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
	Messages  []MessageDTO `json:"messages,omitempty"`
}

// ConversationService 会话服务接口
type ConversationService interface {
	Create(ctx context.Context, title string) (*ConversationDTO, error)
	List(ctx context.Context) ([]ConversationDTO, error)
	ListTrash(ctx context.Context) ([]ConversationDTO, error)
	Get(ctx context.Context, id string) (*ConversationDTO, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*ConversationDTO, error)
	Purge(ctx context.Context, id string) error
	UpdateTitle(ctx context.Context, id string, title string) error
	SettingsSnapshot(ctx context.Context, id string) (*council.Snapshot, error)
	Transcript(ctx context.Context, id string) ([]council.TranscriptMessage, error)
}

type conversationService struct {
	convRepo        repository.ConversationRepository
	msgRepo         repository.MessageRepository
	settingsService SettingsService
}

// NewConversationService 创建会话服务
func NewConversationService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, settingsService SettingsService) ConversationService {
	return &conversationService{convRepo: convRepo, msgRepo: msgRepo, settingsService: settingsService}
}

// Create 新建会话。当前议会设置在此刻冻结为快照，
// 之后的设置修改不影响已有会话。
func (s *conversationService) Create(ctx context.Context, title string) (*ConversationDTO, error) {
	settings, err := s.settingsService.Get(ctx)
	if err != nil {
		return nil, err
	}
	snapshot, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("序列化设置快照失败: %w", err)
	}

	if strings.TrimSpace(title) == "" {
		title = council.FallbackTitle
	}
	conversation := &model.Conversation{
		ID:               uuid.NewString(),
		Title:            title,
		Mode:             "council",
		SettingsSnapshot: string(snapshot),
	}
	if err := s.convRepo.Create(conversation); err != nil {
		return nil, err
	}
	klog.V(6).Infof("[ConversationService] 会话已创建: id=%s", conversation.ID)
	return toConversationDTO(conversation, nil), nil
}

func (s *conversationService) List(ctx context.Context) ([]ConversationDTO, error) {
	conversations, err := s.convRepo.List()
	if err != nil {
		return nil, err
	}
	return toConversationDTOs(conversations), nil
}

func (s *conversationService) ListTrash(ctx context.Context) ([]ConversationDTO, error) {
	conversations, err := s.convRepo.ListDeleted()
	if err != nil {
		return nil, err
	}
	return toConversationDTOs(conversations), nil
}

func (s *conversationService) Get(ctx context.Context, id string) (*ConversationDTO, error) {
	conversation, err := s.convRepo.GetWithMessages(id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	// 回收站里的会话对常规读取不可见
	if conversation.DeletedAt != nil {
		return nil, ErrConversationNotFound
	}

	messages := make([]MessageDTO, 0, len(conversation.Messages))
	for i := range conversation.Messages {
		messages = append(messages, toMessageDTO(&conversation.Messages[i]))
	}
	return toConversationDTO(conversation, messages), nil
}

func (s *conversationService) Delete(ctx context.Context, id string) error {
	err := s.convRepo.SoftDelete(id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

func (s *conversationService) Restore(ctx context.Context, id string) (*ConversationDTO, error) {
	err := s.convRepo.Restore(id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *conversationService) Purge(ctx context.Context, id string) error {
	if _, err := s.convRepo.Get(id); errors.Is(err, repository.ErrNotFound) {
		return ErrConversationNotFound
	} else if err != nil {
		return err
	}
	return s.convRepo.Purge(id)
}

func (s *conversationService) UpdateTitle(ctx context.Context, id string, title string) error {
	err := s.convRepo.UpdateTitle(id, title)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// SettingsSnapshot 取会话创建时冻结的配置快照，
// 历史会话缺快照时回落到当前设置。
func (s *conversationService) SettingsSnapshot(ctx context.Context, id string) (*council.Snapshot, error) {
	conversation, err := s.convRepo.Get(id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(conversation.SettingsSnapshot) != "" {
		var settings council.Settings
		if err := json.Unmarshal([]byte(conversation.SettingsSnapshot), &settings); err == nil {
			council.Upgrade(&settings)
			snapshot := settings.Snapshot
			return &snapshot, nil
		}
		klog.Warningf("会话设置快照损坏，回落当前设置: id=%s", id)
	}
	return s.settingsService.Snapshot(ctx)
}

// Transcript 把会话消息转换为上下文组装器的输入
func (s *conversationService) Transcript(ctx context.Context, id string) ([]council.TranscriptMessage, error) {
	messages, err := s.msgRepo.GetByConversation(id)
	if err != nil {
		return nil, err
	}
	transcript := make([]council.TranscriptMessage, 0, len(messages))
	for i := range messages {
		transcript = append(transcript, toTranscriptMessage(&messages[i]))
	}
	return transcript, nil
}

func toConversationDTO(conversation *model.Conversation, messages []MessageDTO) *ConversationDTO {
	return &ConversationDTO{
		ID:        conversation.ID,
		Title:     conversation.Title,
		Mode:      conversation.Mode,
		CreatedAt: conversation.CreatedAt,
		UpdatedAt: conversation.UpdatedAt,
		DeletedAt: conversation.DeletedAt,
		Messages:  messages,
	}
}

func toConversationDTOs(conversations []model.Conversation) []ConversationDTO {
	dtos := make([]ConversationDTO, 0, len(conversations))
	for i := range conversations {
		dtos = append(dtos, *toConversationDTO(&conversations[i], nil))
	}
	return dtos
}

func toMessageDTO(message *model.Message) MessageDTO {
	dto := MessageDTO{
		ID:          message.ID,
		Role:        message.Role,
		Content:     message.Content,
		MessageType: message.MessageType,
		Response:    message.SpeakerResponse,
		TokenCount:  message.TokenCount,
		CreatedAt:   message.CreatedAt,
	}
	if message.StagesJSON != "" {
		var stages []council.StageResult
		if err := json.Unmarshal([]byte(message.StagesJSON), &stages); err == nil {
			dto.Stages = stages
		} else {
			klog.Warningf("消息阶段数据损坏: messageID=%d, err=%v", message.ID, err)
		}
	}
	if message.MetadataJSON != "" {
		var metadata council.Metadata
		if err := json.Unmarshal([]byte(message.MetadataJSON), &metadata); err == nil {
			dto.Metadata = &metadata
		}
	}
	return dto
}

func toTranscriptMessage(message *model.Message) council.TranscriptMessage {
	tm := council.TranscriptMessage{
		Role: message.Role,
		Kind: message.MessageType,
	}
	switch {
	case message.Role == council.TranscriptRoleUser:
		tm.Content = message.Content
	case message.MessageType == model.MessageTypeSpeaker:
		tm.Content = message.SpeakerResponse
	case message.MessageType == model.MessageTypeCouncil && message.StagesJSON != "":
		var stages []council.StageResult
		if err := json.Unmarshal([]byte(message.StagesJSON), &stages); err == nil {
			tm.Stages = stages
		}
	}
	return tm
}
