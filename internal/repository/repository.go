package repository

import (
	"errors"

	"github.com/faridhamidi/llm-council/internal/model"
)

// ErrNotFound 记录不存在错误
var ErrNotFound = errors.New("record not found")

type ConversationRepository interface {
	Create(conversation *model.Conversation) error
	List() ([]model.Conversation, error)
	ListDeleted() ([]model.Conversation, error)
	Get(id string) (*model.Conversation, error)
	GetWithMessages(id string) (*model.Conversation, error)
	Save(conversation *model.Conversation) error
	UpdateTitle(id string, title string) error
	SoftDelete(id string) error
	Restore(id string) error
	Purge(id string) error
}

type MessageRepository interface {
	Create(message *model.Message) error
	GetByConversation(conversationID string) ([]model.Message, error)
	DeleteLastAssistant(conversationID string) (bool, error)
	DeleteByConversation(conversationID string) error
}

type SettingsRepository interface {
	Get() (*model.SettingsRecord, error)
	Save(record *model.SettingsRecord) error
}

type PresetRepository interface {
	Create(preset *model.Preset) error
	List() ([]model.Preset, error)
	Get(id string) (*model.Preset, error)
	GetByName(name string) (*model.Preset, error)
	Save(preset *model.Preset) error
	Delete(id string) error
	Count() (int64, error)
}

type RunUsageRepository interface {
	Create(usage *model.RunUsage) error
	GetByConversation(conversationID string) ([]model.RunUsage, error)
	TotalTokens(conversationID string) (int64, error)
}
