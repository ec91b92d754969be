package repository

import (
	"errors"

	"github.com/faridhamidi/llm-council/internal/model"
	"gorm.io/gorm"
)

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(message *model.Message) error {
	return r.db.Create(message).Error
}

func (r *messageRepository) GetByConversation(conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

// DeleteLastAssistant 删除会话中最后一条助手消息，用于失败运行的清场。
// 返回是否确有消息被删除。
func (r *messageRepository) DeleteLastAssistant(conversationID string) (bool, error) {
	var message model.Message
	err := r.db.Where("conversation_id = ? AND role = ?", conversationID, "assistant").
		Order("id DESC").
		First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := r.db.Delete(&message).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *messageRepository) DeleteByConversation(conversationID string) error {
	return r.db.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error
}
