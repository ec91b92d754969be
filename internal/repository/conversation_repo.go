package repository

import (
	"errors"
	"time"

	"github.com/faridhamidi/llm-council/internal/model"
	"gorm.io/gorm"
)

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(conversation *model.Conversation) error {
	return r.db.Create(conversation).Error
}

func (r *conversationRepository) List() ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.Where("deleted_at IS NULL").
		Order("updated_at DESC").
		Find(&conversations).Error
	return conversations, err
}

func (r *conversationRepository) ListDeleted() ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.Where("deleted_at IS NOT NULL").
		Order("deleted_at DESC").
		Find(&conversations).Error
	return conversations, err
}

func (r *conversationRepository) Get(id string) (*model.Conversation, error) {
	var conversation model.Conversation
	err := r.db.First(&conversation, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conversation, nil
}

func (r *conversationRepository) GetWithMessages(id string) (*model.Conversation, error) {
	var conversation model.Conversation
	err := r.db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("messages.id ASC")
	}).First(&conversation, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conversation, nil
}

func (r *conversationRepository) Save(conversation *model.Conversation) error {
	return r.db.Save(conversation).Error
}

func (r *conversationRepository) UpdateTitle(id string, title string) error {
	result := r.db.Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("title", title)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete 移入回收站
func (r *conversationRepository) SoftDelete(id string) error {
	now := time.Now()
	result := r.db.Model(&model.Conversation{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", &now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore 从回收站恢复
func (r *conversationRepository) Restore(id string) error {
	result := r.db.Model(&model.Conversation{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Purge 彻底删除会话及其消息
func (r *conversationRepository) Purge(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&model.RunUsage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Conversation{}, "id = ?", id).Error
	})
}
