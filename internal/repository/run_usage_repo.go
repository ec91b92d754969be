package repository

import (
	"database/sql"

	"github.com/faridhamidi/llm-council/internal/model"
	"gorm.io/gorm"
)

type runUsageRepository struct {
	db *gorm.DB
}

func NewRunUsageRepository(db *gorm.DB) RunUsageRepository {
	return &runUsageRepository{db: db}
}

func (r *runUsageRepository) Create(usage *model.RunUsage) error {
	return r.db.Create(usage).Error
}

func (r *runUsageRepository) GetByConversation(conversationID string) ([]model.RunUsage, error) {
	var usages []model.RunUsage
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&usages).Error
	return usages, err
}

func (r *runUsageRepository) TotalTokens(conversationID string) (int64, error) {
	var total sql.NullInt64
	err := r.db.Model(&model.RunUsage{}).
		Where("conversation_id = ?", conversationID).
		Select("SUM(token_count)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}
