package repository

import (
	"errors"

	"github.com/faridhamidi/llm-council/internal/model"
	"gorm.io/gorm"
)

// settingsRecordID 设置单行记录的固定主键
const settingsRecordID = 1

type settingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get() (*model.SettingsRecord, error) {
	var record model.SettingsRecord
	err := r.db.First(&record, "id = ?", settingsRecordID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *settingsRepository) Save(record *model.SettingsRecord) error {
	record.ID = settingsRecordID
	var existing model.SettingsRecord
	err := r.db.First(&existing, "id = ?", settingsRecordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(record).Error
	}
	if err != nil {
		return err
	}
	return r.db.Save(record).Error
}
