package repository

import (
	"errors"
	"strings"

	"github.com/faridhamidi/llm-council/internal/model"
	"gorm.io/gorm"
)

type presetRepository struct {
	db *gorm.DB
}

func NewPresetRepository(db *gorm.DB) PresetRepository {
	return &presetRepository{db: db}
}

func (r *presetRepository) Create(preset *model.Preset) error {
	return r.db.Create(preset).Error
}

func (r *presetRepository) List() ([]model.Preset, error) {
	var presets []model.Preset
	err := r.db.Order("created_at DESC").Find(&presets).Error
	return presets, err
}

func (r *presetRepository) Get(id string) (*model.Preset, error) {
	var preset model.Preset
	err := r.db.First(&preset, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &preset, nil
}

// GetByName 预设名不区分大小写
func (r *presetRepository) GetByName(name string) (*model.Preset, error) {
	var preset model.Preset
	err := r.db.Where("lower(name) = ?", strings.ToLower(name)).First(&preset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &preset, nil
}

func (r *presetRepository) Save(preset *model.Preset) error {
	return r.db.Save(preset).Error
}

func (r *presetRepository) Delete(id string) error {
	result := r.db.Delete(&model.Preset{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *presetRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.Preset{}).Count(&count).Error
	return count, err
}
