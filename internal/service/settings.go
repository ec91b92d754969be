package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faridhamidi/llm-council/internal/council"
	"github.com/faridhamidi/llm-council/internal/model"
	"github.com/faridhamidi/llm-council/internal/repository"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

var (
	ErrInvalidSettings = errors.New("invalid council settings")
	ErrPresetNotFound  = errors.New("preset not found")
)

// PresetDTO 预设信息
type PresetDTO struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Settings  *council.Settings `json:"settings,omitempty"`
}

// SettingsService 议会设置服务接口
type SettingsService interface {
	Get(ctx context.Context) (*council.Settings, error)
	Update(ctx context.Context, settings council.Settings) (*council.Settings, error)
	Snapshot(ctx context.Context) (*council.Snapshot, error)

	ListPresets(ctx context.Context) ([]PresetDTO, error)
	GetPreset(ctx context.Context, id string) (*PresetDTO, error)
	SavePreset(ctx context.Context, name string, settings council.Settings) (*PresetDTO, error)
	DeletePreset(ctx context.Context, id string) error
	ApplyPreset(ctx context.Context, id string) (*council.Settings, error)
}

type settingsService struct {
	settingsRepo repository.SettingsRepository
	presetRepo   repository.PresetRepository
	seedOnce     sync.Once
}

// NewSettingsService 创建设置服务
func NewSettingsService(settingsRepo repository.SettingsRepository, presetRepo repository.PresetRepository) SettingsService {
	return &settingsService{settingsRepo: settingsRepo, presetRepo: presetRepo}
}

// Get 读取当前设置。首次访问落缺省设置，旧版本负载自动升级回写。
func (s *settingsService) Get(ctx context.Context) (*council.Settings, error) {
	record, err := s.settingsRepo.Get()
	if errors.Is(err, repository.ErrNotFound) {
		settings := council.DefaultSettings()
		if err := s.save(&settings); err != nil {
			return nil, err
		}
		klog.V(6).Infof("[SettingsService] 初始化缺省设置")
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}

	var settings council.Settings
	if err := json.Unmarshal([]byte(record.SettingsJSON), &settings); err != nil {
		return nil, fmt.Errorf("解析设置失败: %w", err)
	}
	if council.Upgrade(&settings) {
		if err := s.save(&settings); err != nil {
			return nil, err
		}
		klog.V(6).Infof("[SettingsService] 旧版本设置已升级")
	}
	return &settings, nil
}

// Update 校验并保存新设置
func (s *settingsService) Update(ctx context.Context, settings council.Settings) (*council.Settings, error) {
	settings.Version = council.SettingsVersion
	if settings.MaxMembers == 0 {
		settings.MaxMembers = council.MaxMembers
	}
	council.EnsureStageConfig(&settings)
	if settings.SpeakerContextLevel == "" {
		settings.SpeakerContextLevel = council.DefaultSpeakerContextLevel
	}

	if errs := council.Validate(&settings.Snapshot); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(errs, "; "))
	}
	if err := s.save(&settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Snapshot 返回当前设置的运行快照
func (s *settingsService) Snapshot(ctx context.Context) (*council.Snapshot, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := settings.Snapshot
	return &snapshot, nil
}

func (s *settingsService) save(settings *council.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("序列化设置失败: %w", err)
	}
	return s.settingsRepo.Save(&model.SettingsRecord{SettingsJSON: string(payload)})
}

// seedDefaultPresets 预设表为空时写入内置预设
func (s *settingsService) seedDefaultPresets(ctx context.Context) {
	s.seedOnce.Do(func() {
		count, err := s.presetRepo.Count()
		if err != nil || count > 0 {
			return
		}
		current, err := s.Get(ctx)
		if err != nil {
			klog.Errorf("内置预设初始化失败: %v", err)
			return
		}
		seeds := []struct {
			name     string
			settings council.Settings
		}{
			{"Current Council", *current},
			{"Default 4 Members", council.FourMemberPreset()},
		}
		for _, seed := range seeds {
			payload, err := json.Marshal(seed.settings)
			if err != nil {
				continue
			}
			preset := &model.Preset{
				ID:           uuid.NewString(),
				Name:         seed.name,
				SettingsJSON: string(payload),
			}
			if err := s.presetRepo.Create(preset); err != nil {
				klog.Errorf("内置预设写入失败: name=%s, err=%v", seed.name, err)
			}
		}
		klog.V(6).Infof("[SettingsService] 内置预设已初始化")
	})
}

func (s *settingsService) ListPresets(ctx context.Context) ([]PresetDTO, error) {
	s.seedDefaultPresets(ctx)
	presets, err := s.presetRepo.List()
	if err != nil {
		return nil, err
	}
	dtos := make([]PresetDTO, 0, len(presets))
	for _, preset := range presets {
		dtos = append(dtos, PresetDTO{
			ID:        preset.ID,
			Name:      preset.Name,
			CreatedAt: preset.CreatedAt,
			UpdatedAt: preset.UpdatedAt,
		})
	}
	return dtos, nil
}

func (s *settingsService) GetPreset(ctx context.Context, id string) (*PresetDTO, error) {
	s.seedDefaultPresets(ctx)
	preset, err := s.presetRepo.Get(id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPresetNotFound
	}
	if err != nil {
		return nil, err
	}
	var settings council.Settings
	if err := json.Unmarshal([]byte(preset.SettingsJSON), &settings); err != nil {
		return nil, fmt.Errorf("解析预设失败: %w", err)
	}
	return &PresetDTO{
		ID:        preset.ID,
		Name:      preset.Name,
		CreatedAt: preset.CreatedAt,
		UpdatedAt: preset.UpdatedAt,
		Settings:  &settings,
	}, nil
}

// SavePreset 按名字保存预设，同名(不区分大小写)覆盖
func (s *settingsService) SavePreset(ctx context.Context, name string, settings council.Settings) (*PresetDTO, error) {
	s.seedDefaultPresets(ctx)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: preset name is required", ErrInvalidSettings)
	}

	payload, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("序列化预设失败: %w", err)
	}

	existing, err := s.presetRepo.GetByName(name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		existing.Name = name
		existing.SettingsJSON = string(payload)
		if err := s.presetRepo.Save(existing); err != nil {
			return nil, err
		}
		return &PresetDTO{ID: existing.ID, Name: existing.Name, CreatedAt: existing.CreatedAt, UpdatedAt: existing.UpdatedAt}, nil
	}

	preset := &model.Preset{
		ID:           uuid.NewString(),
		Name:         name,
		SettingsJSON: string(payload),
	}
	if err := s.presetRepo.Create(preset); err != nil {
		return nil, err
	}
	return &PresetDTO{ID: preset.ID, Name: preset.Name, CreatedAt: preset.CreatedAt, UpdatedAt: preset.UpdatedAt}, nil
}

func (s *settingsService) DeletePreset(ctx context.Context, id string) error {
	err := s.presetRepo.Delete(id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPresetNotFound
	}
	return err
}

// ApplyPreset 实例化预设为当前设置。实例化铸造全新成员 id，
// 预设本体不受影响。
func (s *settingsService) ApplyPreset(ctx context.Context, id string) (*council.Settings, error) {
	preset, err := s.GetPreset(ctx, id)
	if err != nil {
		return nil, err
	}
	instantiated := council.Instantiate(*preset.Settings)
	return s.Update(ctx, instantiated)
}
