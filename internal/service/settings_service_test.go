package service

import (
	"context"
	"errors"
	"testing"

	"github.com/faridhamidi/llm-council/internal/council"
)

func TestSettingsGetInitializesDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	settings, err := env.settings.Get(ctx)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if settings.Version != council.SettingsVersion {
		t.Fatalf("版本应为 %d, got %d", council.SettingsVersion, settings.Version)
	}
	if len(settings.Members) == 0 {
		t.Fatal("缺省设置应带成员列表")
	}
	if len(settings.Stages) != 3 {
		t.Fatalf("缺省设置应有三个阶段, got %d", len(settings.Stages))
	}

	// 再次读取走持久化记录
	again, err := env.settings.Get(ctx)
	if err != nil {
		t.Fatalf("second Get error: %v", err)
	}
	if again.ChairmanID != settings.ChairmanID {
		t.Fatal("两次读取设置应一致")
	}
}

func TestSettingsUpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	settings, err := env.settings.Get(ctx)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	settings.Members = nil
	if _, err := env.settings.Update(ctx, *settings); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("空成员列表应判为非法设置, got %v", err)
	}
}

func TestSettingsUpdateRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	settings, err := env.settings.Get(ctx)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	settings.Members[0].Alias = "改名成员"

	updated, err := env.settings.Update(ctx, *settings)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Members[0].Alias != "改名成员" {
		t.Fatal("更新后的别名未生效")
	}

	reloaded, err := env.settings.Get(ctx)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if reloaded.Members[0].Alias != "改名成员" {
		t.Fatal("更新未持久化")
	}
}

func TestPresetSeedingAndApply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	presets, err := env.settings.ListPresets(ctx)
	if err != nil {
		t.Fatalf("ListPresets error: %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("应有两个内置预设, got %d", len(presets))
	}

	var fourMember *PresetDTO
	for i := range presets {
		if presets[i].Name == "Default 4 Members" {
			fourMember = &presets[i]
		}
	}
	if fourMember == nil {
		t.Fatal("缺少内置预设 Default 4 Members")
	}

	before, err := env.settings.GetPreset(ctx, fourMember.ID)
	if err != nil {
		t.Fatalf("GetPreset error: %v", err)
	}

	applied, err := env.settings.ApplyPreset(ctx, fourMember.ID)
	if err != nil {
		t.Fatalf("ApplyPreset error: %v", err)
	}
	if len(applied.Members) != len(before.Settings.Members) {
		t.Fatalf("应用预设后成员数不符: got %d, want %d", len(applied.Members), len(before.Settings.Members))
	}
	// 应用时重铸成员 id，预设本身不被改动
	for i := range applied.Members {
		if applied.Members[i].ID == before.Settings.Members[i].ID {
			t.Fatalf("成员 %d 的 id 应重铸", i)
		}
		if applied.Members[i].ModelID != before.Settings.Members[i].ModelID {
			t.Fatalf("成员 %d 的模型应保持不变", i)
		}
	}

	current, err := env.settings.Get(ctx)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if current.ChairmanID != applied.ChairmanID {
		t.Fatal("应用预设后当前设置应被替换")
	}
}

func TestPresetSaveOverwritesByNameCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	settings, err := env.settings.Get(ctx)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	first, err := env.settings.SavePreset(ctx, "My Preset", *settings)
	if err != nil {
		t.Fatalf("SavePreset error: %v", err)
	}
	second, err := env.settings.SavePreset(ctx, "my preset", *settings)
	if err != nil {
		t.Fatalf("second SavePreset error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("同名预设应覆盖而非新建")
	}

	if err := env.settings.DeletePreset(ctx, first.ID); err != nil {
		t.Fatalf("DeletePreset error: %v", err)
	}
	if _, err := env.settings.GetPreset(ctx, first.ID); !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("删除后读取应报不存在, got %v", err)
	}
}
