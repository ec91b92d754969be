package council

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SettingsVersion 当前设置结构版本
const SettingsVersion = 2

// DefaultSpeakerContextLevel 追问上下文保真度的缺省档位
const DefaultSpeakerContextLevel = FidelityFull

// 缺省成员模型
var (
	defaultCouncilModels = []string{
		"us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		"us.anthropic.claude-opus-4-5-20251101-v1:0",
		"us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		"us.anthropic.claude-haiku-4-5-20251001-v1:0",
	}
	defaultCouncilAliases = []string{
		"Claude Sonnet 4.5",
		"Claude Opus 4.5",
		"Claude Sonnet 3.7",
		"Claude Haiku 4.5",
	}
)

const (
	defaultChairmanModel = "us.anthropic.claude-opus-4-5-20251101-v1:0"
	defaultChairmanAlias = "Chairman"
	defaultTitleModel    = "us.anthropic.claude-haiku-4-5-20251001-v1:0"
)

// Settings 完整的议会设置，Snapshot 之上再带版本与规模上限。
// 嵌入让 JSON 字段保持平铺。
type Settings struct {
	Version    int `json:"version"`
	MaxMembers int `json:"max_members"`
	Snapshot
}

// DefaultStages 按成员列表构建缺省三阶段流水线
func DefaultStages(members []Member, chairmanID string) []Stage {
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		if m.ID != "" {
			memberIDs = append(memberIDs, m.ID)
		}
	}

	defaultChairman := ""
	for _, id := range memberIDs {
		if id == chairmanID {
			defaultChairman = chairmanID
			break
		}
	}
	if defaultChairman == "" && len(memberIDs) > 0 {
		defaultChairman = memberIDs[0]
	}

	synthesisMembers := []string{}
	if defaultChairman != "" {
		synthesisMembers = []string{defaultChairman}
	}

	return []Stage{
		{
			ID:            "stage-1",
			Name:          "Individual Responses",
			Kind:          StageKindResponses,
			ExecutionMode: ModeParallel,
			Prompt:        "",
			MemberIDs:     memberIDs,
		},
		{
			ID:            "stage-2",
			Name:          "Peer Rankings",
			Kind:          StageKindRankings,
			ExecutionMode: ModeParallel,
			Prompt:        DefaultRankingsPrompt,
			MemberIDs:     memberIDs,
		},
		{
			ID:            "stage-3",
			Name:          "Final Synthesis",
			Kind:          StageKindSynthesis,
			ExecutionMode: ModeSequential,
			Prompt:        DefaultSynthesisPrompt,
			MemberIDs:     synthesisMembers,
		},
	}
}

// EnsureStageConfig 补齐阶段配置：缺阶段则生成缺省流水线，
// 空模板的排名/综合阶段回填缺省模板。
func EnsureStageConfig(s *Settings) {
	if len(s.Stages) == 0 {
		s.Stages = DefaultStages(s.Members, s.ChairmanID)
		return
	}
	for i := range s.Stages {
		if strings.TrimSpace(s.Stages[i].Prompt) != "" {
			continue
		}
		switch s.Stages[i].Kind {
		case StageKindRankings:
			s.Stages[i].Prompt = DefaultRankingsPrompt
		case StageKindSynthesis:
			s.Stages[i].Prompt = DefaultSynthesisPrompt
		}
	}
}

// DefaultSettings 构建缺省设置
func DefaultSettings() Settings {
	members := make([]Member, 0, len(defaultCouncilModels))
	for i, modelID := range defaultCouncilModels {
		alias := "Member"
		if i < len(defaultCouncilAliases) {
			alias = defaultCouncilAliases[i]
		}
		members = append(members, Member{
			ID:      uuid.NewString(),
			Alias:   alias,
			ModelID: modelID,
		})
	}

	chairmanID := ""
	for _, m := range members {
		if m.ModelID == defaultChairmanModel {
			chairmanID = m.ID
			break
		}
	}
	if chairmanID == "" && len(members) > 0 {
		chairmanID = members[0].ID
	}

	s := Settings{
		Version:    SettingsVersion,
		MaxMembers: MaxMembers,
		Snapshot: Snapshot{
			Members:                  members,
			ChairmanID:               chairmanID,
			ChairmanLabel:            defaultChairmanAlias,
			TitleModelID:             defaultTitleModel,
			UseSystemPromptRankings:  true,
			UseSystemPromptSynthesis: true,
			SpeakerContextLevel:      DefaultSpeakerContextLevel,
		},
	}
	EnsureStageConfig(&s)
	return s
}

// Upgrade 为旧版本设置补齐新增字段，返回是否有变更
func Upgrade(s *Settings) bool {
	changed := false
	if s.Version < SettingsVersion {
		s.Version = SettingsVersion
		changed = true
	}
	if s.MaxMembers == 0 {
		s.MaxMembers = MaxMembers
		changed = true
	}
	if s.ChairmanLabel == "" {
		s.ChairmanLabel = defaultChairmanAlias
		changed = true
	}
	if s.SpeakerContextLevel == "" {
		s.SpeakerContextLevel = DefaultSpeakerContextLevel
		changed = true
	}
	if len(s.Stages) == 0 {
		EnsureStageConfig(s)
		changed = true
	}
	return changed
}

// Instantiate 把预设设置实例化为一份可用的新设置，纯函数：
// 所有成员铸造全新 id，主席引用和各阶段成员引用同步重映射，
// 输入不被修改。
func Instantiate(preset Settings) Settings {
	out := preset
	out.Version = SettingsVersion
	if out.MaxMembers == 0 {
		out.MaxMembers = MaxMembers
	}

	idMap := make(map[string]string, len(preset.Members))
	out.Members = make([]Member, len(preset.Members))
	for i, m := range preset.Members {
		fresh := m
		fresh.ID = uuid.NewString()
		idMap[m.ID] = fresh.ID
		out.Members[i] = fresh
	}

	if mapped, ok := idMap[preset.ChairmanID]; ok {
		out.ChairmanID = mapped
	} else if len(out.Members) > 0 {
		out.ChairmanID = out.Members[0].ID
	}

	out.Stages = make([]Stage, len(preset.Stages))
	for i, stage := range preset.Stages {
		next := stage
		next.MemberIDs = make([]string, 0, len(stage.MemberIDs))
		for _, id := range stage.MemberIDs {
			if mapped, ok := idMap[id]; ok {
				next.MemberIDs = append(next.MemberIDs, mapped)
			}
		}
		out.Stages[i] = next
	}

	EnsureStageConfig(&out)
	if out.SpeakerContextLevel == "" {
		out.SpeakerContextLevel = DefaultSpeakerContextLevel
	}
	return out
}

// FourMemberPreset 内置的四成员缺省预设
func FourMemberPreset() Settings {
	memberModel := "us.anthropic.claude-haiku-4-5-20251001-v1:0"
	chairmanModel := "us.anthropic.claude-sonnet-4-5-20250929-v1:0"

	members := make([]Member, 0, 4)
	for i := 0; i < 4; i++ {
		modelID := memberModel
		if i == 0 {
			modelID = chairmanModel
		}
		members = append(members, Member{
			ID:      uuid.NewString(),
			Alias:   fmt.Sprintf("Member %d", i+1),
			ModelID: modelID,
		})
	}

	s := Settings{
		Version:    SettingsVersion,
		MaxMembers: MaxMembers,
		Snapshot: Snapshot{
			Members:                  members,
			ChairmanID:               members[0].ID,
			ChairmanLabel:            defaultChairmanAlias,
			TitleModelID:             defaultTitleModel,
			UseSystemPromptRankings:  true,
			UseSystemPromptSynthesis: true,
			SpeakerContextLevel:      DefaultSpeakerContextLevel,
		},
	}
	EnsureStageConfig(&s)
	return s
}
