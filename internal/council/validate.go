package council

import (
	"fmt"
)

// 配置上限
const (
	MaxMembers      = 7
	MaxStages       = 10
	MaxStageMembers = 5
)

// Validate 校验一份配置快照，返回全部问题的描述列表。
// 返回空切片表示配置合法。
func Validate(s *Snapshot) []string {
	var errs []string

	if len(s.Members) == 0 {
		errs = append(errs, "at least one council member is required")
	}
	if len(s.Members) > MaxMembers {
		errs = append(errs, fmt.Sprintf("members count %d exceeds max members %d", len(s.Members), MaxMembers))
	}

	memberIDs := make(map[string]bool, len(s.Members))
	for i, member := range s.Members {
		if member.ID == "" {
			errs = append(errs, fmt.Sprintf("member %d: id is required", i+1))
			continue
		}
		if memberIDs[member.ID] {
			errs = append(errs, fmt.Sprintf("member id %q is duplicated", member.ID))
		}
		memberIDs[member.ID] = true
		if member.Alias == "" {
			errs = append(errs, fmt.Sprintf("member %q: alias is required", member.ID))
		}
		if member.ModelID == "" {
			errs = append(errs, fmt.Sprintf("member %q: model_id is required", member.ID))
		}
	}

	if s.ChairmanID != "" && !memberIDs[s.ChairmanID] {
		errs = append(errs, fmt.Sprintf("chairman_id %q does not reference a member", s.ChairmanID))
	}

	if len(s.Stages) == 0 {
		errs = append(errs, "at least one stage is required")
		return errs
	}
	if len(s.Stages) > MaxStages {
		errs = append(errs, fmt.Sprintf("stages count %d exceeds max stages %d", len(s.Stages), MaxStages))
	}

	stageIDs := make(map[string]bool, len(s.Stages))
	synthesisCount := 0
	seenResponses := false
	for i, stage := range s.Stages {
		label := stage.ID
		if label == "" {
			label = fmt.Sprintf("stage %d", i+1)
		}
		if stage.ID != "" && stageIDs[stage.ID] {
			errs = append(errs, fmt.Sprintf("stage id %q is duplicated", stage.ID))
		}
		stageIDs[stage.ID] = true

		switch stage.Kind {
		case StageKindResponses:
			seenResponses = true
		case StageKindRankings:
			if !seenResponses {
				errs = append(errs, fmt.Sprintf("%s: rankings stage requires a preceding responses stage", label))
			}
		case StageKindSynthesis:
			synthesisCount++
			if i != len(s.Stages)-1 {
				errs = append(errs, fmt.Sprintf("%s: synthesis stage must be the last stage", label))
			}
			if len(stage.MemberIDs) != 1 {
				errs = append(errs, fmt.Sprintf("%s: synthesis stage must have exactly one member", label))
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown stage kind %q", label, stage.Kind))
		}

		switch stage.ExecutionMode {
		case ModeParallel, ModeSequential:
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown execution_mode %q", label, stage.ExecutionMode))
		}

		if len(stage.MemberIDs) == 0 {
			errs = append(errs, fmt.Sprintf("%s: at least one member is required", label))
		}
		if len(stage.MemberIDs) > MaxStageMembers {
			errs = append(errs, fmt.Sprintf("%s: member count %d exceeds max members per stage %d", label, len(stage.MemberIDs), MaxStageMembers))
		}
		for _, id := range stage.MemberIDs {
			if !memberIDs[id] {
				errs = append(errs, fmt.Sprintf("%s: member id %q does not reference a member", label, id))
			}
		}
	}

	if synthesisCount != 1 {
		errs = append(errs, fmt.Sprintf("exactly one synthesis stage is required, found %d", synthesisCount))
	}

	return errs
}
