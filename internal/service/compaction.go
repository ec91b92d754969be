package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/faridhamidi/llm-council/internal/council"
	"github.com/faridhamidi/llm-council/internal/model"
)

// DefaultRecentTurns 压缩时至少保留的近期用户轮次
const DefaultRecentTurns = 12

const compactionSystemPrompt = "You maintain long-running chat memory. Compress transcript history without losing facts that affect future answers."

// CompactionThresholds 自动压缩的 token 预算阈值
type CompactionThresholds struct {
	TriggerTokens int `json:"trigger_tokens"`
	TargetTokens  int `json:"target_tokens"`
}

// RollupPlan 一次压缩的消息划分结果
type RollupPlan struct {
	Rollup             []model.Message
	Keep               []model.Message
	NextCompactedUntil uint
}

// CompactionPrompt 摘要压缩的模型调用负载
type CompactionPrompt struct {
	SystemPrompt     string `json:"system_prompt"`
	UserPrompt       string `json:"user_prompt"`
	MessageCount     int    `json:"message_count"`
	TargetTokens     int    `json:"target_tokens"`
	SummaryMaxTokens int    `json:"summary_max_tokens"`
}

// ShouldCompact 判断是否应触发压缩。
// 功能关闭或阈值非法（目标不小于触发值）一律不触发。
func ShouldCompact(totalTokens int, enabled bool, thresholds CompactionThresholds) bool {
	if !enabled {
		return false
	}
	if thresholds.TriggerTokens <= 0 || thresholds.TargetTokens <= 0 {
		return false
	}
	if thresholds.TargetTokens >= thresholds.TriggerTokens {
		return false
	}
	return totalTokens >= thresholds.TriggerTokens
}

// SelectForRollup 划分可压缩与需保留的消息。
// 最近 recentTurns 个用户轮次起的消息一律保留，
// compactedUntil 之前（含）的消息视为已压缩，不再参与。
func SelectForRollup(messages []model.Message, compactedUntil uint, recentTurns int) RollupPlan {
	resolved := make([]uint, len(messages))
	for i := range messages {
		resolved[i] = messages[i].ID
		if resolved[i] == 0 {
			resolved[i] = uint(i + 1)
		}
	}

	var candidates []model.Message
	var candidateIDs []uint
	for i := range messages {
		if resolved[i] > compactedUntil {
			candidates = append(candidates, messages[i])
			candidateIDs = append(candidateIDs, resolved[i])
		}
	}
	if len(candidates) == 0 {
		return RollupPlan{NextCompactedUntil: compactedUntil}
	}

	if recentTurns < 0 {
		recentTurns = 0
	}
	var userPositions []int
	for i := range candidates {
		if candidates[i].Role == council.TranscriptRoleUser {
			userPositions = append(userPositions, i)
		}
	}

	var keepStart int
	switch {
	case recentTurns == 0:
		keepStart = len(candidates)
	case len(userPositions) <= recentTurns:
		keepStart = 0
	default:
		keepStart = userPositions[len(userPositions)-recentTurns]
	}

	plan := RollupPlan{
		Rollup:             candidates[:keepStart],
		Keep:               candidates[keepStart:],
		NextCompactedUntil: compactedUntil,
	}
	for _, id := range candidateIDs[:keepStart] {
		if id > plan.NextCompactedUntil {
			plan.NextCompactedUntil = id
		}
	}
	return plan
}

// BuildCompactionPrompt 构造摘要压缩的提示词负载
func BuildCompactionPrompt(existingSummary string, rollup []model.Message, targetTokens, summaryMaxTokens int) CompactionPrompt {
	rendered := make([]string, 0, len(rollup))
	for i := range rollup {
		rendered = append(rendered, renderRollupMessage(&rollup[i]))
	}
	transcript := strings.Join(rendered, "\n\n")
	existing := strings.TrimSpace(existingSummary)
	if existing == "" {
		existing = "[none]"
	}
	if transcript == "" {
		transcript = "[none]"
	}

	userPrompt := fmt.Sprintf(
		"Update the running summary so it preserves all critical facts, decisions, and unresolved questions.\n\n"+
			"Current Summary:\n%s\n\n"+
			"New Transcript Block:\n%s\n\n"+
			"Target Summary Tokens: %d\n"+
			"Hard Max Summary Tokens: %d",
		existing, transcript, targetTokens, summaryMaxTokens)

	return CompactionPrompt{
		SystemPrompt:     compactionSystemPrompt,
		UserPrompt:       userPrompt,
		MessageCount:     len(rollup),
		TargetTokens:     targetTokens,
		SummaryMaxTokens: summaryMaxTokens,
	}
}

func renderRollupMessage(msg *model.Message) string {
	switch msg.Role {
	case council.TranscriptRoleUser:
		return "User: " + strings.TrimSpace(msg.Content)
	case council.TranscriptRoleAssistant:
		if msg.MessageType == model.MessageTypeCouncil {
			text := councilRollupText(msg.StagesJSON)
			if text == "" {
				text = "[deliberation]"
			}
			return "Council: " + strings.TrimSpace(text)
		}
		return "Assistant: " + strings.TrimSpace(msg.SpeakerResponse)
	}
	return fmt.Sprintf("Unknown: %s", msg.Content)
}

// councilRollupText 从阶段结果里提取最终综合文本
func councilRollupText(stagesJSON string) string {
	if stagesJSON == "" {
		return ""
	}
	var stages []council.StageResult
	if err := json.Unmarshal([]byte(stagesJSON), &stages); err != nil {
		return ""
	}
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].Synthesis != nil && stages[i].Synthesis.Text != "" {
			return stages[i].Synthesis.Text
		}
	}
	return ""
}
