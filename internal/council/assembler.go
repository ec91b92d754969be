package council

import (
	"fmt"
	"strings"
)

// Fidelity 追问上下文的保真度档位
type Fidelity string

const (
	FidelityMinimal  Fidelity = "minimal"  // 仅首次议会的最终综合
	FidelityStandard Fidelity = "standard" // 最终综合 + 全部用户提问
	FidelityFull     Fidelity = "full"     // 全部阶段细节 + 压缩的对话记录
)

// 对话消息类型
const (
	TranscriptRoleUser      = "user"
	TranscriptRoleAssistant = "assistant"

	TranscriptKindCouncil = "council"
	TranscriptKindSpeaker = "speaker"
)

// TranscriptMessage 对话记录中的一条消息，与存储层解耦
type TranscriptMessage struct {
	Role    string        // user / assistant
	Kind    string        // assistant 子类型: council / speaker
	Content string        // 用户提问或 speaker 回复文本
	Stages  []StageResult // council 消息携带的阶段细节
}

const stagePromptPreview = 500

// Assemble 按保真度档位组装追问上下文，纯函数。
// 阶段细节只取最早的一条 council 消息，后续运行即使存在也不参与，
// 这是有意为之：追问始终锚定首次议会分析。
// 找不到 council 消息时返回空串。
func Assemble(messages []TranscriptMessage, level Fidelity) string {
	var council *TranscriptMessage
	for i := range messages {
		if messages[i].Role == TranscriptRoleAssistant && messages[i].Kind == TranscriptKindCouncil {
			council = &messages[i]
			break
		}
	}
	if council == nil {
		return ""
	}

	var parts []string

	switch level {
	case FidelityMinimal:
		if text := finalSynthesisText(council.Stages); text != "" {
			parts = append(parts, "Council's Initial Analysis:\n"+text)
		}

	case FidelityStandard:
		if text := finalSynthesisText(council.Stages); text != "" {
			parts = append(parts, "Council's Initial Analysis:\n"+text)
		}
		var queries []string
		for _, msg := range messages {
			if msg.Role == TranscriptRoleUser {
				queries = append(queries, msg.Content)
			}
		}
		if len(queries) > 0 {
			parts = append(parts, "User Queries:\n"+strings.Join(queries, "\n---\n"))
		}

	case FidelityFull:
		for _, stage := range council.Stages {
			parts = append(parts, formatStageDetail(stage))
		}
		var history []string
		for _, msg := range messages {
			switch {
			case msg.Role == TranscriptRoleUser:
				history = append(history, "User: "+msg.Content)
			case msg.Role == TranscriptRoleAssistant && msg.Kind == TranscriptKindSpeaker:
				history = append(history, "Speaker: "+msg.Content)
			case msg.Role == TranscriptRoleAssistant:
				// 非 speaker 的助手消息折叠成占位符，细节已在上方展开
				history = append(history, "Assistant: [Council Analysis - see above]")
			}
		}
		if len(history) > 0 {
			parts = append(parts, "=== Conversation History ===\n"+strings.Join(history, "\n\n"))
		}
	}

	return strings.Join(parts, "\n\n")
}

// finalSynthesisText 按顺序扫描取最后一个综合阶段的文本
func finalSynthesisText(stages []StageResult) string {
	run := RunResult{Stages: stages}
	if final := run.FinalSynthesis(); final != nil {
		return final.Text
	}
	return ""
}

func formatStageDetail(stage StageResult) string {
	var b strings.Builder
	name := stage.Name
	if name == "" {
		name = "Stage"
	}
	b.WriteString("=== " + name + " ===")

	if stage.Prompt != "" {
		prompt := stage.Prompt
		if len(prompt) > stagePromptPreview {
			prompt = prompt[:stagePromptPreview] + "..."
		}
		b.WriteString("\nPrompt: " + prompt)
	}

	switch stage.Kind {
	case StageKindResponses:
		for _, r := range stage.Responses {
			b.WriteString(fmt.Sprintf("\n\n[%s]:\n%s", r.Model, r.Text))
		}
	case StageKindRankings:
		for _, r := range stage.Rankings {
			b.WriteString(fmt.Sprintf("\n\n[%s]:\n%s", r.Model, r.RawText))
		}
	case StageKindSynthesis:
		if stage.Synthesis != nil {
			b.WriteString(fmt.Sprintf("\n\n[%s]:\n%s", stage.Synthesis.Model, stage.Synthesis.Text))
		}
	}
	return b.String()
}

// BuildSpeakerPrompt 组装主席处理追问的提示词
func BuildSpeakerPrompt(context, userQuery string) string {
	return fmt.Sprintf(`You are the Council Chairman, continuing a conversation after the initial council analysis.

%s

---

The user has a follow-up question. Please respond based on the council's analysis and the conversation so far.

User's Follow-up Question: %s

Provide a helpful, accurate response:`, context, userQuery)
}
