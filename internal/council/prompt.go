package council

import (
	"fmt"
	"strings"
)

// DefaultRankingsPrompt 排名阶段缺省模板
const DefaultRankingsPrompt = `You are evaluating different responses to the following question:

Question: {question}

Here are the responses from different models (anonymized):

{responses}

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: You MUST rank all {response_count} responses exactly once.
The responses are: {response_labels}.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Example of the correct format for your ENTIRE response:

Response A provides good detail on X but misses Y...
Response B is accurate but lacks depth on Z...
Response C offers the most comprehensive answer...

FINAL RANKING:
1. Response C
2. Response A
3. Response B

Now provide your evaluation and ranking:`

// DefaultSynthesisPrompt 综合阶段缺省模板
const DefaultSynthesisPrompt = `You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: {question}

INDIVIDUAL RESPONSES:
{stage1}

PEER RANKINGS:
{stage2}

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`

// DefaultTemplate 按阶段类型返回缺省模板，responses 阶段无模板
func DefaultTemplate(kind StageKind) string {
	switch kind {
	case StageKindRankings:
		return DefaultRankingsPrompt
	case StageKindSynthesis:
		return DefaultSynthesisPrompt
	default:
		return ""
	}
}

// PromptInput 一次阶段提示词组装的输入
type PromptInput struct {
	Template     string            // 阶段模板，空则走缺省拼接
	UserQuery    string            // 用户原始问题
	History      string            // 追问场景的历史上下文，独立前置
	PriorContext string            // 上一 responses 阶段的格式化输出
	Values       map[string]string // 额外占位符取值
}

// Compose 组装阶段输入文本。占位符做字面量查找替换，
// 未识别的占位符原样保留。
func Compose(in PromptInput) string {
	var body string
	if strings.TrimSpace(in.Template) != "" {
		values := map[string]string{
			"question":        in.UserQuery,
			"responses":       in.PriorContext,
			"response_count":  "0",
			"response_labels": "",
			"stage1":          "",
			"stage2":          "",
		}
		for key, value := range in.Values {
			values[key] = value
		}
		body = strings.TrimSpace(applyTemplate(strings.TrimSpace(in.Template), values))
	} else {
		parts := []string{"User Question: " + in.UserQuery}
		if in.PriorContext != "" {
			parts = append(parts, "Previous Stage Outputs:\n"+in.PriorContext)
		}
		body = strings.TrimSpace(strings.Join(parts, "\n\n"))
	}

	if in.History != "" {
		return "Conversation So Far:\n" + in.History + "\n\n" + body
	}
	return body
}

func applyTemplate(template string, values map[string]string) string {
	text := template
	for key, value := range values {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}

// FormatResponsesBlock 把 responses 阶段结果格式化为上下文文本。
// 失败成员内联呈现，不被隐藏。
func FormatResponsesBlock(results []MemberResult) string {
	lines := make([]string, 0, len(results))
	for _, result := range results {
		if result.Status == StatusFailed {
			errDetail := result.Err
			if errDetail == "" {
				errDetail = "No response received."
			}
			lines = append(lines, fmt.Sprintf("Model: %s\nResponse: [FAILED]\nError: %s", result.Model, errDetail))
		} else {
			lines = append(lines, fmt.Sprintf("Model: %s\nResponse: %s", result.Model, result.Text))
		}
	}
	return strings.Join(lines, "\n\n")
}

// FormatRankingsBlock 把 rankings 阶段结果格式化为上下文文本
func FormatRankingsBlock(results []RankingResult) string {
	lines := make([]string, 0, len(results))
	for _, result := range results {
		lines = append(lines, fmt.Sprintf("Model: %s\nRanking: %s", result.Model, result.RawText))
	}
	return strings.Join(lines, "\n\n")
}

// RankingPromptData 排名阶段的匿名化素材。
// 标签只覆盖成功作答的成员，顺序与作答结果一致。
type RankingPromptData struct {
	Labels        []string
	LabelToModel  LabelMap
	ResponsesText string
}

// BuildRankingData 从上一 responses 阶段结果构建匿名标签数据。
// 失败成员不参与匿名化，也不会出现在 LabelToModel 中。
func BuildRankingData(results []MemberResult) RankingPromptData {
	data := RankingPromptData{LabelToModel: make(LabelMap)}
	var blocks []string
	for _, result := range results {
		if result.Status == StatusFailed || result.Text == "" {
			continue
		}
		label := fmt.Sprintf("Response %c", rune('A'+len(data.Labels)))
		data.Labels = append(data.Labels, label)
		data.LabelToModel[label] = result.Model
		blocks = append(blocks, fmt.Sprintf("%s:\n%s", label, result.Text))
	}
	data.ResponsesText = strings.Join(blocks, "\n\n")
	return data
}
