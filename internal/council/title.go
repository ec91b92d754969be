package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/faridhamidi/llm-council/internal/pkg/llm"
	"k8s.io/klog/v2"
)

// FallbackTitle 标题生成失败时的兜底标题
const FallbackTitle = "New Conversation"

const (
	titleMaxLen  = 50
	titleTimeout = 30 * time.Second
)

// TitleGenerator 根据首条用户消息生成会话短标题
type TitleGenerator struct {
	invoker llm.Invoker
}

func NewTitleGenerator(invoker llm.Invoker) *TitleGenerator {
	return &TitleGenerator{invoker: invoker}
}

// Generate 生成短标题。任何失败都回落到 FallbackTitle，不返回 error。
// 模型选取顺序：设置的标题模型 → 主席模型 → 第一名成员。
func (g *TitleGenerator) Generate(ctx context.Context, snap *Snapshot, userQuery string) string {
	modelID := snap.TitleModelID
	if modelID == "" {
		if chairman := snap.ChairmanMember(); chairman != nil {
			modelID = chairman.ModelID
		}
	}
	if modelID == "" {
		return FallbackTitle
	}

	prompt := fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, userQuery)

	result := g.invoker.Invoke(ctx, llm.Request{
		Model:    modelID,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Timeout:  titleTimeout,
	})
	if !result.OK() {
		klog.V(6).Infof("[TitleGenerator] 标题生成失败, 使用兜底标题: model=%s, err=%s", modelID, result.Err)
		return FallbackTitle
	}

	title := strings.TrimSpace(result.Text)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return FallbackTitle
	}
	// 按字符截断，避免把多字节字符切成半个
	if runes := []rune(title); len(runes) > titleMaxLen {
		title = string(runes[:titleMaxLen-3]) + "..."
	}
	return title
}
