package llm

import (
	"context"
	"time"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 一条对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 单次模型调用请求
type Request struct {
	Model        string        // 模型标识
	Messages     []Message     // 有序消息列表
	SystemPrompt string        // 可选系统提示词
	MaxTokens    int           // 最大输出 token 数，0 表示使用默认值
	Timeout      time.Duration // 单次调用超时，0 表示使用默认值
}

// Result 调用结果。调用失败不返回 error，统一落在 Err 字段，
// 由上层决定如何呈现（单成员失败不影响兄弟调用）。
type Result struct {
	Text                string
	Err                 string
	Partial             bool // 流式中途出错但已产出可用文本
	SystemPromptDropped bool // 模型拒绝系统提示词后去掉重试成功
}

// OK 是否拿到了可用文本
func (r Result) OK() bool {
	return r.Text != ""
}

// ChunkFunc 流式输出回调，按到达顺序收到文本增量
type ChunkFunc func(chunk string)

// Invoker 模型调用接口
type Invoker interface {
	Invoke(ctx context.Context, req Request) Result
	InvokeStream(ctx context.Context, req Request, onChunk ChunkFunc) Result
}
