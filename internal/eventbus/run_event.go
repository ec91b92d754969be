package eventbus

import "context"

type RunEventType string

const (
	RunEventCompleted      RunEventType = "RunCompleted"   // 一次议会运行正常收尾
	RunEventCancelled      RunEventType = "RunCancelled"   // 运行被取消
	RunEventSpeakerReplied RunEventType = "SpeakerReplied" // 发言人追问回复完成
	RunEventTitleGenerated RunEventType = "TitleGenerated" // 会话标题生成完成
)

type RunEvent struct {
	Type           RunEventType
	ConversationID string
	StageCount     int
	TokenCount     int // 估算值
	Title          string
}

type RunEventHandler func(ctx context.Context, event RunEvent) error
