package stream

import (
	"sync"

	"github.com/faridhamidi/llm-council/internal/council"
	"k8s.io/klog/v2"
)

// EventType 流式事件类型
type EventType string

const (
	EventStageStart       EventType = "stage_start"
	EventStageMemberDelta EventType = "stage_member_delta"
	EventStageComplete    EventType = "stage_complete"
	EventSpeakerDelta     EventType = "speaker_delta"
	EventSpeakerComplete  EventType = "speaker_complete"
	EventTitleComplete    EventType = "title_complete"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
	EventCancelled        EventType = "cancelled"
)

// IsTerminal 是否为终态事件。一次运行恰好收到一个终态事件。
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError || t == EventCancelled
}

// Event 推送给前端的一条流式事件
type Event struct {
	Type        EventType                `json:"type"`
	Stage       *council.StageDescriptor `json:"stage,omitempty"`
	StageResult *council.StageResult     `json:"stage_result,omitempty"`
	MemberIndex int                      `json:"member_index,omitempty"`
	Chunk       string                   `json:"chunk,omitempty"`
	Model       string                   `json:"model,omitempty"`
	Title       string                   `json:"title,omitempty"`
	Message     string                   `json:"message,omitempty"`
	Response    string                   `json:"response,omitempty"`
	TokenCount  int                      `json:"token_count,omitempty"`
	Result      *council.RunResult       `json:"result,omitempty"`
}

const defaultQueueSize = 256

// Bridge 把执行器的生命周期回调映射到一条有序事件队列上，
// 由活跃传输层（SSE）消费。取消后除终态事件外不再入队。
type Bridge struct {
	mu        sync.Mutex
	events    chan Event
	cancelled bool
	finished  bool
}

func NewBridge() *Bridge {
	return &Bridge{events: make(chan Event, defaultQueueSize)}
}

// Events 事件队列的消费端，终态事件之后关闭
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Cancel 置取消标志，执行器在下一个回调边界停止派发。
// 标志置位后非终态事件一律被抑制。
func (b *Bridge) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	b.mu.Unlock()
}

// Cancelled 取消标志是否已置位
func (b *Bridge) Cancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Publish 入队一条非终态事件。
// 取消或终态之后的事件被静默丢弃；队列满时丢弃并告警，不阻塞执行器。
func (b *Bridge) Publish(event Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished || b.cancelled {
		return false
	}
	select {
	case b.events <- event:
		return true
	default:
		klog.Warningf("[StreamBridge] 事件队列已满，丢弃事件: type=%s", event.Type)
		return false
	}
}

// Finish 入队终态事件并关闭队列，幂等：只有第一次生效。
func (b *Bridge) Finish(event Event) {
	if !event.Type.IsTerminal() {
		klog.Errorf("[StreamBridge] Finish 收到非终态事件: type=%s", event.Type)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	b.finished = true
	select {
	case b.events <- event:
	default:
		// 队列满时为终态事件腾位，终态不可丢
		select {
		case <-b.events:
		default:
		}
		b.events <- event
	}
	close(b.events)
}

// Hooks 构建接到本桥的执行器回调。
// 回调返回值即"是否继续"，取消标志在每个回调边界被检查。
func (b *Bridge) Hooks() council.Hooks {
	return council.Hooks{
		OnStageStart: func(desc council.StageDescriptor) bool {
			if b.Cancelled() {
				return false
			}
			stage := desc
			b.Publish(Event{Type: EventStageStart, Stage: &stage})
			return true
		},
		OnMemberDelta: func(desc council.StageDescriptor, memberIndex int, chunk string) {
			stage := desc
			b.Publish(Event{
				Type:        EventStageMemberDelta,
				Stage:       &stage,
				MemberIndex: memberIndex,
				Chunk:       chunk,
			})
		},
		OnStageComplete: func(result council.StageResult) bool {
			if b.Cancelled() {
				return false
			}
			r := result
			b.Publish(Event{Type: EventStageComplete, StageResult: &r})
			return true
		},
	}
}
