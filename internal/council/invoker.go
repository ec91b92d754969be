package council

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faridhamidi/llm-council/internal/pkg/llm"
	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

const noResponseErr = "No response received."

// MemberInvoker 负责把一个阶段的成员调用出去。
// 并行模式经由协程池扇出，结果顺序始终等于配置的成员顺序；
// 串行模式逐个调用，成功者的输出以合成轮次注入后续调用。
type MemberInvoker struct {
	invoker llm.Invoker
	pool    *ants.Pool
	timeout time.Duration // 单成员调用超时
}

// NewMemberInvoker 创建成员调用器。
// maxWorkers 限制并行扇出的并发上限，避免打爆模型配额。
func NewMemberInvoker(invoker llm.Invoker, maxWorkers int, timeout time.Duration) (*MemberInvoker, error) {
	if maxWorkers <= 0 {
		maxWorkers = MaxStageMembers
	}
	pool, err := ants.NewPool(maxWorkers, ants.WithNonblocking(false))
	if err != nil {
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}
	return &MemberInvoker{invoker: invoker, pool: pool, timeout: timeout}, nil
}

// Release 释放协程池
func (mi *MemberInvoker) Release() {
	if mi.pool != nil {
		mi.pool.Release()
	}
}

// ChunkHandler 流式增量回调：memberIndex 为成员在配置顺序中的下标
type ChunkHandler func(memberIndex int, chunk string)

// InvokeOptions 一次阶段调用的选项
type InvokeOptions struct {
	Mode            ExecutionMode
	UseSystemPrompt bool         // 为 false 时不携带成员系统提示词
	OnChunk         ChunkHandler // 非 nil 时走流式调用
}

// InvokeMembers 调用一组成员并返回与成员顺序一致的结果。
// 单个成员失败不影响兄弟成员，也不会返回 error。
func (mi *MemberInvoker) InvokeMembers(ctx context.Context, members []Member, messages []llm.Message, opts InvokeOptions) []MemberResult {
	if len(members) == 0 {
		return nil
	}
	if opts.Mode == ModeSequential {
		return mi.invokeSequential(ctx, members, messages, opts)
	}
	return mi.invokeParallel(ctx, members, messages, opts)
}

func (mi *MemberInvoker) invokeParallel(ctx context.Context, members []Member, messages []llm.Message, opts InvokeOptions) []MemberResult {
	results := make([]MemberResult, len(members))
	var wg sync.WaitGroup

	for i := range members {
		wg.Add(1)
		index := i
		member := members[i]
		task := func() {
			defer wg.Done()
			results[index] = mi.invokeOne(ctx, member, index, messages, opts)
		}
		if err := mi.pool.Submit(task); err != nil {
			// 池不可用时退化为原地执行，保证结果槽位不缺
			klog.Warningf("提交成员调用到协程池失败，原地执行: member=%s, err=%v", member.Alias, err)
			task()
		}
	}

	wg.Wait()
	return results
}

func (mi *MemberInvoker) invokeSequential(ctx context.Context, members []Member, messages []llm.Message, opts InvokeOptions) []MemberResult {
	results := make([]MemberResult, 0, len(members))
	chain := make([]llm.Message, len(messages))
	copy(chain, messages)

	for i, member := range members {
		if ctx.Err() != nil {
			// 运行被取消，剩余成员不再派发
			for ; i < len(members); i++ {
				results = append(results, MemberResult{
					Model:  members[i].Alias,
					Status: StatusFailed,
					Err:    "invocation cancelled",
				})
			}
			break
		}

		result := mi.invokeOne(ctx, member, i, chain, opts)
		results = append(results, result)

		// 失败成员被静默跳过，不注入合成轮次，链条不被污染
		if result.Status != StatusOK {
			continue
		}
		chain = append(chain,
			llm.Message{
				Role:    llm.RoleAssistant,
				Content: fmt.Sprintf("[%s]: %s", member.Alias, result.Text),
			},
			llm.Message{
				Role:    llm.RoleUser,
				Content: "Consider the prior council members' answers above, then provide your own answer to the original question.",
			},
		)
	}
	return results
}

func (mi *MemberInvoker) invokeOne(ctx context.Context, member Member, index int, messages []llm.Message, opts InvokeOptions) MemberResult {
	req := llm.Request{
		Model:     member.ModelID,
		Messages:  messages,
		MaxTokens: member.MaxOutputTokens,
		Timeout:   mi.timeout,
	}
	if opts.UseSystemPrompt {
		req.SystemPrompt = member.SystemPrompt
	}

	var result llm.Result
	if opts.OnChunk != nil {
		result = mi.invoker.InvokeStream(ctx, req, func(chunk string) {
			opts.OnChunk(index, chunk)
		})
	} else {
		result = mi.invoker.Invoke(ctx, req)
	}

	if !result.OK() {
		errDetail := result.Err
		if errDetail == "" {
			errDetail = noResponseErr
		}
		klog.V(6).Infof("[MemberInvoker] 成员调用失败: member=%s, model=%s, err=%s", member.Alias, member.ModelID, errDetail)
		return MemberResult{
			Model:               member.Alias,
			Status:              StatusFailed,
			Err:                 errDetail,
			SystemPromptDropped: result.SystemPromptDropped,
		}
	}

	return MemberResult{
		Model:               member.Alias,
		Text:                result.Text,
		Status:              StatusOK,
		Partial:             result.Partial,
		SystemPromptDropped: result.SystemPromptDropped,
	}
}
