package council

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/faridhamidi/llm-council/internal/pkg/llm"
	"k8s.io/klog/v2"
)

// ErrRunCancelled 运行被协作式取消。
// 这是唯一以控制流形式向外传播的终止原因，阶段/运行失败都以数据呈现。
var ErrRunCancelled = errors.New("council run cancelled")

// RunFailureText 整个运行没有任何 responses 阶段产出时的合成终态文本
const RunFailureText = "All models failed to respond. Please try again."

// StageStatus 阶段状态
type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
)

// StageDescriptor 阶段生命周期事件的描述符
type StageDescriptor struct {
	Index         int           `json:"index"`
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Kind          StageKind     `json:"kind"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
}

// Hooks 运行生命周期回调。任一回调返回 false 表示请求取消，
// 执行器立即停止派发新的成员调用。nil 回调视为继续。
type Hooks struct {
	OnStageStart    func(desc StageDescriptor) bool
	OnMemberDelta   func(desc StageDescriptor, memberIndex int, chunk string)
	OnStageComplete func(result StageResult) bool
}

func (h Hooks) stageStart(desc StageDescriptor) bool {
	if h.OnStageStart == nil {
		return true
	}
	return h.OnStageStart(desc)
}

func (h Hooks) stageComplete(result StageResult) bool {
	if h.OnStageComplete == nil {
		return true
	}
	return h.OnStageComplete(result)
}

// RunParams 一次完整运行的输入
type RunParams struct {
	Snapshot  *Snapshot
	UserQuery string
	History   string // 追问时的历史上下文块，独立于阶段模板
	Hooks     Hooks
	Streaming bool // 为 true 时成员调用走流式并经 OnMemberDelta 回调增量
}

// Executor 按阶段顺序驱动一次议会运行的状态机
type Executor struct {
	invoker *MemberInvoker
}

func NewExecutor(invoker *MemberInvoker) *Executor {
	return &Executor{invoker: invoker}
}

// Run 执行一次完整运行。取消时返回已完成的阶段结果与 ErrRunCancelled，
// 已产出的结果不回滚。除取消外不返回 error：失败都记录在结果里。
func (e *Executor) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	snap := params.Snapshot
	result := &RunResult{Metadata: Metadata{LabelToModel: LabelMap{}}}

	statuses := make([]StageStatus, len(snap.Stages))
	for i := range statuses {
		statuses[i] = StagePending
	}

	var lastResponses []MemberResult
	var lastRankings []RankingResult
	anyResponseOutput := false

	for i, stage := range snap.Stages {
		if ctx.Err() != nil {
			return result, ErrRunCancelled
		}

		desc := StageDescriptor{
			Index:         i,
			ID:            stage.ID,
			Name:          stage.Name,
			Kind:          stage.Kind,
			ExecutionMode: stage.ExecutionMode,
		}
		if !params.Hooks.stageStart(desc) {
			return result, ErrRunCancelled
		}
		statuses[i] = StageRunning
		klog.V(6).Infof("[Executor] 阶段开始: index=%d, id=%s, kind=%s, mode=%s", i, stage.ID, stage.Kind, stage.ExecutionMode)

		stageResult := StageResult{
			StageID:       stage.ID,
			Name:          stage.Name,
			Prompt:        stage.Prompt,
			ExecutionMode: stage.ExecutionMode,
			Kind:          stage.Kind,
		}

		opts := InvokeOptions{Mode: stage.ExecutionMode, UseSystemPrompt: true}
		if params.Streaming && params.Hooks.OnMemberDelta != nil {
			hook := params.Hooks.OnMemberDelta
			opts.OnChunk = func(memberIndex int, chunk string) {
				hook(desc, memberIndex, chunk)
			}
		}

		// 单次按 Kind 分发，新增阶段类型必须在这里显式接入
		switch stage.Kind {
		case StageKindResponses:
			responses := e.runResponsesStage(ctx, snap, stage, params, lastResponses, lastRankings, opts)
			stageResult.Responses = responses
			lastResponses = responses
			for _, r := range responses {
				if r.Status == StatusOK {
					anyResponseOutput = true
				}
			}

		case StageKindRankings:
			opts.UseSystemPrompt = snap.UseSystemPromptRankings
			rankings, labelToModel := e.runRankingsStage(ctx, snap, stage, params, lastResponses, opts)
			aggregate := Aggregate(rankings, labelToModel)
			stageResult.Rankings = rankings
			stageResult.LabelToModel = labelToModel
			stageResult.AggregateRankings = aggregate
			result.Metadata.LabelToModel = labelToModel
			result.Metadata.AggregateRankings = aggregate
			lastRankings = rankings

		case StageKindSynthesis:
			opts.UseSystemPrompt = snap.UseSystemPromptSynthesis
			stageResult.Synthesis = e.runSynthesisStage(ctx, snap, stage, params, lastResponses, lastRankings, opts)

		default:
			// 校验阶段已拦截未知类型，这里只兜底记录
			klog.Warningf("[Executor] 跳过未知阶段类型: id=%s, kind=%s", stage.ID, stage.Kind)
		}

		statuses[i] = StageComplete
		result.Stages = append(result.Stages, stageResult)
		klog.V(6).Infof("[Executor] 阶段完成: index=%d, id=%s", i, stage.ID)

		if !params.Hooks.stageComplete(stageResult) {
			return result, ErrRunCancelled
		}
	}

	// 整个运行没有任何 responses 输出：以合成终态结果收尾，不抛错
	if !anyResponseOutput {
		failure := &SynthesisResult{Model: "error", Text: RunFailureText}
		replaced := false
		for i := range result.Stages {
			if result.Stages[i].Kind == StageKindSynthesis {
				result.Stages[i].Synthesis = failure
				replaced = true
			}
		}
		if !replaced {
			klog.Warningf("[Executor] 运行无任何 responses 输出且无综合阶段承载失败结果")
		}
	}

	return result, nil
}

func (e *Executor) runResponsesStage(ctx context.Context, snap *Snapshot, stage Stage, params RunParams, lastResponses []MemberResult, lastRankings []RankingResult, opts InvokeOptions) []MemberResult {
	var priorContext string
	if len(lastResponses) > 0 {
		priorContext = FormatResponsesBlock(lastResponses)
	}

	labels := make([]string, 0, len(lastResponses))
	for _, prior := range lastResponses {
		if prior.Model != "" {
			labels = append(labels, prior.Model)
		}
	}

	prompt := Compose(PromptInput{
		Template:     stage.Prompt,
		UserQuery:    params.UserQuery,
		History:      params.History,
		PriorContext: priorContext,
		Values: map[string]string{
			"responses":       priorContext,
			"response_count":  fmt.Sprintf("%d", len(lastResponses)),
			"response_labels": strings.Join(labels, ", "),
			"stage1":          FormatResponsesBlock(lastResponses),
			"stage2":          FormatRankingsBlock(lastRankings),
		},
	})

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	return e.invoker.InvokeMembers(ctx, snap.StageMembers(stage), messages, opts)
}

func (e *Executor) runRankingsStage(ctx context.Context, snap *Snapshot, stage Stage, params RunParams, lastResponses []MemberResult, opts InvokeOptions) ([]RankingResult, LabelMap) {
	data := BuildRankingData(lastResponses)
	if len(data.Labels) == 0 {
		// 没有可评的成功回答：阶段照常完成，产出为空
		klog.V(6).Infof("[Executor] 排名阶段无可评回答: id=%s", stage.ID)
		return nil, LabelMap{}
	}

	template := stage.Prompt
	if strings.TrimSpace(template) == "" {
		template = DefaultRankingsPrompt
	}

	prompt := Compose(PromptInput{
		Template:  template,
		UserQuery: params.UserQuery,
		History:   params.History,
		Values: map[string]string{
			"responses":       data.ResponsesText,
			"response_count":  fmt.Sprintf("%d", len(data.Labels)),
			"response_labels": strings.Join(data.Labels, ", "),
		},
	})

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	memberResults := e.invoker.InvokeMembers(ctx, snap.StageMembers(stage), messages, opts)

	// 只有产出文本的评审参与排名，失败的评审直接缺席
	rankings := make([]RankingResult, 0, len(memberResults))
	for _, mr := range memberResults {
		if mr.Status != StatusOK || mr.Text == "" {
			continue
		}
		rankings = append(rankings, RankingResult{
			Model:       mr.Model,
			RawText:     mr.Text,
			ParsedOrder: ParseRanking(mr.Text),
		})
	}
	return rankings, data.LabelToModel
}

func (e *Executor) runSynthesisStage(ctx context.Context, snap *Snapshot, stage Stage, params RunParams, lastResponses []MemberResult, lastRankings []RankingResult, opts InvokeOptions) *SynthesisResult {
	members := snap.StageMembers(stage)
	if len(members) == 0 {
		return &SynthesisResult{Model: snap.ChairmanLabel, Text: "Error: Unable to generate final synthesis."}
	}
	member := members[0]

	template := stage.Prompt
	if strings.TrimSpace(template) == "" {
		template = DefaultSynthesisPrompt
	}

	prompt := Compose(PromptInput{
		Template:  template,
		UserQuery: params.UserQuery,
		History:   params.History,
		Values: map[string]string{
			"stage1": FormatResponsesBlock(lastResponses),
			"stage2": FormatRankingsBlock(lastRankings),
		},
	})

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	results := e.invoker.InvokeMembers(ctx, []Member{member}, messages, opts)

	if len(results) == 0 || results[0].Status != StatusOK {
		return &SynthesisResult{Model: member.Alias, Text: "Error: Unable to generate final synthesis."}
	}
	return &SynthesisResult{Model: member.Alias, Text: results[0].Text}
}
