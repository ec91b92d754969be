package council

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/faridhamidi/llm-council/internal/pkg/llm"
)

func threeStageSnapshot() *Snapshot {
	members := []Member{
		{ID: "m1", Alias: "GPT", ModelID: "model-1"},
		{ID: "m2", Alias: "Claude", ModelID: "model-2"},
		{ID: "m3", Alias: "Gemini", ModelID: "model-3"},
	}
	return &Snapshot{
		Members:                  members,
		ChairmanID:               "m1",
		ChairmanLabel:            "Chairman",
		UseSystemPromptRankings:  true,
		UseSystemPromptSynthesis: true,
		Stages: []Stage{
			{ID: "stage-1", Name: "Individual Responses", Kind: StageKindResponses, ExecutionMode: ModeParallel, MemberIDs: []string{"m1", "m2", "m3"}},
			{ID: "stage-2", Name: "Peer Rankings", Kind: StageKindRankings, ExecutionMode: ModeParallel, Prompt: DefaultRankingsPrompt, MemberIDs: []string{"m1", "m2", "m3"}},
			{ID: "stage-3", Name: "Final Synthesis", Kind: StageKindSynthesis, ExecutionMode: ModeSequential, Prompt: DefaultSynthesisPrompt, MemberIDs: []string{"m1"}},
		},
	}
}

// stageAwareHandler 按提示词内容区分阶段返回结果
func stageAwareHandler(failModels map[string]bool, ranking string) func(req llm.Request) llm.Result {
	return func(req llm.Request) llm.Result {
		prompt := ""
		if len(req.Messages) > 0 {
			prompt = req.Messages[len(req.Messages)-1].Content
		}
		switch {
		case strings.Contains(prompt, "anonymized"):
			return llm.Result{Text: ranking}
		case strings.Contains(prompt, "Chairman of an LLM Council"):
			return llm.Result{Text: "final synthesis from " + req.Model}
		default:
			if failModels[req.Model] {
				return llm.Result{Err: "model unavailable"}
			}
			return llm.Result{Text: "response from " + req.Model}
		}
	}
}

func newTestExecutor(t *testing.T, fake *fakeInvoker) *Executor {
	t.Helper()
	return NewExecutor(newTestInvoker(t, fake))
}

func TestRunThreeStagePipeline(t *testing.T) {
	fake := newFakeInvoker()
	fake.handler = stageAwareHandler(nil, "FINAL RANKING:\n1. Response B\n2. Response A\n3. Response C")

	exec := newTestExecutor(t, fake)
	result, err := exec.Run(context.Background(), RunParams{
		Snapshot:  threeStageSnapshot(),
		UserQuery: "What is Go?",
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(result.Stages) != 3 {
		t.Fatalf("expected 3 stage results, got %d", len(result.Stages))
	}

	responses := result.Stages[0]
	if len(responses.Responses) != 3 || responses.Responses[0].Model != "GPT" {
		t.Fatalf("unexpected responses stage: %+v", responses)
	}

	rankings := result.Stages[1]
	if len(rankings.Rankings) != 3 {
		t.Fatalf("expected 3 rankings, got %d", len(rankings.Rankings))
	}
	if rankings.LabelToModel["Response A"] != "GPT" || rankings.LabelToModel["Response B"] != "Claude" || rankings.LabelToModel["Response C"] != "Gemini" {
		t.Fatalf("unexpected label map: %v", rankings.LabelToModel)
	}
	if len(rankings.AggregateRankings) != 3 || rankings.AggregateRankings[0].Model != "Claude" {
		t.Fatalf("unexpected aggregate: %+v", rankings.AggregateRankings)
	}

	final := result.FinalSynthesis()
	if final == nil || final.Model != "GPT" || !strings.Contains(final.Text, "final synthesis") {
		t.Fatalf("unexpected final synthesis: %+v", final)
	}
	if result.Metadata.LabelToModel["Response A"] != "GPT" {
		t.Fatalf("metadata must carry the label map: %v", result.Metadata.LabelToModel)
	}
}

func TestRunFailedMemberExcludedFromLabels(t *testing.T) {
	fake := newFakeInvoker()
	fake.handler = stageAwareHandler(map[string]bool{"model-2": true}, "FINAL RANKING:\n1. Response A\n2. Response B")

	exec := newTestExecutor(t, fake)
	result, err := exec.Run(context.Background(), RunParams{
		Snapshot:  threeStageSnapshot(),
		UserQuery: "q",
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	rankings := result.Stages[1]
	if len(rankings.LabelToModel) != 2 {
		t.Fatalf("expected exactly 2 labels, got %v", rankings.LabelToModel)
	}
	for _, model := range rankings.LabelToModel {
		if model == "Claude" {
			t.Fatalf("failed member must never appear in label map: %v", rankings.LabelToModel)
		}
	}
	if rankings.LabelToModel["Response A"] != "GPT" || rankings.LabelToModel["Response B"] != "Gemini" {
		t.Fatalf("labels must stay dense over survivors: %v", rankings.LabelToModel)
	}
}

func TestRunAllResponsesFailed(t *testing.T) {
	fake := newFakeInvoker()
	fake.handler = func(req llm.Request) llm.Result {
		return llm.Result{Err: "everything is down"}
	}

	exec := newTestExecutor(t, fake)
	result, err := exec.Run(context.Background(), RunParams{
		Snapshot:  threeStageSnapshot(),
		UserQuery: "q",
	})
	if err != nil {
		t.Fatalf("a run without output must still complete: %v", err)
	}
	if len(result.Stages) != 3 {
		t.Fatalf("all stages must complete, got %d", len(result.Stages))
	}

	// 排名阶段照常完成，产出为空
	if len(result.Stages[1].Rankings) != 0 || len(result.Stages[1].LabelToModel) != 0 {
		t.Fatalf("rankings over no survivors must be empty: %+v", result.Stages[1])
	}

	final := result.FinalSynthesis()
	if final == nil || final.Text != RunFailureText {
		t.Fatalf("expected synthetic failure synthesis, got %+v", final)
	}
}

func TestRunCancelAfterFirstStage(t *testing.T) {
	fake := newFakeInvoker()
	fake.handler = stageAwareHandler(nil, "FINAL RANKING:\n1. Response A")

	exec := newTestExecutor(t, fake)

	var completed []string
	hooks := Hooks{
		OnStageComplete: func(result StageResult) bool {
			completed = append(completed, result.StageID)
			return false
		},
	}

	result, err := exec.Run(context.Background(), RunParams{
		Snapshot:  threeStageSnapshot(),
		UserQuery: "q",
		Hooks:     hooks,
	})
	if err != ErrRunCancelled {
		t.Fatalf("expected ErrRunCancelled, got %v", err)
	}
	if len(completed) != 1 || completed[0] != "stage-1" {
		t.Fatalf("exactly one stage may complete: %v", completed)
	}
	// 已产出的阶段结果保留，不回滚
	if len(result.Stages) != 1 || result.Stages[0].StageID != "stage-1" {
		t.Fatalf("produced stage results must survive cancellation: %+v", result.Stages)
	}
}

func TestRunCancelViaContext(t *testing.T) {
	fake := newFakeInvoker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newTestExecutor(t, fake)
	result, err := exec.Run(ctx, RunParams{Snapshot: threeStageSnapshot(), UserQuery: "q"})
	if err != ErrRunCancelled {
		t.Fatalf("expected ErrRunCancelled, got %v", err)
	}
	if len(result.Stages) != 0 {
		t.Fatalf("no stage may run after cancellation: %+v", result.Stages)
	}
}

func TestRunHookOrderAndDeltas(t *testing.T) {
	fake := newFakeInvoker()
	fake.handler = stageAwareHandler(nil, "FINAL RANKING:\n1. Response A\n2. Response B\n3. Response C")

	exec := newTestExecutor(t, fake)

	var mu sync.Mutex
	var events []string
	hooks := Hooks{
		OnStageStart: func(desc StageDescriptor) bool {
			mu.Lock()
			events = append(events, "start:"+desc.ID)
			mu.Unlock()
			return true
		},
		OnMemberDelta: func(desc StageDescriptor, memberIndex int, chunk string) {
			mu.Lock()
			events = append(events, "delta:"+desc.ID)
			mu.Unlock()
		},
		OnStageComplete: func(result StageResult) bool {
			mu.Lock()
			events = append(events, "complete:"+result.StageID)
			mu.Unlock()
			return true
		},
	}

	_, err := exec.Run(context.Background(), RunParams{
		Snapshot:  threeStageSnapshot(),
		UserQuery: "q",
		Hooks:     hooks,
		Streaming: true,
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if events[0] != "start:stage-1" {
		t.Fatalf("run must open with the first stage start: %v", events)
	}
	// 每个阶段的增量都夹在该阶段 start 与 complete 之间
	boundaries := map[string]bool{}
	current := ""
	for _, ev := range events {
		switch {
		case strings.HasPrefix(ev, "start:"):
			current = strings.TrimPrefix(ev, "start:")
		case strings.HasPrefix(ev, "delta:"):
			if got := strings.TrimPrefix(ev, "delta:"); got != current {
				t.Fatalf("delta outside its stage window: %v", events)
			}
		case strings.HasPrefix(ev, "complete:"):
			boundaries[strings.TrimPrefix(ev, "complete:")] = true
			current = ""
		}
	}
	if len(boundaries) != 3 {
		t.Fatalf("every stage must emit a completion: %v", events)
	}
}

func TestRunSequentialResponsesStage(t *testing.T) {
	fake := newFakeInvoker()
	fake.handler = stageAwareHandler(nil, "FINAL RANKING:\n1. Response A")

	snap := threeStageSnapshot()
	snap.Stages[0].ExecutionMode = ModeSequential

	exec := newTestExecutor(t, fake)
	result, err := exec.Run(context.Background(), RunParams{Snapshot: snap, UserQuery: "q"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(result.Stages[0].Responses) != 3 {
		t.Fatalf("sequential stage must produce all members: %+v", result.Stages[0].Responses)
	}
}
