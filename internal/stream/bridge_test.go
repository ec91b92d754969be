package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/faridhamidi/llm-council/internal/council"
)

func drain(t *testing.T, b *Bridge) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("queue never closed, got %v", events)
		}
	}
}

func TestBridgeOrderedDelivery(t *testing.T) {
	b := NewBridge()
	desc := council.StageDescriptor{ID: "stage-1", Kind: council.StageKindResponses}

	hooks := b.Hooks()
	if !hooks.OnStageStart(desc) {
		t.Fatalf("hooks must signal continue before cancellation")
	}
	hooks.OnMemberDelta(desc, 0, "hel")
	hooks.OnMemberDelta(desc, 0, "lo")
	hooks.OnStageComplete(council.StageResult{StageID: "stage-1"})
	b.Finish(Event{Type: EventComplete})

	events := drain(t, b)
	wantTypes := []EventType{EventStageStart, EventStageMemberDelta, EventStageMemberDelta, EventStageComplete, EventComplete}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantTypes), len(events), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
	}
	if events[1].Chunk != "hel" || events[1].MemberIndex != 0 {
		t.Fatalf("unexpected delta payload: %+v", events[1])
	}
}

func TestBridgeExactlyOneTerminal(t *testing.T) {
	b := NewBridge()
	b.Finish(Event{Type: EventComplete})
	b.Finish(Event{Type: EventError, Message: "late"})

	events := drain(t, b)
	if len(events) != 1 || events[0].Type != EventComplete {
		t.Fatalf("exactly one terminal event may be delivered: %+v", events)
	}
}

func TestBridgeSuppressionAfterCancel(t *testing.T) {
	b := NewBridge()
	hooks := b.Hooks()
	desc := council.StageDescriptor{ID: "stage-1"}

	hooks.OnStageStart(desc)
	b.Cancel()

	if hooks.OnStageStart(desc) {
		t.Fatalf("hooks must signal stop after cancellation")
	}
	hooks.OnMemberDelta(desc, 0, "ghost")
	if b.Publish(Event{Type: EventStageComplete}) {
		t.Fatalf("non-terminal publish must be suppressed after cancel")
	}
	b.Finish(Event{Type: EventCancelled})

	events := drain(t, b)
	if len(events) != 2 {
		t.Fatalf("expected start + cancelled only, got %+v", events)
	}
	if events[1].Type != EventCancelled {
		t.Fatalf("terminal must be cancelled: %+v", events[1])
	}
}

func TestBridgeFinishRejectsNonTerminal(t *testing.T) {
	b := NewBridge()
	b.Finish(Event{Type: EventStageStart})
	if !b.Publish(Event{Type: EventStageStart}) {
		t.Fatalf("bridge must stay open after a rejected finish")
	}
	b.Finish(Event{Type: EventComplete})
	drain(t, b)
}

func TestRegistrySingleRunPerKey(t *testing.T) {
	r := NewRegistry()

	first, firstCtx := r.Begin(context.Background(), "conv-1")
	go func() {
		// 运行协程：被取消后收尾退场
		<-firstCtx.Done()
		first.Bridge.Finish(Event{Type: EventCancelled})
		r.Finish("conv-1", first)
	}()

	second, _ := r.Begin(context.Background(), "conv-1")
	defer r.Finish("conv-1", second)

	// Begin 返回时旧运行必然已退场
	select {
	case <-first.Done():
	default:
		t.Fatalf("prior run must be torn down before the new one starts")
	}
	if firstCtx.Err() == nil {
		t.Fatalf("prior run context must be cancelled")
	}

	// 旧桥收到唯一的 cancelled 终态，新桥不串台
	events := drain(t, first.Bridge)
	if len(events) != 1 || events[0].Type != EventCancelled {
		t.Fatalf("unexpected events on cancelled run: %+v", events)
	}
	if !second.Bridge.Publish(Event{Type: EventStageStart}) {
		t.Fatalf("new run must start cleanly")
	}
}

func TestRegistryConcurrentBeginKeepsOneRun(t *testing.T) {
	r := NewRegistry()
	const contenders = 8

	start := make(chan struct{})
	var wg sync.WaitGroup
	runs := make([]*Run, contenders)
	ctxs := make([]context.Context, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			run, ctx := r.Begin(context.Background(), "conv-1")
			runs[i] = run
			ctxs[i] = ctx
			// 运行协程：被取消后收尾退场
			go func() {
				<-ctx.Done()
				run.Bridge.Finish(Event{Type: EventCancelled})
				r.Finish("conv-1", run)
			}()
		}(i)
	}
	close(start)
	wg.Wait()

	live := 0
	for i := range runs {
		if ctxs[i].Err() == nil && !runs[i].Bridge.Cancelled() {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live run per key, got %d", live)
	}

	// 幸存运行仍可经 Cancel 触达，全部退场后注册表清空
	if !r.Cancel("conv-1") {
		t.Fatalf("surviving run must be reachable by Cancel")
	}
	timeout := time.After(2 * time.Second)
	for i := range runs {
		select {
		case <-runs[i].Done():
		case <-timeout:
			t.Fatalf("run %d did not tear down", i)
		}
	}
	if r.Active("conv-1") {
		t.Fatalf("registry must be empty after all runs finish")
	}
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	if r.Cancel("missing") {
		t.Fatalf("cancelling an idle key must report false")
	}

	run, ctx := r.Begin(context.Background(), "conv-1")
	if !r.Active("conv-1") {
		t.Fatalf("run must be active after Begin")
	}
	if !r.Cancel("conv-1") {
		t.Fatalf("cancelling an active key must report true")
	}
	if ctx.Err() == nil || !run.Bridge.Cancelled() {
		t.Fatalf("cancel must propagate to context and bridge")
	}

	r.Finish("conv-1", run)
	if r.Active("conv-1") {
		t.Fatalf("run must be removed after Finish")
	}
}
