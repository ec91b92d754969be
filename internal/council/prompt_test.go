package council

import (
	"strings"
	"testing"
)

func TestComposeEmptyTemplateFallback(t *testing.T) {
	got := Compose(PromptInput{UserQuery: "What is Go?"})
	if got != "User Question: What is Go?" {
		t.Fatalf("unexpected prompt: %q", got)
	}

	got = Compose(PromptInput{UserQuery: "What is Go?", PriorContext: "Model: A\nResponse: ..."})
	if !strings.Contains(got, "User Question: What is Go?") {
		t.Fatalf("prompt missing question: %q", got)
	}
	if !strings.Contains(got, "Previous Stage Outputs:\nModel: A") {
		t.Fatalf("prompt missing prior context: %q", got)
	}
}

func TestComposeTemplatePlaceholders(t *testing.T) {
	got := Compose(PromptInput{
		Template:  "Q: {question}\nR: {responses}\nCount: {response_count}\nLabels: {response_labels}",
		UserQuery: "why",
		Values: map[string]string{
			"responses":       "body",
			"response_count":  "2",
			"response_labels": "Response A, Response B",
		},
	})
	want := "Q: why\nR: body\nCount: 2\nLabels: Response A, Response B"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestComposeUnknownPlaceholderKept(t *testing.T) {
	got := Compose(PromptInput{Template: "Hello {nobody}", UserQuery: "q"})
	if got != "Hello {nobody}" {
		t.Fatalf("unknown placeholder must survive verbatim: %q", got)
	}
}

func TestComposeHistoryPrefix(t *testing.T) {
	got := Compose(PromptInput{UserQuery: "next", History: "User: first\n\nSpeaker: answer"})
	if !strings.HasPrefix(got, "Conversation So Far:\nUser: first") {
		t.Fatalf("history block must lead the prompt: %q", got)
	}
	if !strings.Contains(got, "User Question: next") {
		t.Fatalf("prompt missing question: %q", got)
	}
}

func TestFormatResponsesBlockFailedInline(t *testing.T) {
	results := []MemberResult{
		{Model: "GPT", Text: "fine", Status: StatusOK},
		{Model: "Claude", Status: StatusFailed, Err: "timeout"},
	}
	got := FormatResponsesBlock(results)
	if !strings.Contains(got, "Model: GPT\nResponse: fine") {
		t.Fatalf("missing ok entry: %q", got)
	}
	// 失败成员内联呈现，不被隐藏
	if !strings.Contains(got, "Model: Claude\nResponse: [FAILED]\nError: timeout") {
		t.Fatalf("missing failed entry: %q", got)
	}
}

func TestBuildRankingDataSkipsFailures(t *testing.T) {
	results := []MemberResult{
		{Model: "GPT", Text: "one", Status: StatusOK},
		{Model: "Claude", Status: StatusFailed, Err: "boom"},
		{Model: "Gemini", Text: "three", Status: StatusOK},
	}

	data := BuildRankingData(results)
	if len(data.Labels) != 2 {
		t.Fatalf("expected 2 labels, got %v", data.Labels)
	}
	if data.Labels[0] != "Response A" || data.Labels[1] != "Response B" {
		t.Fatalf("labels must be dense from A: %v", data.Labels)
	}
	if data.LabelToModel["Response A"] != "GPT" || data.LabelToModel["Response B"] != "Gemini" {
		t.Fatalf("unexpected label map: %v", data.LabelToModel)
	}
	for _, model := range data.LabelToModel {
		if model == "Claude" {
			t.Fatalf("failed member must never get a label: %v", data.LabelToModel)
		}
	}
	if !strings.Contains(data.ResponsesText, "Response A:\none") || !strings.Contains(data.ResponsesText, "Response B:\nthree") {
		t.Fatalf("unexpected responses text: %q", data.ResponsesText)
	}
}

func TestDefaultTemplatePerKind(t *testing.T) {
	if DefaultTemplate(StageKindResponses) != "" {
		t.Fatalf("responses stage has no default template")
	}
	if DefaultTemplate(StageKindRankings) != DefaultRankingsPrompt {
		t.Fatalf("rankings default template mismatch")
	}
	if DefaultTemplate(StageKindSynthesis) != DefaultSynthesisPrompt {
		t.Fatalf("synthesis default template mismatch")
	}
}
