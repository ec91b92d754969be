package council

import (
	"strings"
	"testing"
)

func councilTranscript() []TranscriptMessage {
	return []TranscriptMessage{
		{Role: TranscriptRoleUser, Content: "What is Go?"},
		{
			Role: TranscriptRoleAssistant,
			Kind: TranscriptKindCouncil,
			Stages: []StageResult{
				{
					StageID: "stage-1", Name: "Individual Responses", Kind: StageKindResponses,
					Responses: []MemberResult{
						{Model: "GPT", Text: "a language", Status: StatusOK},
						{Model: "Claude", Text: "a compiled language", Status: StatusOK},
					},
				},
				{
					StageID: "stage-2", Name: "Peer Rankings", Kind: StageKindRankings,
					Rankings: []RankingResult{{Model: "GPT", RawText: "FINAL RANKING:\n1. Response B"}},
				},
				{
					StageID: "stage-3", Name: "Final Synthesis", Kind: StageKindSynthesis,
					Synthesis: &SynthesisResult{Model: "Chairman", Text: "Go is a compiled language."},
				},
			},
		},
		{Role: TranscriptRoleUser, Content: "Is it fast?"},
		{Role: TranscriptRoleAssistant, Kind: TranscriptKindSpeaker, Content: "Yes, quite fast."},
	}
}

func TestAssembleMinimal(t *testing.T) {
	got := Assemble(councilTranscript(), FidelityMinimal)
	if !strings.Contains(got, "Council's Initial Analysis:\nGo is a compiled language.") {
		t.Fatalf("minimal context must carry the synthesis: %q", got)
	}
	if strings.Contains(got, "User Queries") || strings.Contains(got, "Conversation History") {
		t.Fatalf("minimal context must carry nothing else: %q", got)
	}
}

func TestAssembleMinimalNoSynthesis(t *testing.T) {
	messages := councilTranscript()
	messages[1].Stages = messages[1].Stages[:2]
	if got := Assemble(messages, FidelityMinimal); got != "" {
		t.Fatalf("no synthesis stage yet must yield empty context, got %q", got)
	}
}

func TestAssembleNoCouncilMessage(t *testing.T) {
	messages := []TranscriptMessage{{Role: TranscriptRoleUser, Content: "hello"}}
	if got := Assemble(messages, FidelityFull); got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}

func TestAssembleStandard(t *testing.T) {
	got := Assemble(councilTranscript(), FidelityStandard)
	if !strings.Contains(got, "Council's Initial Analysis:") {
		t.Fatalf("standard context must carry the synthesis: %q", got)
	}
	if !strings.Contains(got, "User Queries:\nWhat is Go?\n---\nIs it fast?") {
		t.Fatalf("standard context must concatenate user turns: %q", got)
	}
	if strings.Contains(got, "Conversation History") {
		t.Fatalf("standard context must not carry the transcript: %q", got)
	}
}

func TestAssembleFull(t *testing.T) {
	got := Assemble(councilTranscript(), FidelityFull)

	if !strings.Contains(got, "=== Individual Responses ===") || !strings.Contains(got, "[GPT]:\na language") {
		t.Fatalf("full context must carry stage detail: %q", got)
	}
	if !strings.Contains(got, "=== Peer Rankings ===") || !strings.Contains(got, "[GPT]:\nFINAL RANKING:") {
		t.Fatalf("full context must carry ranking raw text: %q", got)
	}
	if !strings.Contains(got, "=== Conversation History ===") {
		t.Fatalf("full context must carry the transcript: %q", got)
	}
	if !strings.Contains(got, "User: What is Go?") || !strings.Contains(got, "Speaker: Yes, quite fast.") {
		t.Fatalf("transcript entries missing: %q", got)
	}
	// 议会消息在记录里折叠成占位符，细节已在上方展开
	if !strings.Contains(got, "Assistant: [Council Analysis - see above]") {
		t.Fatalf("council turn must collapse to a placeholder: %q", got)
	}
}

func TestAssembleFullUsesFirstCouncilMessage(t *testing.T) {
	messages := councilTranscript()
	second := messages[1]
	second.Stages = []StageResult{
		{
			StageID: "stage-3", Name: "Later Synthesis", Kind: StageKindSynthesis,
			Synthesis: &SynthesisResult{Model: "Chairman", Text: "a different answer"},
		},
	}
	messages = append(messages, second)

	got := Assemble(messages, FidelityFull)
	if !strings.Contains(got, "=== Individual Responses ===") {
		t.Fatalf("stage detail must come from the first council message: %q", got)
	}
	if strings.Contains(got, "=== Later Synthesis ===") {
		t.Fatalf("later council messages must not contribute stage detail: %q", got)
	}
}

func TestAssembleFullTruncatesPrompt(t *testing.T) {
	messages := councilTranscript()
	messages[1].Stages[0].Prompt = strings.Repeat("x", 600)

	got := Assemble(messages, FidelityFull)
	if !strings.Contains(got, strings.Repeat("x", stagePromptPreview)+"...") {
		t.Fatalf("long prompts must be truncated with ellipsis")
	}
	if strings.Contains(got, strings.Repeat("x", stagePromptPreview+1)) {
		t.Fatalf("prompt preview exceeded the cap")
	}
}

func TestBuildSpeakerPrompt(t *testing.T) {
	got := BuildSpeakerPrompt("ctx-block", "follow-up?")
	if !strings.Contains(got, "ctx-block") {
		t.Fatalf("context missing: %q", got)
	}
	if !strings.Contains(got, "User's Follow-up Question: follow-up?") {
		t.Fatalf("question missing: %q", got)
	}
}
