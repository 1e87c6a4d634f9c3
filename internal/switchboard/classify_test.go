package switchboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/butlerhub/switchboard/internal/llm"
	"github.com/butlerhub/switchboard/internal/registry"
)

func TestSnapshotHas(t *testing.T) {
	snapshot := []registry.ButlerSnapshot{
		{Name: "finance", Eligible: true},
		{Name: "health", Eligible: false},
	}
	if !snapshotHas(snapshot, "finance") {
		t.Fatal("finance should be found and eligible")
	}
	if snapshotHas(snapshot, "health") {
		t.Fatal("health is not eligible, should not match")
	}
	if snapshotHas(snapshot, "unknown") {
		t.Fatal("unknown butler should not match")
	}
}

func TestAggregatedTargets(t *testing.T) {
	calls := []routeCall{{resolvedButler: "relationship"}, {resolvedButler: "health"}}
	if got := aggregatedTargets(calls); got != "relationship,health" {
		t.Fatalf("aggregatedTargets = %q", got)
	}
}

func TestSummarizeRoutesReportsFailures(t *testing.T) {
	calls := []routeCall{
		{resolvedButler: "relationship", outcome: "routed"},
		{resolvedButler: "health", outcome: "error:not_found"},
	}
	summary := summarizeRoutes(calls)
	if !strings.Contains(summary, "relationship: handled") || !strings.Contains(summary, "health: failed") {
		t.Fatalf("summary = %q, want mention of both outcomes", summary)
	}
}

func TestSummarizeRoutesNoCalls(t *testing.T) {
	if summarizeRoutes(nil) == "" {
		t.Fatal("expected a non-empty fallback when no route() calls were made")
	}
}

func TestClassifierSystemPromptListsOnlyEligibleButlers(t *testing.T) {
	prompt := classifierSystemPrompt([]registry.ButlerSnapshot{
		{Name: "finance", Eligible: true, Modules: []string{"ledger"}},
		{Name: "stale-one", Eligible: false},
	})
	if !strings.Contains(prompt, "finance") {
		t.Fatalf("prompt should list eligible butler finance: %q", prompt)
	}
	if strings.Contains(prompt, "stale-one") {
		t.Fatalf("prompt should omit ineligible butler: %q", prompt)
	}
	if !strings.Contains(prompt, "switchboard") {
		t.Fatalf("prompt should forbid self-routing: %q", prompt)
	}
}

// fakeProvider drives a scripted sequence of completions so the classifier
// loop can be exercised without a real LLM backend.
type fakeProvider struct {
	responses []llm.CompletionResponse
	calls     int
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.calls >= len(f.responses) {
		return nil, fmt.Errorf("fakeProvider: no more scripted responses")
	}
	resp := f.responses[f.calls]
	f.calls++
	return &resp, nil
}

func toolCallArgs(id, butler, prompt string) llm.ToolCall {
	args, _ := json.Marshal(map[string]string{"butler": butler, "prompt": prompt})
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: "route", Arguments: string(args)}}
}

func TestClassifySingleTarget(t *testing.T) {
	prov := &fakeProvider{responses: []llm.CompletionResponse{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{toolCallArgs("1", "health", "log my weight")}}, FinishReason: "tool_calls"},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "health will log your weight"}, FinishReason: "stop"},
	}}

	var dispatched []string
	c := &Classifier{
		Provider: prov,
		dispatch: func(ctx context.Context, snapshot []registry.ButlerSnapshot, requested, prompt string) routeCall {
			dispatched = append(dispatched, requested)
			return routeCall{requestedButler: requested, resolvedButler: requested, prompt: prompt, outcome: "routed"}
		},
	}

	calls, reply, err := c.runRounds(context.Background(), []registry.ButlerSnapshot{{Name: "health", Eligible: true}}, "log my weight")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(calls) != 1 || calls[0].resolvedButler != "health" {
		t.Fatalf("calls = %+v, want exactly one route to health", calls)
	}
	if len(dispatched) != 1 {
		t.Fatalf("dispatch invoked %d times, want 1", len(dispatched))
	}
	if reply == "" {
		t.Fatal("expected a non-empty aggregated reply")
	}
}

func TestClassifyEnforcesMaxFanOut(t *testing.T) {
	// One round emitting MaxFanOut+1 tool calls; the extra call must be
	// rejected with too_many_routes without ever reaching dispatch.
	toolCalls := make([]llm.ToolCall, 0, MaxFanOut+1)
	for i := 0; i < MaxFanOut+1; i++ {
		toolCalls = append(toolCalls, toolCallArgs(fmt.Sprintf("%d", i), fmt.Sprintf("butler-%d", i), "part"))
	}
	prov := &fakeProvider{responses: []llm.CompletionResponse{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: toolCalls}, FinishReason: "tool_calls"},
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "done"}, FinishReason: "stop"},
	}}

	dispatchCount := 0
	c := &Classifier{
		Provider: prov,
		dispatch: func(ctx context.Context, snapshot []registry.ButlerSnapshot, requested, prompt string) routeCall {
			dispatchCount++
			return routeCall{requestedButler: requested, resolvedButler: requested, prompt: prompt, outcome: "routed"}
		},
	}

	calls, _, err := c.runRounds(context.Background(), nil, "many things")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if dispatchCount != MaxFanOut {
		t.Fatalf("dispatch invoked %d times, want exactly MaxFanOut=%d", dispatchCount, MaxFanOut)
	}
	if len(calls) != MaxFanOut {
		t.Fatalf("calls = %d, want %d", len(calls), MaxFanOut)
	}
}

