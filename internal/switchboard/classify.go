package switchboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/butlerhub/switchboard/common/trace"
	"github.com/butlerhub/switchboard/internal/audit"
	"github.com/butlerhub/switchboard/internal/envelope"
	"github.com/butlerhub/switchboard/internal/llm"
	"github.com/butlerhub/switchboard/internal/mcp"
	"github.com/butlerhub/switchboard/internal/registry"
	"github.com/butlerhub/switchboard/internal/store"
)

// MaxFanOut bounds the number of sub-routes a single classification session
// may emit, to keep tail latency bounded (spec.md §9 open question,
// resolved in favor of a cap).
const MaxFanOut = 4

// maxClassifyRounds bounds the tool-call loop the same way app.go's turn
// loop bounds Gitai's own rounds, so a misbehaving model can't hang a
// classification session forever.
const maxClassifyRounds = 10

const defaultButler = "general"

var errTooManyRoutes = fmt.Errorf("too_many_routes: classifier exceeded max fan-out of %d", MaxFanOut)

// routeCall is one route() invocation the classifier made, resolved against
// the registry snapshot and, if it succeeded, dispatched to the target
// butler's trigger tool.
type routeCall struct {
	requestedButler string
	resolvedButler  string // after unknown-name fallback to defaultButler
	prompt          string
	traceID         string
	outcome         string // "routed" or "error:<reason>"
}

// AggregatedReply is what the classifier produces once every route() call it
// issued has returned (or failed). Pipeline.Ingest discards it; no code
// delivers it on the originating channel.
type AggregatedReply struct {
	Text    string
	GroupID string // "" when only a single target was routed
	Routes  []routeCall
}

// Classifier spawns the single LLM session that decides which butler(s) an
// envelope belongs to, grounded on internal/gitai/app.go's runTurn tool-call
// round loop, generalized from one conversational turn into a sequence of
// route() decisions.
type Classifier struct {
	Provider llm.Provider
	Registry *registry.Registry
	Store    *store.Store
	Audit    *audit.Log
	Dial     func(endpoint string) *mcp.Client

	// dispatch defaults to dispatchOne; tests override it to exercise the
	// fan-out cap and sequencing logic without a live store/MCP endpoint.
	dispatch func(ctx context.Context, snapshot []registry.ButlerSnapshot, requested, prompt string) routeCall
}

// NewClassifier builds a Classifier.
func NewClassifier(prov llm.Provider, reg *registry.Registry, st *store.Store, dial func(endpoint string) *mcp.Client) *Classifier {
	return &Classifier{Provider: prov, Registry: reg, Store: st, Audit: audit.New(st), Dial: dial}
}

// routeToolDef is the single tool the classifier may call; each invocation
// names a target butler and the (possibly sub-extracted) prompt to hand it.
var routeToolDef = llm.ToolDefinition{
	Type: "function",
	Function: llm.FunctionDef{
		Name:        "route",
		Description: "Route this message, or part of it, to a butler by name. Call it once per distinct topic in the message.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"butler": map[string]interface{}{
					"type":        "string",
					"description": "Name of the butler to handle this part of the message.",
				},
				"prompt": map[string]interface{}{
					"type":        "string",
					"description": "The instruction to hand that butler, extracted from the original message.",
				},
			},
			"required": []string{"butler", "prompt"},
		},
	},
}

// Classify runs the classification session for env (already accepted into
// the inbox as requestID) and returns the aggregated reply.
func (c *Classifier) Classify(ctx context.Context, requestID string, env *envelope.Envelope) (AggregatedReply, error) {
	snapshot, err := c.Registry.Snapshot(ctx)
	if err != nil {
		return AggregatedReply{}, fmt.Errorf("registry snapshot: %w", err)
	}

	calls, modelReply, err := c.runRounds(ctx, snapshot, env.Payload.NormalizedText)
	if err != nil {
		return AggregatedReply{}, err
	}
	return c.finish(ctx, requestID, env, calls, modelReply)
}

// runRounds drives the tool-call round loop in isolation from routing-log
// persistence: given a registry snapshot and the user text, it returns every
// resolved route() call plus the model's final text. Kept separate from
// Classify so the sequencing and fan-out cap can be exercised without a live
// store.
func (c *Classifier) runRounds(ctx context.Context, snapshot []registry.ButlerSnapshot, userText string) ([]routeCall, string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: classifierSystemPrompt(snapshot)},
		{Role: llm.RoleUser, Content: userText},
	}

	dispatch := c.dispatch
	if dispatch == nil {
		dispatch = c.dispatchOne
	}

	var calls []routeCall
	for round := 0; round < maxClassifyRounds; round++ {
		resp, err := c.Provider.Complete(ctx, llm.CompletionRequest{
			Messages: messages,
			Tools:    []llm.ToolDefinition{routeToolDef},
		})
		if err != nil {
			return nil, "", fmt.Errorf("classify LLM call failed: %w", err)
		}
		messages = append(messages, resp.Message)

		if resp.FinishReason != "tool_calls" || len(resp.Message.ToolCalls) == 0 {
			return calls, resp.Message.Content, nil
		}

		// Sequential dispatch: the Switchboard never parallelizes route()
		// calls within one classification session (spec.md §4.3).
		for _, tc := range resp.Message.ToolCalls {
			toolMsg := llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Name: tc.Function.Name}

			if len(calls) >= MaxFanOut {
				toolMsg.Content = errTooManyRoutes.Error()
				messages = append(messages, toolMsg)
				continue
			}

			var args struct {
				Butler string `json:"butler"`
				Prompt string `json:"prompt"`
			}
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				toolMsg.Content = fmt.Sprintf("error: invalid route() arguments: %s", err)
				messages = append(messages, toolMsg)
				continue
			}

			rc := dispatch(ctx, snapshot, args.Butler, args.Prompt)
			calls = append(calls, rc)
			if rc.outcome == "routed" {
				toolMsg.Content = fmt.Sprintf("routed to %s", rc.resolvedButler)
			} else {
				toolMsg.Content = rc.outcome
			}
			messages = append(messages, toolMsg)
		}
	}

	return nil, "", fmt.Errorf("classification exceeded maximum tool call rounds (%d)", maxClassifyRounds)
}

// dispatchOne resolves an unknown butler name to defaultButler, forbids
// self-routing to the switchboard, and (on a legal target) calls trigger()
// on the target's MCP endpoint.
func (c *Classifier) dispatchOne(ctx context.Context, snapshot []registry.ButlerSnapshot, requested, prompt string) routeCall {
	rc := routeCall{requestedButler: requested, prompt: prompt, traceID: trace.GenerateID()}

	if requested == "switchboard" {
		rc.resolvedButler = requested
		rc.outcome = "error:not_permitted"
		return rc
	}

	resolved := requested
	if !snapshotHas(snapshot, requested) {
		resolved = defaultButler
	}
	rc.resolvedButler = resolved

	target, err := c.Registry.Find(ctx, resolved)
	if err != nil {
		rc.outcome = "error:" + err.Error()
		return rc
	}
	if target == nil {
		rc.outcome = "error:not_found"
		return rc
	}

	client := c.Dial(target.EndpointURL)
	triggerArgs, _ := json.Marshal(map[string]interface{}{
		"prompt":         prompt,
		"trigger_source": "switchboard",
	})
	if _, err := client.CallTool(ctx, "trigger", triggerArgs); err != nil {
		rc.outcome = "error:" + err.Error()
		return rc
	}

	if err := store.TouchButlerLastSeen(ctx, c.Store.DB(), resolved); err != nil {
		rc.outcome = "error:touch_last_seen:" + err.Error()
		return rc
	}

	rc.outcome = "routed"
	return rc
}

// finish writes the routing-log entries for every call this session made
// (minting a shared group_id only when more than one target was routed,
// per spec.md §4.3), and builds the aggregated reply.
func (c *Classifier) finish(ctx context.Context, requestID string, env *envelope.Envelope, calls []routeCall, modelReply string) (AggregatedReply, error) {
	var groupID string
	if len(calls) > 1 {
		id, err := uuid.NewV7()
		if err != nil {
			return AggregatedReply{}, fmt.Errorf("mint group id: %w", err)
		}
		groupID = id.String()
	}

	for _, rc := range calls {
		entry := store.RoutingLogEntry{
			SourceChannel: string(env.Source.Channel),
			SourceSender:  env.Sender.Identity,
			PromptSummary: rc.prompt,
			TraceID:       rc.traceID,
			Outcome:       rc.outcome,
		}
		if groupID != "" {
			entry.GroupID.String, entry.GroupID.Valid = groupID, true
		}
		if rc.outcome == "routed" {
			entry.RoutedTo.String, entry.RoutedTo.Valid = rc.resolvedButler, true
		}
		if _, err := c.Audit.RecordRoute(ctx, entry); err != nil {
			return AggregatedReply{}, fmt.Errorf("append routing log: %w", err)
		}
	}

	if err := store.SetTriageDecision(ctx, c.Store.DB(), requestID, "classified", aggregatedTargets(calls), ""); err != nil {
		return AggregatedReply{}, fmt.Errorf("set triage decision: %w", err)
	}

	text := modelReply
	if text == "" {
		text = summarizeRoutes(calls)
	}
	return AggregatedReply{Text: text, GroupID: groupID, Routes: calls}, nil
}

func snapshotHas(snapshot []registry.ButlerSnapshot, name string) bool {
	for _, b := range snapshot {
		if b.Name == name && b.Eligible {
			return true
		}
	}
	return false
}

func aggregatedTargets(calls []routeCall) string {
	names := make([]string, 0, len(calls))
	for _, rc := range calls {
		names = append(names, rc.resolvedButler)
	}
	return strings.Join(names, ",")
}

// summarizeRoutes builds a fallback aggregated reply when the model's final
// message was empty, surfacing every failure explicitly so fan-out never
// fails silently (spec.md §7).
func summarizeRoutes(calls []routeCall) string {
	if len(calls) == 0 {
		return "no route could be determined for this message"
	}
	var parts []string
	for _, rc := range calls {
		if rc.outcome == "routed" {
			parts = append(parts, fmt.Sprintf("%s: handled", rc.resolvedButler))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed (%s)", rc.resolvedButler, rc.outcome))
		}
	}
	return strings.Join(parts, "; ")
}

func classifierSystemPrompt(snapshot []registry.ButlerSnapshot) string {
	var b strings.Builder
	b.WriteString("You are the Switchboard's message classifier. Decide which butler(s) should handle the user's message.\n")
	b.WriteString("Call route(butler, prompt) once per distinct topic; a single-topic message produces exactly one call.\n")
	b.WriteString("Issue route() calls one at a time and wait for each result before issuing the next.\n")
	b.WriteString(fmt.Sprintf("Issue at most %d route() calls; any further call is rejected with too_many_routes.\n", MaxFanOut))
	b.WriteString("You may never route to \"switchboard\". If no listed butler clearly fits, route to \"general\".\n")
	b.WriteString("Available butlers:\n")
	for _, butler := range snapshot {
		if !butler.Eligible {
			continue
		}
		b.WriteString(fmt.Sprintf("- %s: modules=%s\n", butler.Name, strings.Join(butler.Modules, ",")))
	}
	b.WriteString("After every route() call you have issued has returned, reply with one short message summarizing what each butler will do.\n")
	return b.String()
}
