package switchboard

import (
	"context"
	"fmt"

	"github.com/butlerhub/switchboard/internal/dedupe"
	"github.com/butlerhub/switchboard/internal/envelope"
	"github.com/butlerhub/switchboard/internal/store"
)

// IngestResult is returned to the connector that submitted the envelope.
type IngestResult struct {
	RequestID string
	Duplicate bool
}

// Pipeline is the Switchboard Ingress component: accept, dedupe, triage,
// and dispatch (directly or via classification). Registry lookups for
// direct dispatch go through Classifier.Registry, the same snapshot the
// classification session itself uses.
type Pipeline struct {
	Dedupe     *dedupe.Core
	Store      *store.Store
	Classifier *Classifier
	Rules      []Rule
}

// Ingest runs the full pipeline for one accepted envelope: dedupe-core
// insert, triage, and dispatch. A skip decision stops before dispatch; the
// decision's Tier() is not applied, so metadata_only is dispatched the same
// way as pass_through. On duplicate = true it
// short-circuits before triage/classification entirely, per spec.md §4.3's
// "do not classify again; a second routing decision is not emitted."
func (p *Pipeline) Ingest(ctx context.Context, env *envelope.Envelope) (IngestResult, error) {
	res, err := p.Dedupe.Accept(ctx, env)
	if err != nil {
		return IngestResult{}, fmt.Errorf("dedupe accept: %w", err)
	}
	if res.Duplicate {
		return IngestResult{RequestID: res.RequestID, Duplicate: true}, nil
	}

	lookup := threadLookup{st: p.Store}
	decision, err := Triage(ctx, lookup, env, p.Rules)
	if err != nil {
		return IngestResult{}, fmt.Errorf("triage: %w", err)
	}

	if err := store.SetTriageDecision(ctx, p.Store.DB(), res.RequestID, string(decision.Action), decision.Target, decision.RuleID); err != nil {
		return IngestResult{}, fmt.Errorf("set triage decision: %w", err)
	}

	if decision.Action == ActionSkip {
		return IngestResult{RequestID: res.RequestID, Duplicate: false}, nil
	}

	if decision.Target != "" {
		// A concrete butler was already decided (thread affinity or a
		// route_to rule) — dispatch directly, no classification session.
		if _, err := p.dispatchDirect(ctx, env, decision.Target); err != nil {
			return IngestResult{}, fmt.Errorf("direct dispatch: %w", err)
		}
		return IngestResult{RequestID: res.RequestID, Duplicate: false}, nil
	}

	if p.Classifier != nil {
		if _, err := p.Classifier.Classify(ctx, res.RequestID, env); err != nil {
			return IngestResult{}, fmt.Errorf("classify: %w", err)
		}
	}

	return IngestResult{RequestID: res.RequestID, Duplicate: false}, nil
}

// dispatchDirect calls trigger() on target without spawning a classification
// session, and writes the single routing-log entry for it (group_id stays
// NULL: this is never a decomposed fan-out).
func (p *Pipeline) dispatchDirect(ctx context.Context, env *envelope.Envelope, target string) (*routeCall, error) {
	if p.Classifier == nil {
		return nil, fmt.Errorf("no classifier configured to dispatch through")
	}
	snapshot, err := p.Classifier.Registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rc := p.Classifier.dispatchOne(ctx, snapshot, target, env.Payload.NormalizedText)

	entry := store.RoutingLogEntry{
		SourceChannel: string(env.Source.Channel),
		SourceSender:  env.Sender.Identity,
		PromptSummary: rc.prompt,
		TraceID:       rc.traceID,
		Outcome:       rc.outcome,
	}
	if rc.outcome == "routed" {
		entry.RoutedTo.String, entry.RoutedTo.Valid = rc.resolvedButler, true
	}
	if _, err := store.AppendRoutingLog(ctx, p.Store.DB(), entry); err != nil {
		return nil, fmt.Errorf("append routing log: %w", err)
	}
	return &rc, nil
}
