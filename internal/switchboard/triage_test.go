package switchboard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/butlerhub/switchboard/internal/envelope"
)

type fakeThreadLookup struct {
	target string
	ok     bool
}

func (f fakeThreadLookup) PriorRouteForThread(ctx context.Context, channel, threadID string) (string, bool, error) {
	return f.target, f.ok, nil
}

func baseEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		SchemaVersion: envelope.SchemaVersion,
		Source:        envelope.Source{Channel: envelope.ChannelTelegram, Provider: envelope.ProviderTelegram, EndpointIdentity: "telegram:bot:b1"},
		Event:         envelope.Event{ExternalEventID: "42", ObservedAt: time.Now()},
		Sender:        envelope.Sender{Identity: "user-1"},
		Payload:       envelope.Payload{NormalizedText: "hello", Raw: json.RawMessage(`{}`)},
		Control:       envelope.Control{PolicyTier: envelope.PolicyDefault, IngestionTier: envelope.IngestionFull},
	}
}

func TestTriageThreadAffinityWins(t *testing.T) {
	env := baseEnvelope()
	env.Source.Channel = envelope.ChannelEmail
	env.Source.Provider = envelope.ProviderGmail
	env.Event.ExternalThreadID = "thread-1"

	d, err := Triage(context.Background(), fakeThreadLookup{target: "relationship", ok: true}, env, []Rule{
		{ID: "r1", Type: RuleSenderDomain, Domain: "example.com", Action: ActionRouteTo, Target: "finance"},
	})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if d.Action != ActionRouteTo || d.Target != "relationship" {
		t.Fatalf("decision = %+v, want route_to relationship (thread affinity over rules)", d)
	}
}

func TestTriageSenderDomainRule(t *testing.T) {
	env := baseEnvelope()
	env.Sender.Identity = "alerts@billing.example.com"

	d, err := Triage(context.Background(), fakeThreadLookup{}, env, []Rule{
		{ID: "r1", Type: RuleSenderDomain, Domain: "example.com", Action: ActionRouteTo, Target: "finance"},
	})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if d.Action != ActionRouteTo || d.Target != "finance" || d.RuleID != "r1" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestTriageSenderAddressRule(t *testing.T) {
	env := baseEnvelope()
	env.Sender.Identity = "boss@example.com"

	d, err := Triage(context.Background(), fakeThreadLookup{}, env, []Rule{
		{ID: "r1", Type: RuleSenderAddress, Address: "boss@example.com", Action: ActionLowPriorityQueue},
	})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if d.Action != ActionLowPriorityQueue {
		t.Fatalf("decision = %+v", d)
	}
}

func TestTriageHeaderCondition(t *testing.T) {
	env := baseEnvelope()
	env.Payload.Raw = json.RawMessage(`{"headers":{"List-Unsubscribe":"<mailto:x>"}}`)

	d, err := Triage(context.Background(), fakeThreadLookup{}, env, []Rule{
		{ID: "r1", Type: RuleHeaderCondition, Header: "List-Unsubscribe", Predicate: HeaderPresent, Action: ActionMetadataOnly},
	})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if d.Action != ActionMetadataOnly {
		t.Fatalf("decision = %+v", d)
	}
	if d.Tier() != envelope.IngestionMetadata {
		t.Fatalf("tier = %v, want metadata", d.Tier())
	}
}

func TestTriageLabelMatch(t *testing.T) {
	env := baseEnvelope()
	env.Payload.Raw = json.RawMessage(`{"labels":["promotions"]}`)

	d, err := Triage(context.Background(), fakeThreadLookup{}, env, []Rule{
		{ID: "r1", Type: RuleLabelMatch, Value: "promotions", Action: ActionSkip},
	})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if d.Action != ActionSkip {
		t.Fatalf("decision = %+v", d)
	}
}

func TestTriageDefaultsToPassThrough(t *testing.T) {
	env := baseEnvelope()
	d, err := Triage(context.Background(), fakeThreadLookup{}, env, nil)
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if d.Action != ActionPassThrough || d.Target != "" {
		t.Fatalf("decision = %+v, want bare pass_through", d)
	}
	if d.Tier() != envelope.IngestionFull {
		t.Fatalf("tier = %v, want full", d.Tier())
	}
}

func TestTriageFirstMatchWins(t *testing.T) {
	env := baseEnvelope()
	env.Sender.Identity = "alerts@example.com"

	d, err := Triage(context.Background(), fakeThreadLookup{}, env, []Rule{
		{ID: "first", Type: RuleSenderDomain, Domain: "example.com", Action: ActionRouteTo, Target: "finance"},
		{ID: "second", Type: RuleSenderDomain, Domain: "example.com", Action: ActionSkip},
	})
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if d.RuleID != "first" || d.Target != "finance" {
		t.Fatalf("decision = %+v, want the first matching rule to win", d)
	}
}
