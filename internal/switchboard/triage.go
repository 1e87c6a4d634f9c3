package switchboard

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/butlerhub/switchboard/internal/envelope"
	"github.com/butlerhub/switchboard/internal/store"
)

// TriageAction is the outcome of a single deterministic rule.
type TriageAction string

const (
	ActionRouteTo          TriageAction = "route_to"
	ActionLowPriorityQueue TriageAction = "low_priority_queue"
	ActionPassThrough      TriageAction = "pass_through"
	ActionMetadataOnly     TriageAction = "metadata_only"
	ActionSkip             TriageAction = "skip"
)

// RuleType selects the predicate a Rule evaluates.
type RuleType string

const (
	RuleSenderDomain    RuleType = "sender_domain"
	RuleSenderAddress   RuleType = "sender_address"
	RuleHeaderCondition RuleType = "header_condition"
	RuleLabelMatch      RuleType = "label_match"
)

// HeaderPredicate is how header_condition rules compare a header's value.
type HeaderPredicate string

const (
	HeaderPresent  HeaderPredicate = "present"
	HeaderEquals   HeaderPredicate = "equals"
	HeaderContains HeaderPredicate = "contains"
)

// Rule is one configured, first-match-wins deterministic triage rule.
type Rule struct {
	ID        string
	Type      RuleType
	Action    TriageAction
	Target    string // required when Action == route_to
	Domain    string // sender_domain
	Address   string // sender_address
	Header    string // header_condition
	Predicate HeaderPredicate
	Value     string // header_condition / label_match
}

// Decision is the result of running triage on one envelope.
type Decision struct {
	Action TriageAction
	Target string // butler name, only set for route_to (incl. thread affinity)
	RuleID string // empty for thread affinity or the default pass_through
}

// Tier maps a triage action onto the envelope ingestion tier a dispatched
// sub-route should use.
func (d Decision) Tier() envelope.IngestionTier {
	if d.Action == ActionMetadataOnly {
		return envelope.IngestionMetadata
	}
	return envelope.IngestionFull
}

// emailMeta is the subset of an email envelope's raw payload that triage
// rules can inspect; connectors populate it in payload.raw for the email
// channel, headers and labels are not part of the core envelope schema.
type emailMeta struct {
	Headers map[string]string `json:"headers"`
	Labels  []string          `json:"labels"`
}

func parseEmailMeta(raw json.RawMessage) emailMeta {
	var m emailMeta
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

// threadLookup adapts store.PriorRouteForThread (a package function taking
// a queryer) to the small interface Triage expects, so this package doesn't
// need to import database/sql directly.
type threadLookup struct {
	st *store.Store
}

func (t threadLookup) PriorRouteForThread(ctx context.Context, channel, threadID string) (string, bool, error) {
	return store.PriorRouteForThread(ctx, t.st.DB(), channel, threadID)
}

// Triage runs thread affinity then the configured deterministic rules, in
// order, first match wins; pass_through is the default action so a message
// is never silently dropped.
func Triage(ctx context.Context, q interface {
	PriorRouteForThread(ctx context.Context, channel, threadID string) (string, bool, error)
}, env *envelope.Envelope, rules []Rule) (Decision, error) {
	if env.Source.Channel == envelope.ChannelEmail && env.Event.ExternalThreadID != "" {
		target, ok, err := q.PriorRouteForThread(ctx, string(env.Source.Channel), env.Event.ExternalThreadID)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{Action: ActionRouteTo, Target: target}, nil
		}
	}

	meta := parseEmailMeta(env.Payload.Raw)
	for _, r := range rules {
		if matchRule(r, env, meta) {
			return Decision{Action: r.Action, Target: r.Target, RuleID: r.ID}, nil
		}
	}

	return Decision{Action: ActionPassThrough}, nil
}

func matchRule(r Rule, env *envelope.Envelope, meta emailMeta) bool {
	switch r.Type {
	case RuleSenderDomain:
		addr := strings.ToLower(env.Sender.Identity)
		domain := strings.ToLower(r.Domain)
		at := strings.LastIndex(addr, "@")
		if at < 0 {
			return false
		}
		senderDomain := addr[at+1:]
		return senderDomain == domain || strings.HasSuffix(senderDomain, "."+domain)
	case RuleSenderAddress:
		return strings.EqualFold(env.Sender.Identity, r.Address)
	case RuleHeaderCondition:
		v, ok := meta.Headers[r.Header]
		switch r.Predicate {
		case HeaderPresent:
			return ok
		case HeaderEquals:
			return ok && v == r.Value
		case HeaderContains:
			return ok && strings.Contains(v, r.Value)
		default:
			return false
		}
	case RuleLabelMatch:
		want := strings.ToUpper(r.Value)
		for _, label := range meta.Labels {
			if strings.ToUpper(label) == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}
