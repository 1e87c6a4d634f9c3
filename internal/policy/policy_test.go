package policy

import "testing"

func TestEvaluateDefaultRequiresApproval(t *testing.T) {
	e := New(nil)
	d, _ := e.Evaluate("finance", "payments.transfer", nil)
	if d != DecisionRequireApproval {
		t.Fatalf("expected DecisionRequireApproval, got %v", d)
	}
}

func TestEvaluateStandingRuleAllows(t *testing.T) {
	e := New([]Rule{
		{Name: "small-transfers", Butler: "finance", Tool: "payments.transfer", Allow: true,
			Constraints: map[string]string{"currency": "USD"}},
	})
	d, rule := e.Evaluate("finance", "payments.transfer", map[string]interface{}{"currency": "USD"})
	if d != DecisionAllow || rule != "small-transfers" {
		t.Fatalf("expected allow via small-transfers, got %v/%q", d, rule)
	}
}

func TestEvaluateConstraintMismatchFallsThrough(t *testing.T) {
	e := New([]Rule{
		{Name: "usd-only", Butler: "finance", Tool: "payments.transfer", Allow: true,
			Constraints: map[string]string{"currency": "USD"}},
	})
	d, _ := e.Evaluate("finance", "payments.transfer", map[string]interface{}{"currency": "EUR"})
	if d != DecisionRequireApproval {
		t.Fatalf("expected fallthrough to require_approval, got %v", d)
	}
}

func TestEvaluateWildcardButler(t *testing.T) {
	e := New([]Rule{{Name: "any-butler-ping", Butler: "*", Tool: "ping", Allow: true}})
	d, _ := e.Evaluate("general", "ping", nil)
	if d != DecisionAllow {
		t.Fatalf("expected allow, got %v", d)
	}
}

func TestEvaluateDenyRule(t *testing.T) {
	e := New([]Rule{{Name: "block-delete", Butler: "*", Tool: "secrets.delete", Allow: false}})
	d, rule := e.Evaluate("finance", "secrets.delete", nil)
	if d != DecisionDeny || rule != "block-delete" {
		t.Fatalf("expected deny via block-delete, got %v/%q", d, rule)
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	e := New([]Rule{
		{Name: "first", Butler: "*", Tool: "ping", Allow: false},
		{Name: "second", Butler: "*", Tool: "ping", Allow: true},
	})
	d, rule := e.Evaluate("general", "ping", nil)
	if d != DecisionDeny || rule != "first" {
		t.Fatalf("expected first rule to win, got %v/%q", d, rule)
	}
}

func TestDecisionString(t *testing.T) {
	cases := map[Decision]string{
		DecisionAllow:           "allow",
		DecisionDeny:            "deny",
		DecisionRequireApproval: "require_approval",
	}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Fatalf("Decision(%d).String() = %q, want %q", d, got, want)
		}
	}
}
