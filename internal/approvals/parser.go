package approvals

import (
	"fmt"
	"strings"
)

// ErrNotADecision is returned when a message is not an approve/deny command.
var ErrNotADecision = fmt.Errorf("not an approval decision")

// Decision is a parsed approve/deny instruction, channel-agnostic: it
// carries no room or sender identity of its own — the caller attaches
// whatever "resolved by" identity its channel already knows.
type Decision struct {
	Approve bool
	Handle  string
	Reason  string
}

// ParseDecision parses a plain-text message into a Decision. Accepted forms:
//
//	approve <handle>
//	approve <handle> <reason text>
//	deny <handle> reason="<text>"
//	deny <handle> <reason text>
//
// deny requires a reason; approve does not. Generalized from
// internal/ruriko/approvals' Matrix-room parser — same grammar, no
// assumption about which channel the text arrived on.
func ParseDecision(text string) (Decision, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	var isApprove bool
	switch {
	case lower == "approve" || strings.HasPrefix(lower, "approve "):
		isApprove = true
	case lower == "deny" || strings.HasPrefix(lower, "deny "):
		isApprove = false
	default:
		return Decision{}, ErrNotADecision
	}

	verbLen := len("deny")
	if isApprove {
		verbLen = len("approve")
	}
	rest := strings.TrimSpace(text[verbLen:])
	if rest == "" {
		return Decision{}, fmt.Errorf("usage: %s <handle> [reason]", verb(isApprove))
	}

	parts := strings.Fields(rest)
	handle := parts[0]

	var reason string
	if len(parts) > 1 {
		reason = parseReason(strings.Join(parts[1:], " "))
	}
	if !isApprove && strings.TrimSpace(reason) == "" {
		return Decision{}, fmt.Errorf(`deny requires a reason: deny <handle> reason="<text>" or deny <handle> <text>`)
	}

	return Decision{Approve: isApprove, Handle: handle, Reason: reason}, nil
}

func verb(approve bool) string {
	if approve {
		return "approve"
	}
	return "deny"
}

func parseReason(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "reason=") {
		return strings.Trim(s[len("reason="):], `"'`)
	}
	return s
}
