package switchboard

import (
	"context"

	"github.com/butlerhub/switchboard/common/trace"
)

// traceIDFromContext returns the ambient trace id, minting a fresh one if
// the context carries none so every routing-log entry always has a
// trace_id.
func traceIDFromContext(ctx context.Context) string {
	if id := trace.FromContext(ctx); id != "" {
		return id
	}
	return trace.GenerateID()
}
