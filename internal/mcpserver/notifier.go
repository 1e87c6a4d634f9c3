package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
)

// LogNotifier is the stand-in Notifier wired into every butler: it logs the
// delivery attempt and always succeeds. Real channel delivery (telegram,
// gmail, imap, ...) is an external collaborator spec.md §1 places out of
// scope for this specification; LogNotifier exercises the notify() tool's
// contract (record the attempt, return a status) without a live channel
// behind it, the same role FileSource plays for ingestion.
type LogNotifier struct{}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// Notify logs the outbound message and always reports success.
func (n *LogNotifier) Notify(ctx context.Context, butler, channel, message, intent string, requestContext json.RawMessage) error {
	slog.Info("notify: delivery (logged, no channel backend)", "butler", butler, "channel", channel, "intent", intent)
	return nil
}
