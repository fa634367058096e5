package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct{ log *slog.Logger }

func NewLogNotifier(log *slog.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (n *LogNotifier) Notify(ctx context.Context, m Message) error {
	n.log.InfoContext(ctx, "notification", "to", m.To, "subject", m.Subject, "template", m.Template)
	return nil
}
