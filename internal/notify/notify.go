// Package notify delivers trade alerts to the operator.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier delivers a human-readable alert. Implementations must not block
// trading: failures are logged by callers, never propagated into execution.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// LogNotifier writes alerts to the structured log. It is the default sink
// when no Telegram credentials are configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.log.Info().Str("alert", text).Msg("trade notification")
	return nil
}

// Multi fans an alert out to several sinks, returning the first error after
// attempting all of them.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, text string) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
