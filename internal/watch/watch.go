// Package watch turns raw chat messages into admitted token candidates:
// extract addresses, validate, pass the dedup gate, and queue for execution.
package watch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"solana-sniper/internal/dedupe"
	"solana-sniper/internal/domain"
	"solana-sniper/internal/extract"
	"solana-sniper/internal/feed"
	"solana-sniper/internal/observability"
)

// DefaultBuffer is the default candidate queue capacity.
const DefaultBuffer = 256

// Watcher consumes a message source and emits admitted candidates. The
// candidate queue is bounded; when the consumer falls behind, new admissions
// are dropped and counted rather than blocking the feed.
type Watcher struct {
	source     feed.Source
	gate       *dedupe.Gate
	log        zerolog.Logger
	candidates chan domain.TokenCandidate
}

// New creates a Watcher. A non-positive buffer falls back to DefaultBuffer.
func New(source feed.Source, gate *dedupe.Gate, log zerolog.Logger, buffer int) *Watcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Watcher{
		source:     source,
		gate:       gate,
		log:        log.With().Str("component", "watch").Logger(),
		candidates: make(chan domain.TokenCandidate, buffer),
	}
}

// Candidates returns the admitted candidate queue. Closed when Run returns.
func (w *Watcher) Candidates() <-chan domain.TokenCandidate {
	return w.candidates
}

// Run consumes messages until the context is cancelled or the source closes
// its stream. Always closes the candidate queue on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.candidates)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-w.source.Messages():
			if !ok {
				w.log.Info().Msg("message source closed")
				return nil
			}
			w.handleMessage(msg)
		}
	}
}

// handleMessage extracts every address in the message and admits each one
// through the gate at most once per window.
func (w *Watcher) handleMessage(msg feed.Message) {
	observability.RecordMessageReceived(msg.ChannelID)

	addresses := extract.ExtractAll(msg.Text)
	if len(addresses) == 0 {
		return
	}

	now := time.Now()
	for _, address := range addresses {
		observability.RecordCandidateDetected(msg.ChannelID)

		if !w.gate.Admit(address, now) {
			observability.RecordDuplicateRejected()
			w.log.Debug().
				Str("address", address).
				Str("channel", msg.ChannelID).
				Msg("duplicate sighting rejected")
			continue
		}

		candidate := domain.TokenCandidate{
			Address:       address,
			SourceChannel: msg.ChannelID,
			DetectedAt:    msg.Timestamp,
		}

		select {
		case w.candidates <- candidate:
			observability.RecordCandidateAdmitted(msg.ChannelID)
			w.log.Info().
				Str("address", address).
				Str("channel", msg.ChannelID).
				Msg("candidate admitted")
		default:
			// Queue full. The address stays recorded in the gate, so a
			// dropped candidate is not retried until the window expires.
			observability.RecordCandidateDropped()
			w.log.Warn().
				Str("address", address).
				Str("channel", msg.ChannelID).
				Msg("candidate dropped, queue full")
		}
	}
}
