package memory

import (
	"context"
	"sort"
	"sync"

	"solana-sniper/internal/domain"
	"solana-sniper/internal/storage"
)

// TradeEventStore is an in-memory implementation of storage.TradeEventStore.
type TradeEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeEvent // keyed by event_id
}

// NewTradeEventStore creates a new in-memory trade event store.
func NewTradeEventStore() *TradeEventStore {
	return &TradeEventStore{
		data: make(map[string]*domain.TradeEvent),
	}
}

// Compile-time interface check.
var _ storage.TradeEventStore = (*TradeEventStore)(nil)

// Insert appends a trade event. Returns ErrDuplicateKey if event_id exists.
func (s *TradeEventStore) Insert(_ context.Context, e *domain.TradeEvent) error {
	if e == nil || e.EventID == "" || e.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	eventCopy := *e
	if e.RuleIndex != nil {
		idx := *e.RuleIndex
		eventCopy.RuleIndex = &idx
	}
	s.data[e.EventID] = &eventCopy
	return nil
}

// GetByAddress retrieves all events for an address ordered by occurred_at ASC.
func (s *TradeEventStore) GetByAddress(_ context.Context, address string) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, e := range s.data {
		if e.Address == address {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt != result[j].OccurredAt {
			return result[i].OccurredAt < result[j].OccurredAt
		}
		return result[i].EventID < result[j].EventID
	})

	return result, nil
}
