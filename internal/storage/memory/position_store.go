package memory

import (
	"context"
	"sort"
	"sync"

	"solana-sniper/internal/domain"
	"solana-sniper/internal/storage"
)

// Tolerance for treating a remaining quantity as fully liquidated; float64
// arithmetic on fill quantities never lands exactly on zero.
const qtyEpsilon = 1e-9

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Position // keyed by position_id
	openByAddr map[string]string           // address -> position_id of the OPEN position
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		byID:       make(map[string]*domain.Position),
		openByAddr: make(map[string]string),
	}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Create opens a new position. Returns ErrDuplicateKey if an OPEN position
// already exists for the address.
func (s *PositionStore) Create(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.Address == "" {
		return storage.ErrInvalidInput
	}
	if p.RemainingQuantity < 0 || p.TotalCost < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[p.PositionID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.openByAddr[p.Address]; exists {
		return storage.ErrDuplicateKey
	}

	stored := p.Clone()
	stored.Status = domain.PositionOpen
	s.byID[stored.PositionID] = stored
	s.openByAddr[stored.Address] = stored.PositionID
	return nil
}

// GetOpen retrieves the OPEN position for an address.
func (s *PositionStore) GetOpen(_ context.Context, address string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openByAddr[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// ListOpen retrieves all OPEN positions ordered by opened_at ASC.
func (s *PositionStore) ListOpen(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, id := range s.openByAddr {
		result = append(result, s.byID[id].Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OpenedAt != result[j].OpenedAt {
			return result[i].OpenedAt < result[j].OpenedAt
		}
		return result[i].PositionID < result[j].PositionID
	})

	return result, nil
}

// ApplySell atomically reduces the OPEN position for address.
func (s *PositionStore) ApplySell(_ context.Context, address string, quantity, proceeds float64, ruleIndex int, closedAt int64) (*domain.Position, error) {
	if quantity <= 0 || proceeds < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.openByAddr[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p := s.byID[id]

	if quantity > p.RemainingQuantity+qtyEpsilon {
		return nil, storage.ErrInvalidInput
	}

	p.RemainingQuantity -= quantity
	if p.RemainingQuantity < qtyEpsilon {
		p.RemainingQuantity = 0
	}
	p.RealizedProceeds += proceeds
	if ruleIndex >= 0 {
		p.MarkRuleTriggered(ruleIndex)
	}

	if p.RemainingQuantity == 0 {
		p.Status = domain.PositionClosed
		p.ClosedAt = &closedAt
		delete(s.openByAddr, address)
	}

	return p.Clone(), nil
}

// MarkRuleTriggered records a fired rule without a fill.
func (s *PositionStore) MarkRuleTriggered(_ context.Context, address string, ruleIndex int) error {
	if ruleIndex < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.openByAddr[address]
	if !ok {
		return storage.ErrNotFound
	}
	s.byID[id].MarkRuleTriggered(ruleIndex)
	return nil
}

// ForceClose marks the OPEN position for address CLOSED.
func (s *PositionStore) ForceClose(_ context.Context, address string, closedAt int64) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.openByAddr[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p := s.byID[id]
	p.Status = domain.PositionClosed
	p.ClosedAt = &closedAt
	delete(s.openByAddr, address)

	return p.Clone(), nil
}

// ListAddresses returns every address that ever had a position.
func (s *PositionStore) ListAddresses(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	for _, p := range s.byID {
		if !seen[p.Address] {
			seen[p.Address] = true
			result = append(result, p.Address)
		}
	}
	sort.Strings(result)
	return result, nil
}
