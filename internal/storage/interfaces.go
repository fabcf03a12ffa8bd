package storage

import (
	"context"

	"solana-sniper/internal/domain"
)

// PositionStore owns all position lifecycle state. The trade executor is the
// only writer; the monitor and command surface read through the same
// interface. Positions are never deleted, only marked CLOSED.
type PositionStore interface {
	// Create opens a new position. Returns ErrDuplicateKey if an OPEN
	// position already exists for the address.
	Create(ctx context.Context, p *domain.Position) error

	// GetOpen retrieves the OPEN position for an address.
	// Returns ErrNotFound if none exists.
	GetOpen(ctx context.Context, address string) (*domain.Position, error)

	// ListOpen retrieves all OPEN positions ordered by opened_at ASC.
	ListOpen(ctx context.Context) ([]*domain.Position, error)

	// ApplySell atomically reduces the OPEN position for address by
	// quantity, adds proceeds to realized proceeds, and marks ruleIndex
	// triggered when ruleIndex >= 0. When remaining quantity reaches zero
	// the position is marked CLOSED with closedAt. Returns the updated
	// position. Returns ErrNotFound when no OPEN position exists,
	// ErrInvalidInput when quantity is non-positive or exceeds remaining.
	ApplySell(ctx context.Context, address string, quantity, proceeds float64, ruleIndex int, closedAt int64) (*domain.Position, error)

	// MarkRuleTriggered records that a take-profit rule fired without a
	// fill, so the monitor does not retrigger a persistently failing sell.
	// Returns ErrNotFound when no OPEN position exists for the address.
	MarkRuleTriggered(ctx context.Context, address string, ruleIndex int) error

	// ForceClose marks the OPEN position for address CLOSED regardless of
	// remaining quantity. Returns the closed position.
	ForceClose(ctx context.Context, address string, closedAt int64) (*domain.Position, error)

	// ListAddresses returns every address that ever had a position,
	// open or closed. Used to seed the dedup gate across restarts.
	ListAddresses(ctx context.Context) ([]string, error)
}

// TradeEventStore is the append-only audit log of position lifecycle
// activity.
type TradeEventStore interface {
	// Insert appends a trade event. Returns ErrDuplicateKey if event_id
	// already exists.
	Insert(ctx context.Context, e *domain.TradeEvent) error

	// GetByAddress retrieves all events for a token address ordered by
	// occurred_at ASC.
	GetByAddress(ctx context.Context, address string) ([]*domain.TradeEvent, error)
}
