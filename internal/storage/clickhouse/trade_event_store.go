package clickhouse

import (
	"context"
	"fmt"

	"solana-sniper/internal/domain"
	"solana-sniper/internal/storage"
)

// TradeEventStore implements storage.TradeEventStore using ClickHouse.
// The trade_events table uses ReplacingMergeTree keyed on
// (address, occurred_at, event_id), so a replayed insert of the same event
// deduplicates at merge time instead of failing.
type TradeEventStore struct {
	conn *Conn
}

// NewTradeEventStore creates a new TradeEventStore.
func NewTradeEventStore(conn *Conn) *TradeEventStore {
	return &TradeEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeEventStore = (*TradeEventStore)(nil)

// Insert appends a trade event.
func (s *TradeEventStore) Insert(ctx context.Context, e *domain.TradeEvent) error {
	if e == nil || e.EventID == "" || e.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trade_events (
			event_id, address, event_type, side, quantity, price,
			amount_sol, rule_index, tx_signature, reason, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var ruleIndex *int32
	if e.RuleIndex != nil {
		idx := int32(*e.RuleIndex)
		ruleIndex = &idx
	}

	err := s.conn.Exec(ctx, query,
		e.EventID,
		e.Address,
		e.EventType,
		string(e.Side),
		e.Quantity,
		e.Price,
		e.AmountSOL,
		ruleIndex,
		e.TxSignature,
		e.Reason,
		e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// GetByAddress retrieves all events for an address ordered by occurred_at ASC.
func (s *TradeEventStore) GetByAddress(ctx context.Context, address string) ([]*domain.TradeEvent, error) {
	query := `
		SELECT event_id, address, event_type, side, quantity, price,
		       amount_sol, rule_index, tx_signature, reason, occurred_at
		FROM trade_events
		WHERE address = $1
		ORDER BY occurred_at ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("query trade events: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeEvent
	for rows.Next() {
		var e domain.TradeEvent
		var side string
		var ruleIndex *int32

		err := rows.Scan(
			&e.EventID,
			&e.Address,
			&e.EventType,
			&side,
			&e.Quantity,
			&e.Price,
			&e.AmountSOL,
			&ruleIndex,
			&e.TxSignature,
			&e.Reason,
			&e.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}

		e.Side = domain.Side(side)
		if ruleIndex != nil {
			idx := int(*ruleIndex)
			e.RuleIndex = &idx
		}
		result = append(result, &e)
	}

	return result, rows.Err()
}
