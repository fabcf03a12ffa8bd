package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-sniper/internal/domain"
	"solana-sniper/internal/storage"
)

// Tolerance for treating a remaining quantity as fully liquidated.
const qtyEpsilon = 1e-9

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, address, opened_at, closed_at, entry_price, total_cost,
	initial_quantity, remaining_quantity, realized_proceeds,
	take_profit_rules, triggered_rules, status, source_channel, entry_tx_signature
`

// Create opens a new position. The partial unique index on (address) WHERE
// status = 'OPEN' turns a concurrent double-open into ErrDuplicateKey.
func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.Address == "" {
		return storage.ErrInvalidInput
	}
	if p.RemainingQuantity < 0 || p.TotalCost < 0 {
		return storage.ErrInvalidInput
	}

	rules, err := json.Marshal(p.TakeProfitRules)
	if err != nil {
		return fmt.Errorf("marshal take profit rules: %w", err)
	}
	triggered, err := json.Marshal(p.TriggeredRules)
	if err != nil {
		return fmt.Errorf("marshal triggered rules: %w", err)
	}

	query := `
		INSERT INTO positions (
			position_id, address, opened_at, closed_at, entry_price, total_cost,
			initial_quantity, remaining_quantity, realized_proceeds,
			take_profit_rules, triggered_rules, status, source_channel, entry_tx_signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = s.pool.Exec(ctx, query,
		p.PositionID,
		p.Address,
		p.OpenedAt,
		p.ClosedAt,
		p.EntryPrice,
		p.TotalCost,
		p.InitialQuantity,
		p.RemainingQuantity,
		p.RealizedProceeds,
		rules,
		triggered,
		string(domain.PositionOpen),
		p.SourceChannel,
		p.EntryTxSignature,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// GetOpen retrieves the OPEN position for an address.
func (s *PositionStore) GetOpen(ctx context.Context, address string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE address = $1 AND status = 'OPEN'`

	row := s.pool.QueryRow(ctx, query, address)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get open position: %w", err)
	}
	return p, nil
}

// ListOpen retrieves all OPEN positions ordered by opened_at ASC.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = 'OPEN' ORDER BY opened_at ASC, position_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ApplySell atomically reduces the OPEN position for address. The row is
// locked FOR UPDATE so concurrent sells for the same address serialize at
// the database even if the executor's per-address lock is bypassed.
func (s *PositionStore) ApplySell(ctx context.Context, address string, quantity, proceeds float64, ruleIndex int, closedAt int64) (*domain.Position, error) {
	if quantity <= 0 || proceeds < 0 {
		return nil, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + positionColumns + ` FROM positions WHERE address = $1 AND status = 'OPEN' FOR UPDATE`
	p, err := scanPosition(tx.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock open position: %w", err)
	}

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
	}

	if err := updatePosition(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit sell: %w", err)
	}
	return p, nil
}

// MarkRuleTriggered records a fired rule without a fill.
func (s *PositionStore) MarkRuleTriggered(ctx context.Context, address string, ruleIndex int) error {
	if ruleIndex < 0 {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + positionColumns + ` FROM positions WHERE address = $1 AND status = 'OPEN' FOR UPDATE`
	p, err := scanPosition(tx.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock open position: %w", err)
	}

	p.MarkRuleTriggered(ruleIndex)

	if err := updatePosition(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ForceClose marks the OPEN position for address CLOSED.
func (s *PositionStore) ForceClose(ctx context.Context, address string, closedAt int64) (*domain.Position, error) {
	query := `
		UPDATE positions
		SET status = 'CLOSED', closed_at = $2
		WHERE address = $1 AND status = 'OPEN'
		RETURNING ` + positionColumns

	p, err := scanPosition(s.pool.QueryRow(ctx, query, address, closedAt))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("force close position: %w", err)
	}
	return p, nil
}

// ListAddresses returns every address that ever had a position.
func (s *PositionStore) ListAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT address FROM positions ORDER BY address ASC`)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		result = append(result, addr)
	}
	return result, rows.Err()
}

// updatePosition writes all mutable columns of an open-position row.
func updatePosition(ctx context.Context, tx pgx.Tx, p *domain.Position) error {
	triggered, err := json.Marshal(p.TriggeredRules)
	if err != nil {
		return fmt.Errorf("marshal triggered rules: %w", err)
	}

	query := `
		UPDATE positions
		SET remaining_quantity = $2,
		    realized_proceeds = $3,
		    triggered_rules = $4,
		    status = $5,
		    closed_at = $6
		WHERE position_id = $1
	`
	_, err = tx.Exec(ctx, query,
		p.PositionID,
		p.RemainingQuantity,
		p.RealizedProceeds,
		triggered,
		string(p.Status),
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return nil
}

// scanPosition scans a single position row.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var rules, triggered []byte
	var status string

	err := row.Scan(
		&p.PositionID,
		&p.Address,
		&p.OpenedAt,
		&p.ClosedAt,
		&p.EntryPrice,
		&p.TotalCost,
		&p.InitialQuantity,
		&p.RemainingQuantity,
		&p.RealizedProceeds,
		&rules,
		&triggered,
		&status,
		&p.SourceChannel,
		&p.EntryTxSignature,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rules, &p.TakeProfitRules); err != nil {
		return nil, fmt.Errorf("unmarshal take profit rules: %w", err)
	}
	if err := json.Unmarshal(triggered, &p.TriggeredRules); err != nil {
		return nil, fmt.Errorf("unmarshal triggered rules: %w", err)
	}
	p.Status = domain.PositionStatus(status)

	return &p, nil
}

// scanPositions scans multiple position rows.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
