// Package executor turns admitted candidates and take-profit triggers into
// on-chain swaps, and owns every position mutation that results.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solana-sniper/internal/domain"
	"solana-sniper/internal/notify"
	"solana-sniper/internal/observability"
	"solana-sniper/internal/oracle"
	"solana-sniper/internal/storage"
)

// Default retry configuration.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// Executor executes buys and sells through the swap oracle. All operations
// for the same address are serialized; operations for different addresses
// run concurrently.
type Executor struct {
	oracle    oracle.SwapOracle
	positions storage.PositionStore
	events    storage.TradeEventStore
	notifier  notify.Notifier
	log       zerolog.Logger

	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures the Executor.
type Option func(*Executor)

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		e.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.retryDelay = d
	}
}

// WithNotifier sets the alert sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Executor) {
		e.notifier = n
	}
}

// New creates an Executor.
func New(swap oracle.SwapOracle, positions storage.PositionStore, events storage.TradeEventStore, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		oracle:     swap,
		positions:  positions,
		events:     events,
		log:        log.With().Str("component", "executor").Logger(),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// addressLock returns the mutex serializing operations for an address.
func (e *Executor) addressLock(address string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[address] = lock
	}
	return lock
}

// Buy opens a position for an admitted candidate, spending
// settings.InvestmentSOL. Exactly one of these outcomes holds on return: a
// position was created and an entry event recorded, or nothing was mutated.
func (e *Executor) Buy(ctx context.Context, candidate domain.TokenCandidate, settings domain.Settings) (*domain.Position, error) {
	if candidate.Address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrValidation)
	}
	if settings.InvestmentSOL <= 0 {
		return nil, fmt.Errorf("%w: investment must be positive, got %f", ErrValidation, settings.InvestmentSOL)
	}
	if settings.MaxSlippageBps <= 0 {
		return nil, fmt.Errorf("%w: slippage bound must be positive, got %d", ErrValidation, settings.MaxSlippageBps)
	}

	lock := e.addressLock(candidate.Address)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.positions.GetOpen(ctx, candidate.Address); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, candidate.Address)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check open position: %w", err)
	}

	fill, err := e.executeSwap(ctx, candidate.Address, settings.InvestmentSOL, domain.SideBuy, settings.MaxSlippageBps)
	if err != nil {
		e.recordFailure(ctx, candidate.Address, domain.SideBuy, nil, err)
		return nil, err
	}

	rules := append([]domain.TakeProfitRule(nil), settings.TakeProfitRules...)
	domain.SortTakeProfitRules(rules)

	now := time.Now().UnixMilli()
	pos := &domain.Position{
		PositionID:        uuid.NewString(),
		Address:           candidate.Address,
		OpenedAt:          now,
		EntryPrice:        fill.Price,
		TotalCost:         fill.AmountSOL,
		InitialQuantity:   fill.Quantity,
		RemainingQuantity: fill.Quantity,
		TakeProfitRules:   rules,
		Status:            domain.PositionOpen,
		SourceChannel:     candidate.SourceChannel,
		EntryTxSignature:  fill.TxSignature,
	}
	if err := e.positions.Create(ctx, pos); err != nil {
		return nil, fmt.Errorf("create position after fill %s: %w", fill.TxSignature, err)
	}

	e.recordEvent(ctx, &domain.TradeEvent{
		EventID:     uuid.NewString(),
		Address:     candidate.Address,
		EventType:   domain.TradeEventPositionOpened,
		Side:        domain.SideBuy,
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		AmountSOL:   fill.AmountSOL,
		TxSignature: fill.TxSignature,
		OccurredAt:  now,
	})

	e.log.Info().
		Str("address", candidate.Address).
		Str("channel", candidate.SourceChannel).
		Float64("sol", fill.AmountSOL).
		Float64("quantity", fill.Quantity).
		Str("tx", fill.TxSignature).
		Msg("position opened")
	e.alert(ctx, fmt.Sprintf("BUY %s: spent %.4f SOL for %.4f tokens (tx %s)",
		candidate.Address, fill.AmountSOL, fill.Quantity, fill.TxSignature))

	return pos, nil
}

// Sell liquidates a fraction of the remaining quantity of the OPEN position
// for address. ruleIndex >= 0 attributes the sell to a take-profit rule and
// marks it triggered atomically with the quantity reduction; pass -1 for
// manual sells. A fraction of 1 closes the position.
func (e *Executor) Sell(ctx context.Context, address string, fraction float64, ruleIndex int, slippageBps int) (*domain.Position, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrValidation)
	}
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("%w: sell fraction must be in (0, 1], got %f", ErrValidation, fraction)
	}
	if slippageBps <= 0 {
		return nil, fmt.Errorf("%w: slippage bound must be positive, got %d", ErrValidation, slippageBps)
	}

	lock := e.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.positions.GetOpen(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get open position: %w", err)
	}
	quantity := pos.RemainingQuantity * fraction

	fill, err := e.executeSwap(ctx, address, quantity, domain.SideSell, slippageBps)
	if err != nil {
		e.recordFailure(ctx, address, domain.SideSell, ruleIndexPtr(ruleIndex), err)
		return nil, err
	}

	now := time.Now().UnixMilli()
	updated, err := e.positions.ApplySell(ctx, address, quantity, fill.AmountSOL, ruleIndex, now)
	if err != nil {
		// The swap is already confirmed on chain at this point, so a store
		// failure leaves the position overstating its holdings until the
		// operator reconciles it against the tx signature in this error.
		// Later sells of the stale quantity fail at the oracle with
		// ErrInsufficientBalance rather than corrupting the position.
		return nil, fmt.Errorf("apply sell after fill %s: %w", fill.TxSignature, err)
	}

	eventType := domain.TradeEventPartialSell
	if updated.Status == domain.PositionClosed {
		eventType = domain.TradeEventPositionClosed
	}
	e.recordEvent(ctx, &domain.TradeEvent{
		EventID:     uuid.NewString(),
		Address:     address,
		EventType:   eventType,
		Side:        domain.SideSell,
		Quantity:    quantity,
		Price:       fill.Price,
		AmountSOL:   fill.AmountSOL,
		RuleIndex:   ruleIndexPtr(ruleIndex),
		TxSignature: fill.TxSignature,
		OccurredAt:  now,
	})

	e.log.Info().
		Str("address", address).
		Float64("quantity", quantity).
		Float64("proceeds", fill.AmountSOL).
		Int("rule", ruleIndex).
		Str("status", string(updated.Status)).
		Str("tx", fill.TxSignature).
		Msg("sell executed")
	e.alert(ctx, fmt.Sprintf("SELL %s: %.4f tokens for %.4f SOL, position %s (tx %s)",
		address, quantity, fill.AmountSOL, updated.Status, fill.TxSignature))

	return updated, nil
}

// DisarmRule marks a take-profit rule as spent without selling, so a rule
// whose sell failed is not re-fired every monitor cycle. All position writes
// go through the executor's per-address lock, including this one.
func (e *Executor) DisarmRule(ctx context.Context, address string, ruleIndex int) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrValidation)
	}
	if ruleIndex < 0 {
		return fmt.Errorf("%w: rule index must not be negative, got %d", ErrValidation, ruleIndex)
	}

	lock := e.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	if err := e.positions.MarkRuleTriggered(ctx, address, ruleIndex); err != nil {
		return fmt.Errorf("mark rule triggered: %w", err)
	}

	e.log.Info().Str("address", address).Int("rule", ruleIndex).Msg("rule disarmed")
	return nil
}

// executeSwap quotes and submits a swap, retrying transient failures with
// exponential backoff. Each attempt re-quotes so a stale route is never
// resubmitted. Every attempt is a fresh order with its own ID.
func (e *Executor) executeSwap(ctx context.Context, address string, amount float64, side domain.Side, slippageBps int) (*oracle.Fill, error) {
	start := time.Now()
	delay := e.retryDelay
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			observability.RecordTradeRetry()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * 2)
			if delay > e.maxDelay {
				delay = e.maxDelay
			}
		}

		order := domain.TradeOrder{
			OrderID:         uuid.NewString(),
			Address:         address,
			Side:            side,
			RequestedAmount: amount,
			MaxSlippageBps:  slippageBps,
			CreatedAt:       time.Now().UnixMilli(),
		}
		e.log.Debug().
			Str("order_id", order.OrderID).
			Str("address", address).
			Str("side", string(side)).
			Float64("amount", amount).
			Int("attempt", attempt).
			Msg("executing swap")

		route, err := e.oracle.Quote(ctx, order.Address, order.RequestedAmount, order.Side, order.MaxSlippageBps)
		if err != nil {
			if !oracle.IsRetryable(err) {
				observability.RecordTradeExecuted(string(side), "failed", time.Since(start).Seconds())
				return nil, err
			}
			lastErr = err
			continue
		}

		fill, err := e.oracle.Submit(ctx, route)
		if err != nil {
			if !oracle.IsRetryable(err) {
				observability.RecordTradeExecuted(string(side), "failed", time.Since(start).Seconds())
				return nil, err
			}
			lastErr = err
			continue
		}

		observability.RecordTradeExecuted(string(side), "success", time.Since(start).Seconds())
		return fill, nil
	}

	observability.RecordTradeExecuted(string(side), "failed", time.Since(start).Seconds())
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// recordFailure appends a TRADE_FAILED audit event and alerts the operator.
func (e *Executor) recordFailure(ctx context.Context, address string, side domain.Side, ruleIndex *int, cause error) {
	e.recordEvent(ctx, &domain.TradeEvent{
		EventID:    uuid.NewString(),
		Address:    address,
		EventType:  domain.TradeEventTradeFailed,
		Side:       side,
		RuleIndex:  ruleIndex,
		Reason:     cause.Error(),
		OccurredAt: time.Now().UnixMilli(),
	})
	e.log.Error().
		Str("address", address).
		Str("side", string(side)).
		Err(cause).
		Msg("trade failed")
	e.alert(ctx, fmt.Sprintf("FAILED %s %s: %v", side, address, cause))
}

// recordEvent appends to the audit log. Audit failures are logged, never
// propagated: the chain is the source of truth once a fill exists.
func (e *Executor) recordEvent(ctx context.Context, event *domain.TradeEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Insert(ctx, event); err != nil {
		e.log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to record trade event")
	}
}

func (e *Executor) alert(ctx context.Context, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, text); err != nil {
		e.log.Warn().Err(err).Msg("failed to deliver notification")
	}
}

func ruleIndexPtr(i int) *int {
	if i < 0 {
		return nil
	}
	return &i
}
