// Package monitor periodically re-prices open positions and fires take-profit
// rules through the trade executor.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solana-sniper/internal/domain"
	"solana-sniper/internal/observability"
	"solana-sniper/internal/storage"
)

// Seller executes take-profit sells and spends rules whose sell failed. The
// monitor never writes positions itself; every mutation goes through here.
// Satisfied by executor.Executor.
type Seller interface {
	Sell(ctx context.Context, address string, fraction float64, ruleIndex int, slippageBps int) (*domain.Position, error)
	DisarmRule(ctx context.Context, address string, ruleIndex int) error
}

// PriceSource reports current token prices. Satisfied by oracle.SwapOracle.
type PriceSource interface {
	PriceOf(ctx context.Context, address string) (float64, error)
}

// SettingsSource yields the current trading parameters. The monitor reads a
// snapshot at the top of every cycle; mid-cycle changes wait for the next one.
type SettingsSource interface {
	Snapshot() domain.Settings
}

// Monitor evaluates open positions on a fixed interval. Evaluations for
// different addresses run concurrently; an address whose previous evaluation
// is still in flight is skipped, never queued.
type Monitor struct {
	positions storage.PositionStore
	prices    PriceSource
	seller    Seller
	settings  SettingsSource
	log       zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// New creates a Monitor.
func New(positions storage.PositionStore, prices PriceSource, seller Seller, settings SettingsSource, log zerolog.Logger) *Monitor {
	return &Monitor{
		positions: positions,
		prices:    prices,
		seller:    seller,
		settings:  settings,
		log:       log.With().Str("component", "monitor").Logger(),
		inFlight:  make(map[string]bool),
	}
}

// Run evaluates positions until the context is cancelled. The interval is
// re-read from settings each cycle, so changes apply without restart.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.interval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return ctx.Err()
		case <-timer.C:
		}

		m.EvaluateAll(ctx)
		timer.Reset(m.interval())
	}
}

func (m *Monitor) interval() time.Duration {
	ms := m.settings.Snapshot().MonitorMs
	if ms <= 0 {
		ms = 60_000
	}
	return time.Duration(ms) * time.Millisecond
}

// EvaluateAll runs one evaluation cycle over every open position.
func (m *Monitor) EvaluateAll(ctx context.Context) {
	settings := m.settings.Snapshot()

	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to list open positions")
		return
	}
	observability.SetOpenPositions(len(open))

	for _, pos := range open {
		if !m.acquire(pos.Address) {
			observability.RecordMonitorSkip()
			m.log.Debug().Str("address", pos.Address).Msg("evaluation still in flight, skipping")
			continue
		}

		m.wg.Add(1)
		go func(pos *domain.Position) {
			defer m.wg.Done()
			defer m.release(pos.Address)
			m.evaluate(ctx, pos, settings)
		}(pos)
	}

	observability.RecordMonitorCycle(float64(time.Now().Unix()))
}

// Wait blocks until all in-flight evaluations finish. Used during shutdown.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) acquire(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[address] {
		return false
	}
	m.inFlight[address] = true
	return true
}

func (m *Monitor) release(address string) {
	m.mu.Lock()
	delete(m.inFlight, address)
	m.mu.Unlock()
}

// evaluate re-prices one position and fires every untriggered rule whose
// threshold the current profit clears, in ascending threshold order.
func (m *Monitor) evaluate(ctx context.Context, pos *domain.Position, settings domain.Settings) {
	price, err := m.prices.PriceOf(ctx, pos.Address)
	if err != nil {
		m.log.Warn().Err(err).Str("address", pos.Address).Msg("failed to price position")
		return
	}

	basis := pos.RemainingCostBasis()
	if basis <= 0 {
		return
	}
	profitPct := (pos.RemainingQuantity*price - basis) / basis * 100

	m.log.Debug().
		Str("address", pos.Address).
		Float64("price", price).
		Float64("profit_pct", profitPct).
		Msg("position evaluated")

	for i := 0; i < len(pos.TakeProfitRules); i++ {
		rule := pos.TakeProfitRules[i]
		if pos.RuleTriggered(i) {
			continue
		}
		// Rules are sorted ascending; the first miss ends the scan.
		if profitPct < rule.ProfitThresholdPct {
			return
		}

		updated, err := m.seller.Sell(ctx, pos.Address, rule.SellFraction, i, settings.MaxSlippageBps)
		if err != nil {
			m.log.Error().
				Err(err).
				Str("address", pos.Address).
				Int("rule", i).
				Msg("take-profit sell failed")

			// A rule whose sell failed stays spent unless the operator
			// opted into retries, so one bad token cannot sell-loop.
			if !settings.RetryFailedTP {
				if err := m.seller.DisarmRule(ctx, pos.Address, i); err != nil && !errors.Is(err, storage.ErrNotFound) {
					m.log.Error().Err(err).Str("address", pos.Address).Int("rule", i).Msg("failed to disarm rule")
				}
			}
			return
		}

		observability.RecordRuleTriggered()
		pos = updated
		if pos.Status == domain.PositionClosed {
			return
		}
		// Remaining quantity changed; recompute profit for the next rule.
		basis = pos.RemainingCostBasis()
		if basis <= 0 {
			return
		}
		profitPct = (pos.RemainingQuantity*price - basis) / basis * 100
	}
}
