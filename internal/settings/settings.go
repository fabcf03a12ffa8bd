// Package settings persists the trading parameters as a JSON file and serves
// consistent snapshots to the watcher, executor and monitor.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"solana-sniper/internal/domain"
)

// ErrInvalidSettings means an update was rejected and the previous settings
// remain in effect.
var ErrInvalidSettings = errors.New("invalid settings")

// Defaults returns the out-of-the-box trading parameters: 0.1 SOL per buy,
// sell half at +30%, 1% slippage, 60s monitor interval.
func Defaults() domain.Settings {
	return domain.Settings{
		InvestmentSOL:  0.1,
		MaxSlippageBps: 100,
		TakeProfitRules: []domain.TakeProfitRule{
			{ProfitThresholdPct: 30, SellFraction: 0.5},
		},
		DedupWindowMs: 0, // an address is only ever bought once
		MonitorMs:     60_000,
		RetryFailedTP: false,
	}
}

// Store is a file-backed settings holder. Reads are lock-free copies;
// updates validate, persist, then swap.
type Store struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	current domain.Settings
}

// NewStore loads settings from path, creating the file with defaults when it
// does not exist.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		log:  log.With().Str("component", "settings").Logger(),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var loaded domain.Settings
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", path, err)
		}
		if err := Validate(loaded); err != nil {
			return nil, fmt.Errorf("settings file %s: %w", path, err)
		}
		domain.SortTakeProfitRules(loaded.TakeProfitRules)
		s.current = loaded
	case os.IsNotExist(err):
		s.current = Defaults()
		if err := s.persist(s.current); err != nil {
			return nil, err
		}
		s.log.Info().Str("path", path).Msg("created settings file with defaults")
	default:
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}

	return s, nil
}

// Snapshot returns a copy of the current settings. The rules slice is cloned
// so callers cannot mutate shared state.
func (s *Store) Snapshot() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.current
	snap.TakeProfitRules = append([]domain.TakeProfitRule(nil), s.current.TakeProfitRules...)
	return snap
}

// Update applies fn to a copy of the current settings, validates, persists
// and swaps. On any failure the previous settings remain in effect.
func (s *Store) Update(fn func(*domain.Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	next.TakeProfitRules = append([]domain.TakeProfitRule(nil), s.current.TakeProfitRules...)

	if err := fn(&next); err != nil {
		return err
	}
	if err := Validate(next); err != nil {
		return err
	}
	domain.SortTakeProfitRules(next.TakeProfitRules)

	if err := s.persist(next); err != nil {
		return err
	}
	s.current = next

	s.log.Info().
		Float64("investment_sol", next.InvestmentSOL).
		Int("max_slippage_bps", next.MaxSlippageBps).
		Int("rules", len(next.TakeProfitRules)).
		Msg("settings updated")
	return nil
}

// persist writes settings to a temp file and renames it over the target, so
// a crash mid-write never leaves a truncated file.
func (s *Store) persist(settings domain.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close settings file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

// Validate checks settings invariants.
func Validate(s domain.Settings) error {
	if s.InvestmentSOL <= 0 {
		return fmt.Errorf("%w: investment must be positive, got %f", ErrInvalidSettings, s.InvestmentSOL)
	}
	if s.MaxSlippageBps <= 0 || s.MaxSlippageBps > 10_000 {
		return fmt.Errorf("%w: slippage must be in (0, 10000] bps, got %d", ErrInvalidSettings, s.MaxSlippageBps)
	}
	if s.MonitorMs < 0 {
		return fmt.Errorf("%w: monitor interval must not be negative, got %d", ErrInvalidSettings, s.MonitorMs)
	}
	if s.DedupWindowMs < 0 {
		return fmt.Errorf("%w: dedup window must not be negative, got %d", ErrInvalidSettings, s.DedupWindowMs)
	}
	for i, rule := range s.TakeProfitRules {
		if rule.ProfitThresholdPct <= 0 {
			return fmt.Errorf("%w: rule %d threshold must be positive, got %f", ErrInvalidSettings, i, rule.ProfitThresholdPct)
		}
		if rule.SellFraction <= 0 || rule.SellFraction > 1 {
			return fmt.Errorf("%w: rule %d sell fraction must be in (0, 1], got %f", ErrInvalidSettings, i, rule.SellFraction)
		}
	}
	return nil
}
