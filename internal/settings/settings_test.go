package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"solana-sniper/internal/domain"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "settings.json")
}

func TestNewStore_CreatesDefaults(t *testing.T) {
	path := tempPath(t)

	store, err := NewStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	snap := store.Snapshot()
	if snap.InvestmentSOL != 0.1 {
		t.Errorf("InvestmentSOL = %f, want 0.1", snap.InvestmentSOL)
	}
	if snap.MaxSlippageBps != 100 {
		t.Errorf("MaxSlippageBps = %d, want 100", snap.MaxSlippageBps)
	}
	if len(snap.TakeProfitRules) != 1 || snap.TakeProfitRules[0].ProfitThresholdPct != 30 {
		t.Errorf("TakeProfitRules = %+v", snap.TakeProfitRules)
	}

	// The defaults must have been written to disk.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("settings file not created: %v", err)
	}
}

func TestNewStore_LoadsExisting(t *testing.T) {
	path := tempPath(t)
	existing := domain.Settings{
		InvestmentSOL:  0.5,
		MaxSlippageBps: 250,
		TakeProfitRules: []domain.TakeProfitRule{
			{ProfitThresholdPct: 100, SellFraction: 1.0},
			{ProfitThresholdPct: 50, SellFraction: 0.25},
		},
		MonitorMs: 30_000,
	}
	data, _ := json.Marshal(existing)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	snap := store.Snapshot()
	if snap.InvestmentSOL != 0.5 {
		t.Errorf("InvestmentSOL = %f, want 0.5", snap.InvestmentSOL)
	}
	// Rules must come back sorted ascending by threshold.
	if snap.TakeProfitRules[0].ProfitThresholdPct != 50 {
		t.Errorf("rules not sorted: %+v", snap.TakeProfitRules)
	}
}

func TestNewStore_RejectsCorruptFile(t *testing.T) {
	path := tempPath(t)
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(path, zerolog.Nop()); err == nil {
		t.Error("expected error for corrupt settings file")
	}
}

func TestNewStore_RejectsInvalidValues(t *testing.T) {
	path := tempPath(t)
	data, _ := json.Marshal(domain.Settings{InvestmentSOL: -1, MaxSlippageBps: 100})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(path, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid settings values")
	}
}

func TestStore_UpdatePersists(t *testing.T) {
	path := tempPath(t)
	store, err := NewStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	err = store.Update(func(s *domain.Settings) error {
		s.InvestmentSOL = 0.25
		s.RetryFailedTP = true
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A fresh store must see the persisted values.
	reloaded, err := NewStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	snap := reloaded.Snapshot()
	if snap.InvestmentSOL != 0.25 {
		t.Errorf("InvestmentSOL = %f, want 0.25", snap.InvestmentSOL)
	}
	if !snap.RetryFailedTP {
		t.Error("RetryFailedTP must persist")
	}
}

func TestStore_UpdateRejectedKeepsOld(t *testing.T) {
	path := tempPath(t)
	store, _ := NewStore(path, zerolog.Nop())

	err := store.Update(func(s *domain.Settings) error {
		s.MaxSlippageBps = 20_000
		return nil
	})
	if !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("err = %v, want ErrInvalidSettings", err)
	}

	if got := store.Snapshot().MaxSlippageBps; got != 100 {
		t.Errorf("MaxSlippageBps = %d, want unchanged 100", got)
	}
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	store, _ := NewStore(tempPath(t), zerolog.Nop())

	snap := store.Snapshot()
	snap.TakeProfitRules[0].SellFraction = 0.99

	if store.Snapshot().TakeProfitRules[0].SellFraction != 0.5 {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*domain.Settings)
		wantErr bool
	}{
		{"defaults", func(s *domain.Settings) {}, false},
		{"zero investment", func(s *domain.Settings) { s.InvestmentSOL = 0 }, true},
		{"zero slippage", func(s *domain.Settings) { s.MaxSlippageBps = 0 }, true},
		{"slippage over 100%", func(s *domain.Settings) { s.MaxSlippageBps = 10_001 }, true},
		{"negative monitor", func(s *domain.Settings) { s.MonitorMs = -1 }, true},
		{"negative window", func(s *domain.Settings) { s.DedupWindowMs = -1 }, true},
		{"zero threshold rule", func(s *domain.Settings) {
			s.TakeProfitRules = []domain.TakeProfitRule{{ProfitThresholdPct: 0, SellFraction: 0.5}}
		}, true},
		{"fraction over 1", func(s *domain.Settings) {
			s.TakeProfitRules = []domain.TakeProfitRule{{ProfitThresholdPct: 30, SellFraction: 1.5}}
		}, true},
		{"no rules", func(s *domain.Settings) { s.TakeProfitRules = nil }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Defaults()
			tc.mutate(&s)
			err := Validate(s)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
