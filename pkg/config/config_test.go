package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigHasDescendingTiers(t *testing.T) {
	cfg := DefaultConfig()
	tiers := cfg.Tiers.Tiers
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinScore >= tiers[i-1].MinScore {
			t.Fatalf("tiers not strictly descending at index %d: %+v", i, tiers)
		}
	}
}

func TestTierForPicksHighestMatchingBand(t *testing.T) {
	cfg := DefaultConfig()

	tier, ok := cfg.TierFor(85)
	if !ok || tier.MinScore != 80 {
		t.Fatalf("expected tier with min_score 80 for score 85, got %+v ok=%v", tier, ok)
	}

	tier, ok = cfg.TierFor(59)
	if ok {
		t.Fatalf("expected no tier for score below the lowest band, got %+v", tier)
	}

	tier, ok = cfg.TierFor(95)
	if !ok || tier.MinScore != 90 {
		t.Fatalf("expected tier with min_score 90 for score 95, got %+v ok=%v", tier, ok)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := DefaultConfig()
	original.Policy.MinSellRatio = 0.25

	if err := SaveConfig(original, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Policy.MinSellRatio != 0.25 {
		t.Fatalf("expected MinSellRatio 0.25, got %v", loaded.Policy.MinSellRatio)
	}
	if len(loaded.Slippage.ScheduleBps) != len(original.Slippage.ScheduleBps) {
		t.Fatalf("slippage schedule did not round-trip")
	}
}

func TestCredentialEnvOverride(t *testing.T) {
	os.Setenv("RPC_KEYS", "key1, key2 ,key3")
	defer os.Unsetenv("RPC_KEYS")

	cfg := DefaultConfig()
	applyCredentialEnvOverrides(cfg)

	want := []string{"key1", "key2", "key3"}
	if len(cfg.Credentials.RPCKeys) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Credentials.RPCKeys)
	}
	for i := range want {
		if cfg.Credentials.RPCKeys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.Credentials.RPCKeys)
		}
	}
}

func TestLoadConfigWithFallbackTestMode(t *testing.T) {
	os.Setenv("RUN_MODE", "test")
	defer os.Unsetenv("RUN_MODE")

	cfg, err := LoadConfigWithFallback(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.State.DataDir != "./testdata-run" {
		t.Fatalf("expected test config data dir, got %s", cfg.State.DataDir)
	}
}
