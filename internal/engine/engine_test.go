package engine

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"polymarket-updown/internal/config"
)

func TestBankrollSeedDefaultsWhenUnset(t *testing.T) {
	t.Parallel()
	if got := bankrollSeed(config.Config{}); got != 100.0 {
		t.Errorf("bankrollSeed = %v, want 100.0", got)
	}
}

func TestBankrollSeedUsesConfiguredValue(t *testing.T) {
	t.Parallel()
	cfg := config.Config{Strategy: config.StrategyConfig{SeedUSD: 250}}
	if got := bankrollSeed(cfg); got != 250 {
		t.Errorf("bankrollSeed = %v, want 250", got)
	}
}

func TestPrimaryAssetReturnsFirstConfigured(t *testing.T) {
	t.Parallel()
	cfg := config.Config{Discovery: config.DiscoveryConfig{Assets: []string{"btc", "eth"}}}
	if got := primaryAsset(cfg); got != "btc" {
		t.Errorf("primaryAsset = %q, want btc", got)
	}
}

func TestPrimaryAssetEmptyWhenNoneConfigured(t *testing.T) {
	t.Parallel()
	if got := primaryAsset(config.Config{}); got != "" {
		t.Errorf("primaryAsset = %q, want empty", got)
	}
}

// TestNewWiresDryRunEngine exercises New end to end in dry-run mode, where
// no network calls (API key derivation, RPC dial) are made.
func TestNewWiresDryRunEngine(t *testing.T) {
	t.Setenv("POLYMARKET_PRIVATE_KEY", "1111111111111111111111111111111111111111111111111111111111111111")
	dir := t.TempDir()

	cfg := config.Config{
		DryRun: true,
		Strategy: config.StrategyConfig{
			SeedUSD:          100,
			MaxPositionPct:   0.02,
			MaxDailyLossPct:  0.1,
			MaxOpenPositions: 5,
			StalePriceSecs:   10,
		},
		Discovery: config.DiscoveryConfig{
			Assets:             []string{"btc"},
			WindowDurationSecs: 300,
			GammaURL:           "https://gamma.example.invalid",
		},
		Store: config.StoreConfig{
			DataDir: dir,
			DBPath:  filepath.Join(dir, "positions.db"),
		},
		API: config.APIConfig{
			CLOBBaseURL: "https://clob.example.invalid",
			WSBaseURL:   "wss://ws.example.invalid",
		},
		Wallet: config.WalletConfig{ChainID: 137},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.store.Close()

	if e.redeemer != nil {
		t.Error("expected no redeemer to be built in dry-run mode")
	}
	if len(e.lifecycles) != 1 {
		t.Fatalf("expected one lifecycle per configured asset, got %d", len(e.lifecycles))
	}
	if _, ok := e.lifecycles["btc"]; !ok {
		t.Error("expected a btc lifecycle to be registered")
	}

	status := e.Status()
	if status.Seed != 100 {
		t.Errorf("Status().Seed = %v, want 100", status.Seed)
	}
}
