package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
venueUrl: "wss://example.test/ws/2"
apiKey: "key-from-yaml"
apiSecret: "secret-from-yaml"
currency: "USD"
maxAmount: "500"
minPathLength: 3
maxPathLength: 3
minPathProfitUsd: "2"
takerFee: "0.001"
pairs:
  - symbol: "tBTCUSD"
    base: "BTC"
    quote: "USD"
    amountStep: "0.00001"
minOrderSizes:
  - currency: "BTC"
    amount: "0.0002"
minTradingIntervalMs: 750
solverTimeBudget: "500ms"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "triarb.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesYAMLOverDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VenueURL != "wss://example.test/ws/2" {
		t.Fatalf("expected yaml venueUrl to win, got %q", cfg.VenueURL)
	}
	if cfg.MinTradingIntervalMs != 750 {
		t.Fatalf("expected yaml minTradingIntervalMs to win, got %d", cfg.MinTradingIntervalMs)
	}
	if cfg.SolverTimeBudget.String() != "500ms" {
		t.Fatalf("expected parsed solverTimeBudget, got %s", cfg.SolverTimeBudget)
	}
	if len(cfg.Pairs) != 1 || cfg.Pairs[0].Symbol != "tBTCUSD" {
		t.Fatalf("expected one pair from yaml, got %+v", cfg.Pairs)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err == nil || !strings.Contains(err.Error(), "apiKey and apiSecret are required") {
		t.Fatalf("expected validation error since defaults have no apiKey/apiSecret, got %v", err)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	t.Setenv("TRIARB_API_KEY", "key-from-env")
	t.Setenv("TRIARB_MIN_TRADING_INTERVAL_MS", "1000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "key-from-env" {
		t.Fatalf("expected env apiKey to win, got %q", cfg.APIKey)
	}
	if cfg.MinTradingIntervalMs != 1000 {
		t.Fatalf("expected env minTradingIntervalMs to win, got %d", cfg.MinTradingIntervalMs)
	}
}

func TestValidateRejectsEmptyPairs(t *testing.T) {
	cfg := Default()
	cfg.VenueURL = "wss://x"
	cfg.APIKey = "k"
	cfg.APISecret = "s"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing pairs")
	}
}

func TestValidateRejectsInvertedPathLength(t *testing.T) {
	cfg := Default()
	cfg.VenueURL = "wss://x"
	cfg.APIKey = "k"
	cfg.APISecret = "s"
	cfg.Pairs = []PairConfig{{Symbol: "tBTCUSD", Base: "BTC", Quote: "USD", AmountStep: "0.00001"}}
	cfg.MinPathLength = 5
	cfg.MaxPathLength = 3
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for maxPathLength < minPathLength")
	}
}

func TestPairSpecsAndMinOrderSizeMapAdapt(t *testing.T) {
	cfg := Config{
		Pairs:         []PairConfig{{Symbol: "tBTCUSD", Base: "BTC", Quote: "USD", AmountStep: "0.00001"}},
		MinOrderSizes: []MinOrderSizeConfig{{Currency: "BTC", Amount: "0.0002"}},
	}
	specs := cfg.PairSpecs()
	if len(specs) != 1 || specs[0].Symbol != "tBTCUSD" {
		t.Fatalf("unexpected pair specs: %+v", specs)
	}
	sizes := cfg.MinOrderSizeMap()
	if sizes["BTC"] != "0.0002" {
		t.Fatalf("unexpected min order size map: %+v", sizes)
	}
}
