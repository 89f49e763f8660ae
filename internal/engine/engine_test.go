package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/triarb/internal/config"
)

func sampleConfig() config.Config {
	cfg := config.Default()
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.Pairs = []config.PairConfig{
		{Symbol: "tBTCUSD", Base: "BTC", Quote: "USD", AmountStep: "0.0001"},
		{Symbol: "tETHBTC", Base: "ETH", Quote: "BTC", AmountStep: "0.0001"},
		{Symbol: "tETHUSD", Base: "ETH", Quote: "USD", AmountStep: "0.0001"},
	}
	cfg.Currencies = []string{"USD", "BTC", "ETH"}
	cfg.RequiredSymbols = []string{"tBTCUSD", "tETHBTC", "tETHUSD"}
	return cfg
}

func TestBuildCycleConfigAdaptsFields(t *testing.T) {
	cfg := sampleConfig()
	cycleCfg, err := buildCycleConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "USD", cycleCfg.BaseCurrency)
	assert.Equal(t, "1000", cycleCfg.StartAmount.String())
	assert.Len(t, cycleCfg.Pairs, 3)
	assert.NotNil(t, cycleCfg.USDReference)
}

func TestBuildCycleConfigRejectsMalformedAmount(t *testing.T) {
	cfg := sampleConfig()
	cfg.StartAmount = "not-a-number"
	_, err := buildCycleConfig(cfg)
	require.Error(t, err)
}

func TestBuildCycleConfigRejectsMalformedTakerFee(t *testing.T) {
	cfg := sampleConfig()
	cfg.TakerFee = "not-a-number"
	_, err := buildCycleConfig(cfg)
	require.Error(t, err)
}

func TestNewRejectsUnreadableGuardScript(t *testing.T) {
	cfg := sampleConfig()
	cfg.ExtraGuardScriptPath = "/nonexistent/guard.js"
	_, err := New(cfg, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestNewWiresStoresWithoutError(t *testing.T) {
	cfg := sampleConfig()
	e, err := New(cfg, nil, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.NotNil(t, e.Books())
	assert.NotNil(t, e.session)
	assert.NotNil(t, e.loop)
}
