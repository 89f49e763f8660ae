// Package config loads the engine's configuration: a struct of hardcoded
// defaults, optionally overlaid by a YAML file, optionally overlaid again
// by a handful of environment variables, then validated once before the
// engine starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/triarb/internal/cycle"
)

// PairConfig describes one tradable symbol's currency legs and amount
// precision, the source data cycle.PairSpec is built from.
type PairConfig struct {
	Symbol     string `yaml:"symbol"`
	Base       string `yaml:"base"`
	Quote      string `yaml:"quote"`
	AmountStep string `yaml:"amountStep"`
}

// MinOrderSizeConfig pins a per-currency minimum order size, the solver's
// admissibility floor (§4.4).
type MinOrderSizeConfig struct {
	Currency string `yaml:"currency"`
	Amount   string `yaml:"amount"`
}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// PersistenceConfig configures the optional durable book-snapshot sink.
type PersistenceConfig struct {
	PostgresDSN     string        `yaml:"postgresDsn"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// Config is the engine's fully resolved configuration surface: venue
// credentials, currency universe, cycle admissibility thresholds (§6) and
// the secondary constants (symbol universe, min-order-size table, taker
// fee) promoted from magic literals to structured fields, plus the ambient
// telemetry and persistence settings.
type Config struct {
	Environment string `yaml:"environment"`

	VenueURL        string   `yaml:"venueUrl"`
	APIKey          string   `yaml:"apiKey"`
	APISecret       string   `yaml:"apiSecret"`
	RequiredSymbols []string `yaml:"requiredSymbols"`

	BaseCurrency     string    `yaml:"currency"`
	USDQuoteCurrency string    `yaml:"usdQuoteCurrency"`
	Currencies    []string     `yaml:"currencies"`
	Pairs         []PairConfig `yaml:"pairs"`
	StartAmount   string       `yaml:"maxAmount"`
	MinPathLength int          `yaml:"minPathLength"`
	MaxPathLength int          `yaml:"maxPathLength"`
	MinPathProfitUSD string    `yaml:"minPathProfitUsd"`
	TakerFee      string       `yaml:"takerFee"`
	MinOrderSizes []MinOrderSizeConfig `yaml:"minOrderSizes"`

	MinTradingIntervalMs int           `yaml:"minTradingIntervalMs"`
	SolverTimeBudget     time.Duration `yaml:"solverTimeBudget"`
	StepTimeout          time.Duration `yaml:"stepTimeout"`
	ChainTotalTimeout    time.Duration `yaml:"chainTotalTimeout"`
	ReconnectInterval    time.Duration `yaml:"reconnectInterval"`

	ExtraGuardScriptPath string `yaml:"extraGuardScript"`

	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// configYAML shadows Config for unmarshaling: every field is a plain value
// whose zero value means "not set in the file", so loadYAML merges field by
// field instead of overwriting the defaults wholesale. A field explicitly
// set to its zero value in the file is treated as not set and keeps its
// default.
type configYAML struct {
	Environment string `yaml:"environment"`

	VenueURL        string   `yaml:"venueUrl"`
	APIKey          string   `yaml:"apiKey"`
	APISecret       string   `yaml:"apiSecret"`
	RequiredSymbols []string `yaml:"requiredSymbols"`

	BaseCurrency     string               `yaml:"currency"`
	USDQuoteCurrency string               `yaml:"usdQuoteCurrency"`
	Currencies       []string             `yaml:"currencies"`
	Pairs            []PairConfig         `yaml:"pairs"`
	StartAmount      string               `yaml:"maxAmount"`
	MinPathLength    int                  `yaml:"minPathLength"`
	MaxPathLength    int                  `yaml:"maxPathLength"`
	MinPathProfitUSD string               `yaml:"minPathProfitUsd"`
	TakerFee         string               `yaml:"takerFee"`
	MinOrderSizes    []MinOrderSizeConfig `yaml:"minOrderSizes"`

	MinTradingIntervalMs int    `yaml:"minTradingIntervalMs"`
	SolverTimeBudget     string `yaml:"solverTimeBudget"`
	StepTimeout          string `yaml:"stepTimeout"`
	ChainTotalTimeout    string `yaml:"chainTotalTimeout"`
	ReconnectInterval    string `yaml:"reconnectInterval"`

	ExtraGuardScriptPath string `yaml:"extraGuardScript"`

	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Persistence struct {
		PostgresDSN      string `yaml:"postgresDsn"`
		SnapshotInterval string `yaml:"snapshotInterval"`
	} `yaml:"persistence"`
}

// Default returns the hardcoded baseline configuration, the starting point
// of the defaults -> YAML -> env precedence chain.
func Default() Config {
	return Config{
		Environment: "prod",

		VenueURL:        "wss://api-pub.venue.example/ws/2",
		RequiredSymbols: nil,

		BaseCurrency:     "USD",
		USDQuoteCurrency: "USD",
		StartAmount:      "1000",
		MinPathLength:    3,
		MaxPathLength:    4,
		MinPathProfitUSD: "1",
		TakerFee:         "0.002",

		MinTradingIntervalMs: 500,
		SolverTimeBudget:     cycle.DefaultTimeBudget,
		StepTimeout:          10 * time.Second,
		ChainTotalTimeout:    60 * time.Second,
		ReconnectInterval:    2500 * time.Millisecond,

		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "http://localhost:4318",
			ServiceName:   "triarb",
			EnableMetrics: true,
		},
		Persistence: PersistenceConfig{
			SnapshotInterval: 30 * time.Second,
		},
	}
}

// Load resolves a Config following defaults -> YAML -> env precedence, then
// validates the result. path may be empty, in which case TRIARB_CONFIG or
// "config/triarb.yaml" is tried; a missing file is tolerated and the
// defaults (plus any env overrides) are used instead.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.loadYAML(path); err != nil {
		return Config{}, err
	}
	cfg.loadEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = strings.TrimSpace(os.Getenv("TRIARB_CONFIG"))
	}
	if resolved == "" {
		resolved = "config/triarb.yaml"
	}

	data, err := os.ReadFile(resolved) // #nosec G304 -- operator-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", resolved, err)
	}

	var y configYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("config: parse %s: %w", resolved, err)
	}

	if strings.TrimSpace(y.Environment) != "" {
		c.Environment = y.Environment
	}
	if strings.TrimSpace(y.VenueURL) != "" {
		c.VenueURL = y.VenueURL
	}
	if strings.TrimSpace(y.APIKey) != "" {
		c.APIKey = y.APIKey
	}
	if strings.TrimSpace(y.APISecret) != "" {
		c.APISecret = y.APISecret
	}
	if len(y.RequiredSymbols) > 0 {
		c.RequiredSymbols = y.RequiredSymbols
	}
	if strings.TrimSpace(y.BaseCurrency) != "" {
		c.BaseCurrency = y.BaseCurrency
	}
	if strings.TrimSpace(y.USDQuoteCurrency) != "" {
		c.USDQuoteCurrency = y.USDQuoteCurrency
	}
	if len(y.Currencies) > 0 {
		c.Currencies = y.Currencies
	}
	if len(y.Pairs) > 0 {
		c.Pairs = y.Pairs
	}
	if strings.TrimSpace(y.StartAmount) != "" {
		c.StartAmount = y.StartAmount
	}
	if y.MinPathLength != 0 {
		c.MinPathLength = y.MinPathLength
	}
	if y.MaxPathLength != 0 {
		c.MaxPathLength = y.MaxPathLength
	}
	if strings.TrimSpace(y.MinPathProfitUSD) != "" {
		c.MinPathProfitUSD = y.MinPathProfitUSD
	}
	if strings.TrimSpace(y.TakerFee) != "" {
		c.TakerFee = y.TakerFee
	}
	if len(y.MinOrderSizes) > 0 {
		c.MinOrderSizes = y.MinOrderSizes
	}
	if y.MinTradingIntervalMs != 0 {
		c.MinTradingIntervalMs = y.MinTradingIntervalMs
	}
	if dur, err := time.ParseDuration(y.SolverTimeBudget); err == nil {
		c.SolverTimeBudget = dur
	}
	if dur, err := time.ParseDuration(y.StepTimeout); err == nil {
		c.StepTimeout = dur
	}
	if dur, err := time.ParseDuration(y.ChainTotalTimeout); err == nil {
		c.ChainTotalTimeout = dur
	}
	if dur, err := time.ParseDuration(y.ReconnectInterval); err == nil {
		c.ReconnectInterval = dur
	}
	if strings.TrimSpace(y.ExtraGuardScriptPath) != "" {
		c.ExtraGuardScriptPath = y.ExtraGuardScriptPath
	}
	if strings.TrimSpace(y.Telemetry.OTLPEndpoint) != "" {
		c.Telemetry = y.Telemetry
	}
	if strings.TrimSpace(y.Persistence.PostgresDSN) != "" {
		c.Persistence.PostgresDSN = y.Persistence.PostgresDSN
	}
	if dur, err := time.ParseDuration(y.Persistence.SnapshotInterval); err == nil {
		c.Persistence.SnapshotInterval = dur
	}

	return nil
}

// loadEnv applies the small set of environment overrides operators expect
// to set without touching a checked-in YAML file: secrets and OTEL
// endpoints come from the environment, not source control.
func (c *Config) loadEnv() {
	if v := strings.TrimSpace(os.Getenv("TRIARB_API_KEY")); v != "" {
		c.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TRIARB_API_SECRET")); v != "" {
		c.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("TRIARB_VENUE_URL")); v != "" {
		c.VenueURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("TRIARB_POSTGRES_DSN")); v != "" {
		c.Persistence.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("TRIARB_MIN_TRADING_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MinTradingIntervalMs = n
		}
	}
}

// Validate checks the resolved configuration is internally consistent
// before the engine starts (§7: a malformed config is refused, not limped
// through).
func (c *Config) Validate() error {
	if strings.TrimSpace(c.VenueURL) == "" {
		return fmt.Errorf("config: venueUrl is required")
	}
	if strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == "" {
		return fmt.Errorf("config: apiKey and apiSecret are required")
	}
	if strings.TrimSpace(c.BaseCurrency) == "" {
		return fmt.Errorf("config: currency (base currency) is required")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: at least one pair is required")
	}
	if c.MinPathLength < 2 {
		return fmt.Errorf("config: minPathLength must be >= 2")
	}
	if c.MaxPathLength < c.MinPathLength {
		return fmt.Errorf("config: maxPathLength must be >= minPathLength")
	}
	if c.MinTradingIntervalMs <= 0 {
		return fmt.Errorf("config: minTradingIntervalMs must be > 0")
	}
	if c.SolverTimeBudget <= 0 {
		c.SolverTimeBudget = cycle.DefaultTimeBudget
	}
	for _, p := range c.Pairs {
		if strings.TrimSpace(p.Symbol) == "" || strings.TrimSpace(p.Base) == "" || strings.TrimSpace(p.Quote) == "" {
			return fmt.Errorf("config: pair %+v is missing symbol/base/quote", p)
		}
	}
	return nil
}

// PairSpecs adapts the YAML-friendly PairConfig list into cycle.PairSpec,
// the solver's own input shape.
func (c Config) PairSpecs() []cycle.PairSpec {
	specs := make([]cycle.PairSpec, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		specs = append(specs, cycle.PairSpec{Symbol: p.Symbol, Base: p.Base, Quote: p.Quote, AmountStep: p.AmountStep})
	}
	return specs
}

// MinOrderSizeMap adapts the YAML-friendly list into the map cycle.Config
// expects, keyed by currency.
func (c Config) MinOrderSizeMap() map[string]string {
	out := make(map[string]string, len(c.MinOrderSizes))
	for _, m := range c.MinOrderSizes {
		out[m.Currency] = m.Amount
	}
	return out
}
