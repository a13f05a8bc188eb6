package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	RPC        RPCConfig        `yaml:"rpc" mapstructure:"rpc"`
	Etherscan  EtherscanConfig  `yaml:"etherscan" mapstructure:"etherscan"`
	FourByte   FourByteConfig   `yaml:"fourbyte" mapstructure:"fourbyte"`
	Simulator  SimulatorConfig  `yaml:"simulator" mapstructure:"simulator"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts" mapstructure:"timeouts"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RequestTimeoutS int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RPCConfig maps chain IDs to JSON-RPC endpoints.
type RPCConfig struct {
	DefaultChainID int64             `yaml:"default_chain_id" mapstructure:"default_chain_id"`
	Endpoints      map[string]string `yaml:"endpoints" mapstructure:"endpoints"`
}

// ChainEndpoints returns the endpoints keyed by numeric chain ID.
func (c RPCConfig) ChainEndpoints() (map[int64]string, error) {
	out := make(map[int64]string, len(c.Endpoints))
	for k, url := range c.Endpoints {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil || id <= 0 {
			return nil, eris.Errorf("config: rpc.endpoints key %q is not a chain id", k)
		}
		out[id] = url
	}
	return out, nil
}

// EtherscanConfig holds block explorer API settings.
type EtherscanConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// FourByteConfig holds signature database settings.
type FourByteConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// SimulatorConfig holds simulation service settings. An empty URL disables
// simulation.
type SimulatorConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
	Key string `yaml:"key" mapstructure:"key"`
}

// AnthropicConfig holds Anthropic API settings for explanations.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxTokens  int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheTTL   string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// RegistryConfig lists protocol registry files loaded on top of the
// embedded default.
type RegistryConfig struct {
	Paths []string `yaml:"paths" mapstructure:"paths"`
}

// SourcesConfig sets the ABI resolution order.
type SourcesConfig struct {
	Order []string `yaml:"order" mapstructure:"order"`
}

// TimeoutsConfig bounds individual external calls, in milliseconds.
type TimeoutsConfig struct {
	FetchMs    int `yaml:"fetch_ms" mapstructure:"fetch_ms"`
	ResolveMs  int `yaml:"resolve_ms" mapstructure:"resolve_ms"`
	SimulateMs int `yaml:"simulate_ms" mapstructure:"simulate_ms"`
	ExplainMs  int `yaml:"explain_ms" mapstructure:"explain_ms"`
}

// Fetch returns the node call timeout.
func (t TimeoutsConfig) Fetch() time.Duration { return ms(t.FetchMs) }

// Resolve returns the per-resolver timeout.
func (t TimeoutsConfig) Resolve() time.Duration { return ms(t.ResolveMs) }

// Simulate returns the simulation call timeout.
func (t TimeoutsConfig) Simulate() time.Duration { return ms(t.SimulateMs) }

// Explain returns the explanation call timeout.
func (t TimeoutsConfig) Explain() time.Duration { return ms(t.ExplainMs) }

func ms(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}

// ResilienceConfig configures retry and circuit breaking for external APIs.
type ResilienceConfig struct {
	Retry   RetrySettings   `yaml:"retry" mapstructure:"retry"`
	Circuit CircuitSettings `yaml:"circuit" mapstructure:"circuit"`
}

// RetrySettings configures exponential backoff.
type RetrySettings struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitSettings configures per-service circuit breakers.
type CircuitSettings struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures the batch command.
type BatchConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	ItemTimeoutS  int    `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
	DLQMaxRetries int    `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// MonitoringConfig configures the stats collector and webhook alerts.
type MonitoringConfig struct {
	Enabled                 bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	PartialRateThreshold    float64 `yaml:"partial_rate_threshold" mapstructure:"partial_rate_threshold"`
	UnresolvedRateThreshold float64 `yaml:"unresolved_rate_threshold" mapstructure:"unresolved_rate_threshold"`
	CostThresholdUSD        float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	MinAnalyses             int     `yaml:"min_analyses" mapstructure:"min_analyses"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TXLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "txlens.db")
	v.SetDefault("rpc.default_chain_id", 1)
	// Empty defaults register the keys so TXLENS_* env vars reach Unmarshal.
	v.SetDefault("etherscan.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("simulator.url", "")
	v.SetDefault("simulator.key", "")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
	v.SetDefault("etherscan.base_url", "https://api.etherscan.io/v2/api")
	v.SetDefault("etherscan.rate_limit", 4.0)
	v.SetDefault("etherscan.burst", 1)
	v.SetDefault("etherscan.cache_ttl_hours", 24*7)
	v.SetDefault("fourbyte.base_url", "https://www.4byte.directory")
	v.SetDefault("fourbyte.rate_limit", 2.0)
	v.SetDefault("fourbyte.burst", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("sources.order", []string{"user", "registry", "explorer", "fourbyte"})
	v.SetDefault("timeouts.fetch_ms", 10000)
	v.SetDefault("timeouts.resolve_ms", 8000)
	v.SetDefault("timeouts.simulate_ms", 15000)
	v.SetDefault("timeouts.explain_ms", 30000)
	v.SetDefault("resilience.retry.max_attempts", 3)
	v.SetDefault("resilience.retry.initial_backoff_ms", 500)
	v.SetDefault("resilience.retry.max_backoff_ms", 5000)
	v.SetDefault("resilience.retry.multiplier", 2.0)
	v.SetDefault("resilience.retry.jitter_fraction", 0.25)
	v.SetDefault("resilience.circuit.failure_threshold", 5)
	v.SetDefault("resilience.circuit.reset_timeout_secs", 30)
	v.SetDefault("batch.max_concurrent", 8)
	v.SetDefault("batch.item_timeout_secs", 120)
	v.SetDefault("batch.dlq_max_retries", 3)
	v.SetDefault("monitoring.partial_rate_threshold", 0.5)
	v.SetDefault("monitoring.unresolved_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_analyses", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
}

var knownSources = []string{"user", "registry", "explorer", "fourbyte"}

// Validate checks the settings a command mode depends on. Modes are
// "analyze", "batch" and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "analyze", "batch", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
	if _, err := c.RPC.ChainEndpoints(); err != nil {
		add("%s", strings.TrimPrefix(err.Error(), "config: "))
	}
	if c.RPC.DefaultChainID <= 0 {
		add("rpc.default_chain_id must be > 0")
	}
	for _, s := range c.Sources.Order {
		if !slices.Contains(knownSources, s) {
			add("sources.order: unknown source %q", s)
		}
	}

	if mode == "batch" && (c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 50) {
		add("batch.max_concurrent must be between 1 and 50")
	}
	if mode == "serve" {
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		for name, v := range map[string]float64{
			"partial_rate_threshold":    c.Monitoring.PartialRateThreshold,
			"unresolved_rate_threshold": c.Monitoring.UnresolvedRateThreshold,
		} {
			if v < 0 || v > 1 {
				add("monitoring.%s must be between 0 and 1", name)
			}
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
