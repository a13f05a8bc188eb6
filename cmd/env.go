package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/abisource"
	"github.com/sells-group/txlens/internal/analysis"
	"github.com/sells-group/txlens/internal/config"
	"github.com/sells-group/txlens/internal/explain"
	"github.com/sells-group/txlens/internal/pipeline"
	"github.com/sells-group/txlens/internal/resilience"
	"github.com/sells-group/txlens/internal/store"
	anthropicpkg "github.com/sells-group/txlens/pkg/anthropic"
	"github.com/sells-group/txlens/pkg/etherscan"
	"github.com/sells-group/txlens/pkg/ethrpc"
	"github.com/sells-group/txlens/pkg/fourbyte"
	"github.com/sells-group/txlens/pkg/simulator"
)

// appEnv holds the analyzer and the resources behind it for the
// analyze/batch/serve commands.
type appEnv struct {
	Store    store.Store // nil unless requested
	Analyzer *pipeline.Analyzer
	rpc      *ethrpc.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.rpc != nil {
		e.rpc.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initEnv validates the config for mode and builds the analyzer. With
// withStore the store is opened too and backs the explorer ABI cache.
func initEnv(ctx context.Context, mode string, withStore bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{}
	var cache abisource.ABICache
	if withStore {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
		cache = st
	}

	analyzer, rpcClient, err := buildAnalyzer(cfg, cache)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Analyzer = analyzer
	env.rpc = rpcClient
	return env, nil
}

// retryPolicy maps the resilience.retry section onto a policy. Unset values
// keep the package defaults; a zero jitter is honoured.
func retryPolicy(s config.RetrySettings) resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	if s.MaxAttempts > 0 {
		p.Attempts = s.MaxAttempts
	}
	if s.InitialBackoffMs > 0 {
		p.BaseDelay = time.Duration(s.InitialBackoffMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		p.MaxDelay = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	if s.Multiplier > 0 {
		p.Factor = s.Multiplier
	}
	if s.JitterFraction >= 0 {
		p.Jitter = s.JitterFraction
	}
	return p
}

func breakerConfig(s config.CircuitSettings) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Threshold: s.FailureThreshold,
		Cooldown:  time.Duration(s.ResetTimeoutSecs) * time.Second,
	}
}

// buildAnalyzer wires every configured client into a pipeline.Analyzer.
// cache may be nil.
func buildAnalyzer(c *config.Config, cache abisource.ABICache) (*pipeline.Analyzer, *ethrpc.Client, error) {
	retry := retryPolicy(c.Resilience.Retry)
	breakers := resilience.NewBreakers(breakerConfig(c.Resilience.Circuit))

	endpoints, err := c.RPC.ChainEndpoints()
	if err != nil {
		return nil, nil, err
	}
	rpcClient := ethrpc.New(endpoints, ethrpc.WithRetry(retry), ethrpc.WithBreakers(breakers))

	protocols, err := abisource.LoadRegistry(c.Registry.Paths...)
	if err != nil {
		rpcClient.Close()
		return nil, nil, eris.Wrap(err, "load protocol registry")
	}

	explorerClient := etherscan.NewClient(c.Etherscan.Key,
		etherscan.WithBaseURL(c.Etherscan.BaseURL),
		etherscan.WithRateLimit(c.Etherscan.RateLimit, c.Etherscan.Burst),
		etherscan.WithRetry(retry),
		etherscan.WithBreaker(breakers.For(abisource.SourceExplorer)),
	)
	fourbyteClient := fourbyte.NewClient(
		fourbyte.WithBaseURL(c.FourByte.BaseURL),
		fourbyte.WithRateLimit(c.FourByte.RateLimit, c.FourByte.Burst),
		fourbyte.WithRetry(retry),
	)
	cacheTTL := time.Duration(c.Etherscan.CacheTTLHours) * time.Hour

	deps := pipeline.Deps{
		Fetcher: rpcClient,
		Sources: abisource.NewRegistry(
			protocols,
			abisource.NewExplorerSource(explorerClient, cache, cacheTTL),
			abisource.NewFourByteSource(fourbyteClient),
		),
		SourceOrder: c.Sources.Order,
		Detector:    analysis.NewDetector(protocols),
		Timeouts: pipeline.Timeouts{
			Fetch:    c.Timeouts.Fetch(),
			Resolve:  c.Timeouts.Resolve(),
			Simulate: c.Timeouts.Simulate(),
			Explain:  c.Timeouts.Explain(),
		},
	}

	if c.Simulator.URL != "" {
		deps.Simulator = simulator.NewClient(c.Simulator.URL,
			simulator.WithAPIKey(c.Simulator.Key),
			simulator.WithRetry(retry),
		)
	}
	if c.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(c.Anthropic.Key, anthropicpkg.WithMaxRetries(c.Anthropic.MaxRetries))
		deps.Explainer = explain.New(client, explain.Config{
			Model:     c.Anthropic.Model,
			MaxTokens: c.Anthropic.MaxTokens,
			CacheTTL:  c.Anthropic.CacheTTL,
		})
	}

	zap.L().Debug("analyzer ready",
		zap.Int("chains", len(endpoints)),
		zap.Strings("source_order", c.Sources.Order),
		zap.Bool("simulator", deps.Simulator != nil),
		zap.Bool("explainer", deps.Explainer != nil),
	)
	return pipeline.New(deps), rpcClient, nil
}
