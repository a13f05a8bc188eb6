// Package etherscan fetches verified contract ABIs from an Etherscan-compatible
// block explorer API (v2, multichain).
package etherscan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txlens/internal/resilience"
)

const defaultBaseURL = "https://api.etherscan.io/v2/api"

var (
	// ErrMissingAPIKey is returned when no key is configured or the explorer
	// rejects the configured key.
	ErrMissingAPIKey = eris.New("etherscan: missing or invalid api key")
	// ErrNotVerified is returned for contracts without verified source.
	ErrNotVerified = eris.New("etherscan: contract source not verified")
	// ErrRateLimited is returned when the explorer throttles the key.
	ErrRateLimited = eris.New("etherscan: rate limit reached")
)

// Contract is a verified contract's name and ABI JSON.
type Contract struct {
	Name string `json:"name"`
	ABI  string `json:"abi"`
}

// Client fetches verified contract ABIs.
type Client interface {
	GetContract(ctx context.Context, chainID int64, address string) (*Contract, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the request rate; zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = resilience.NewAdaptiveLimiter("etherscan", rps, burst)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryPolicy) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithBreaker routes calls through a circuit breaker.
func WithBreaker(cb *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *resilience.AdaptiveLimiter
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
}

// NewClient creates an explorer client. The free tier allows 5 requests per
// second, which is the default rate.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: resilience.NewAdaptiveLimiter("etherscan", 5, 5),
		retry:   resilience.DefaultRetryPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.LogRetries("etherscan", "getsourcecode")
	return c
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type sourceCode struct {
	ABI          string `json:"ABI"`
	ContractName string `json:"ContractName"`
}

func (c *httpClient) GetContract(ctx context.Context, chainID int64, address string) (*Contract, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	call := func(ctx context.Context) (*Contract, error) {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) (*Contract, error) {
			return c.getContract(ctx, chainID, address)
		})
	}
	if c.breaker != nil {
		return resilience.Guard(ctx, c.breaker, call)
	}
	return call(ctx)
}

func (c *httpClient) getContract(ctx context.Context, chainID int64, address string) (*Contract, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "etherscan: rate limiter wait")
	}

	q := url.Values{}
	q.Set("chainid", strconv.FormatInt(chainID, 10))
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", address)
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "etherscan: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "etherscan: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "etherscan: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.OnRateLimit()
		return nil, resilience.Transient(ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("etherscan: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, eris.Wrap(err, "etherscan: unmarshal response")
	}

	if ar.Status != "1" {
		var msg string
		_ = json.Unmarshal(ar.Result, &msg)
		return nil, c.statusError(ar.Message, msg)
	}

	var results []sourceCode
	if err := json.Unmarshal(ar.Result, &results); err != nil {
		return nil, eris.Wrap(err, "etherscan: unmarshal result")
	}
	c.limiter.OnSuccess()

	if len(results) == 0 || !strings.HasPrefix(strings.TrimSpace(results[0].ABI), "[") {
		return nil, ErrNotVerified
	}
	return &Contract{Name: results[0].ContractName, ABI: results[0].ABI}, nil
}

// statusError maps the explorer's status-0 messages onto typed errors.
func (c *httpClient) statusError(message, result string) error {
	lower := strings.ToLower(result)
	switch {
	case strings.Contains(lower, "rate limit"):
		c.limiter.OnRateLimit()
		return resilience.Transient(ErrRateLimited, http.StatusTooManyRequests)
	case strings.Contains(lower, "api key"):
		return ErrMissingAPIKey
	case strings.Contains(lower, "not verified"):
		return ErrNotVerified
	default:
		return eris.Errorf("etherscan: %s: %s", message, result)
	}
}
