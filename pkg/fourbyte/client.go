// Package fourbyte looks up function selectors in the public 4byte.directory
// signature database.
package fourbyte

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txlens/internal/resilience"
)

const defaultBaseURL = "https://www.4byte.directory"

// Signature is a text signature registered for a selector.
type Signature struct {
	ID            int64  `json:"id"`
	TextSignature string `json:"text_signature"`
	HexSignature  string `json:"hex_signature"`
}

// Client looks up text signatures by selector.
type Client interface {
	// Lookup returns every signature registered for selector (0x-prefixed,
	// 4 bytes), oldest first. An unknown selector yields an empty slice.
	Lookup(ctx context.Context, selector string) ([]Signature, error)
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
		c.limiter = resilience.NewAdaptiveLimiter("fourbyte", rps, burst)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryPolicy) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *resilience.AdaptiveLimiter
	retry   resilience.RetryPolicy
}

// NewClient creates a 4byte.directory client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: resilience.NewAdaptiveLimiter("fourbyte", 2, 2),
		retry:   resilience.DefaultRetryPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.LogRetries("fourbyte", "signatures")
	return c
}

type page struct {
	Count   int         `json:"count"`
	Next    *string     `json:"next"`
	Results []Signature `json:"results"`
}

func (c *httpClient) Lookup(ctx context.Context, selector string) ([]Signature, error) {
	return resilience.Retry(ctx, c.retry, func(ctx context.Context) ([]Signature, error) {
		return c.lookup(ctx, selector)
	})
}

func (c *httpClient) lookup(ctx context.Context, selector string) ([]Signature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fourbyte: rate limiter wait")
	}

	q := url.Values{}
	q.Set("hex_signature", selector)
	q.Set("ordering", "created_at")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/signatures/?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "fourbyte: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fourbyte: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "fourbyte: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("fourbyte: unexpected status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.OnRateLimit()
		}
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "fourbyte: unmarshal response")
	}
	c.limiter.OnSuccess()

	sigs := p.Results
	if sigs == nil {
		sigs = []Signature{}
	}
	sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].ID < sigs[j].ID })
	return sigs, nil
}
