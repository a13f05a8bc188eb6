// Package simulator calls an external transaction simulation service.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
)

// Request is the body of POST /v1/simulate.
type Request struct {
	ChainID int64  `json:"chain_id"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Value   string `json:"value,omitempty"`
	Data    string `json:"data,omitempty"`
}

// Client simulates transactions.
type Client interface {
	Simulate(ctx context.Context, chainID int64, tx model.TxContext) (*model.SimulationResult, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithAPIKey sets the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *httpClient) {
		c.apiKey = key
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
	apiKey  string
	http    *http.Client
	retry   resilience.RetryPolicy
}

// NewClient creates a simulation client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.RetryPolicy{Attempts: 2},
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.LogRetries("simulator", "simulate")
	return c
}

func (c *httpClient) Simulate(ctx context.Context, chainID int64, tx model.TxContext) (*model.SimulationResult, error) {
	body, err := json.Marshal(Request{ChainID: chainID, From: tx.From, To: tx.To, Value: tx.Value, Data: tx.Data})
	if err != nil {
		return nil, eris.Wrap(err, "simulator: marshal request")
	}

	return resilience.Retry(ctx, c.retry, func(ctx context.Context) (*model.SimulationResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/simulate", bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "simulator: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "simulator: send request")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "simulator: read response")
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("simulator: unexpected status %d: %s", resp.StatusCode, string(respBody))
			if resilience.RetryableStatus(resp.StatusCode) {
				return nil, resilience.Transient(err, resp.StatusCode)
			}
			return nil, err
		}

		var out model.SimulationResult
		dec := json.NewDecoder(bytes.NewReader(respBody))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, eris.Wrap(err, "simulator: unmarshal response")
		}
		return &out, nil
	})
}
