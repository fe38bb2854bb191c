package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sharding-experiment/slotvault/config"
	"github.com/sharding-experiment/slotvault/internal/protocol"
	"github.com/sharding-experiment/slotvault/internal/registry"
)

// NewHTTPClient creates an HTTP client with optional latency simulation.
// If config.DelayEnabled is true, the client will add random delays to simulate network latency.
func NewHTTPClient(cfg config.NetworkConfig, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport

	if cfg.DelayEnabled {
		transport = NewDelayedRoundTripper(transport, DelayConfig{
			Enabled:  true,
			MinDelay: time.Duration(cfg.MinDelayMs) * time.Millisecond,
			MaxDelay: time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		})
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// APIError is a non-2xx answer from the node. Receipt is set when the node
// processed the envelope but rejected it.
type APIError struct {
	Status  int
	Message string
	Receipt *protocol.Receipt
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.Status, e.Message)
}

// Client talks to a custodian node's HTTP API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the node at baseURL
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Submit posts an envelope and returns its receipt
func (c *Client) Submit(ctx context.Context, env protocol.Envelope) (*protocol.Receipt, error) {
	var receipt protocol.Receipt
	if err := c.do(ctx, http.MethodPost, "/invoke", env, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Holdings lists held assets in slot order
func (c *Client) Holdings(ctx context.Context) ([]registry.Holding, error) {
	var out []registry.Holding
	if err := c.do(ctx, http.MethodGet, "/holdings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Holding returns the asset held at slot
func (c *Client) Holding(ctx context.Context, slot int) (*registry.Holding, error) {
	var out registry.Holding
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/holdings/%d", slot), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fees returns the profit accumulator as reported by the node
func (c *Client) Fees(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/fees", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Receipt fetches the receipt of a processed invocation
func (c *Client) Receipt(ctx context.Context, id string) (*protocol.Receipt, error) {
	var out protocol.Receipt
	if err := c.do(ctx, http.MethodGet, "/receipts/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var errBody struct {
			Error   string            `json:"error"`
			Receipt *protocol.Receipt `json:"receipt"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			apiErr.Message = errBody.Error
			apiErr.Receipt = errBody.Receipt
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	return nil
}
