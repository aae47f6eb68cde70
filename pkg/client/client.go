// Package client is the Go SDK for a Paybound gateway. It wraps the verify,
// settle, health and transaction-query endpoints and stamps every request
// with the agent's identity header.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultProxyURL is where a locally run gateway listens.
	DefaultProxyURL = "http://localhost:4020"

	agentHeader = "X-Paybound-Agent"
)

// Client talks to one Paybound gateway on behalf of one agent. Safe for
// concurrent use.
type Client struct {
	agentID    string
	proxyURL   string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithProxyURL points the client at a non-default gateway.
func WithProxyURL(u string) Option {
	return func(c *Client) { c.proxyURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient swaps the underlying HTTP client, e.g. to set timeouts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given agent ID.
func New(agentID string, opts ...Option) *Client {
	c := &Client{
		agentID:    agentID,
		proxyURL:   DefaultProxyURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PolicyViolationError is returned when the gateway denies a payment.
type PolicyViolationError struct {
	Reason  string
	Policy  string
	AgentID string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: %s (policy: %s)", e.Reason, e.Policy)
}

// Payment is a spend submitted for verification.
type Payment struct {
	ResourceURL string
	Amount      float64
	Currency    string // default USDC
	Scheme      string // default exact
	Payload     any    // opaque x402 payload, forwarded upstream
}

// Result reports an approved verification.
type Result struct {
	Allowed          bool
	Reason           string
	Policy           string
	UpstreamResponse json.RawMessage
}

// Verify submits a payment through the gateway. A denial is returned as a
// *PolicyViolationError; any other non-2xx status is an opaque error.
func (c *Client) Verify(ctx context.Context, payment Payment) (*Result, error) {
	body := map[string]any{
		"resourceUrl": payment.ResourceURL,
		"amount":      strconv.FormatFloat(payment.Amount, 'g', -1, 64),
		"currency":    orDefault(payment.Currency, "USDC"),
		"scheme":      orDefault(payment.Scheme, "exact"),
	}
	if payment.Payload != nil {
		body["payload"] = payment.Payload
	}

	status, respBody, err := c.postJSON(ctx, "/verify", body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusForbidden {
		var denial struct {
			Reason string `json:"reason"`
			Policy string `json:"policy"`
		}
		_ = json.Unmarshal(respBody, &denial)
		return nil, &PolicyViolationError{
			Reason:  orDefault(denial.Reason, "unknown"),
			Policy:  orDefault(denial.Policy, "unknown"),
			AgentID: c.agentID,
		}
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("verify failed with status %d: %s", status, strings.TrimSpace(string(respBody)))
	}

	return &Result{
		Allowed:          true,
		Reason:           "within policy limits",
		Policy:           matchedPolicy(respBody),
		UpstreamResponse: respBody,
	}, nil
}

// Settle forwards a settlement payload through the gateway and returns the
// upstream response.
func (c *Client) Settle(ctx context.Context, payload any) (json.RawMessage, error) {
	status, respBody, err := c.postJSON(ctx, "/settle", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("settle failed with status %d: %s", status, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// Health is the gateway's aggregate readout.
type Health struct {
	Status       string  `json:"status"`
	Version      string  `json:"version"`
	Policies     int     `json:"policies"`
	PolicyHash   string  `json:"policyHash"`
	Transactions int64   `json:"transactions"`
	TotalVolume  float64 `json:"totalVolume"`
	Agents       int64   `json:"agents"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.proxyURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	var out Health
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transaction mirrors one ledger record.
type Transaction struct {
	ID            int64   `json:"id"`
	AgentID       string  `json:"agentId"`
	ResourceURL   string  `json:"resourceUrl"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Scheme        string  `json:"scheme"`
	Timestamp     int64   `json:"timestamp"`
	Result        string  `json:"policyResult"`
	Reason        string  `json:"policyReason"`
	MatchedPolicy string  `json:"matchedPolicy"`
}

// TransactionOptions narrows a history query. Zero values impose nothing.
type TransactionOptions struct {
	Since int64
	Limit int
}

// Transactions returns this agent's decision history, newest first.
func (c *Client) Transactions(ctx context.Context, opts TransactionOptions) ([]Transaction, error) {
	params := url.Values{"agentId": {c.agentID}}
	if opts.Since > 0 {
		params.Set("since", strconv.FormatInt(opts.Since, 10))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.proxyURL+"/transactions?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Do sends an arbitrary request with the agent identity header attached,
// for callers routing raw x402 traffic through the gateway.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set(agentHeader, c.agentID)
	return c.httpClient.Do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (int, []byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.proxyURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(agentHeader, c.agentID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set(agentHeader, c.agentID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return json.Unmarshal(respBody, out)
}

func matchedPolicy(body []byte) string {
	var parsed struct {
		MatchedPolicy string `json:"matchedPolicy"`
	}
	_ = json.Unmarshal(body, &parsed)
	return orDefault(parsed.MatchedPolicy, "unknown")
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
