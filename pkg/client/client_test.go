package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyAllowed(t *testing.T) {
	var gotAgent string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAgent = r.Header.Get("X-Paybound-Agent")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"isValid":true}`))
	}))
	defer srv.Close()

	c := New("shopping-bot", WithProxyURL(srv.URL))
	result, err := c.Verify(context.Background(), Payment{
		ResourceURL: "https://api.weather.com/forecast",
		Amount:      2.5,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed result")
	}

	if gotAgent != "shopping-bot" {
		t.Fatalf("expected agent header, got %q", gotAgent)
	}
	if gotBody["amount"] != "2.5" {
		t.Fatalf("amount must be submitted as a string, got %v", gotBody["amount"])
	}
	if gotBody["currency"] != "USDC" || gotBody["scheme"] != "exact" {
		t.Fatalf("missing defaults in payload: %v", gotBody)
	}
	if _, ok := gotBody["payload"]; ok {
		t.Fatalf("absent payload must not be sent")
	}
}

func TestVerifyDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"policy_violation","reason":"amount exceeds per-transaction limit (10 > 5)","policy":"weather-api-budget","agentId":"shopping-bot"}`))
	}))
	defer srv.Close()

	c := New("shopping-bot", WithProxyURL(srv.URL))
	_, err := c.Verify(context.Background(), Payment{ResourceURL: "https://api.weather.com", Amount: 10})
	if err == nil {
		t.Fatalf("expected policy violation error")
	}

	var violation *PolicyViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected *PolicyViolationError, got %T", err)
	}
	if violation.Policy != "weather-api-budget" {
		t.Fatalf("unexpected policy: %s", violation.Policy)
	}
	if violation.AgentID != "shopping-bot" {
		t.Fatalf("unexpected agent: %s", violation.AgentID)
	}
}

func TestVerifyUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream_error","message":"connection refused"}`))
	}))
	defer srv.Close()

	c := New("bot", WithProxyURL(srv.URL))
	_, err := c.Verify(context.Background(), Payment{ResourceURL: "https://r", Amount: 1})
	if err == nil {
		t.Fatalf("expected error for 502")
	}
	var violation *PolicyViolationError
	if errors.As(err, &violation) {
		t.Fatalf("upstream errors must not look like policy violations")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"ok","version":"0.1.0","policies":2,"transactions":7,"totalVolume":31.5,"agents":3}`))
	}))
	defer srv.Close()

	c := New("bot", WithProxyURL(srv.URL))
	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" || health.Policies != 2 || health.TotalVolume != 31.5 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("agentId") != "bot" || q.Get("since") != "1000" || q.Get("limit") != "5" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"transactions":[{"id":1,"agentId":"bot","amount":2,"policyResult":"allow"}]}`))
	}))
	defer srv.Close()

	c := New("bot", WithProxyURL(srv.URL))
	txs, err := c.Transactions(context.Background(), TransactionOptions{Since: 1000, Limit: 5})
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Result != "allow" {
		t.Fatalf("unexpected transactions: %+v", txs)
	}
}

func TestDoStampsAgentHeader(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("X-Paybound-Agent")
	}))
	defer srv.Close()

	c := New("bot")
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if gotAgent != "bot" {
		t.Fatalf("expected agent header, got %q", gotAgent)
	}
}

func TestProxyURLTrailingSlashTrimmed(t *testing.T) {
	c := New("bot", WithProxyURL("http://localhost:4020/"))
	if c.proxyURL != "http://localhost:4020" {
		t.Fatalf("trailing slash not trimmed: %s", c.proxyURL)
	}
}
