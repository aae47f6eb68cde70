//go:build e2e

package e2e

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/davidahmann/paybound/internal/api"
	"github.com/davidahmann/paybound/internal/ledger"
	"github.com/davidahmann/paybound/internal/policy"
	"github.com/davidahmann/paybound/pkg/client"
)

func newGateway(t *testing.T, upstream string) *httptest.Server {
	t.Helper()

	table := policy.Table{
		"test-bot": {
			Name: "test-bot-policy",
			Budget: policy.Budget{
				MaxPerTransaction: 5,
				MaxPerHour:        20,
				MaxPerDay:         100,
			},
			AllowedResources: []string{"https://api.service.com/"},
			OnViolation:      policy.BlockAndAlert,
		},
	}

	h := &api.Handler{
		Logger:    zaptest.NewLogger(t),
		Policies:  policy.NewSource(policy.LoadedTable{Table: table, Hash: "sha256:test"}),
		Evaluator: policy.NewEvaluator(),
		Ledger:    ledger.NewInMemoryStore(),
		Forwarder: api.NewForwarder(upstream, 5*time.Second),
	}

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Fatalf("unexpected upstream path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"isValid":true}`))
	}))
	defer upstream.Close()

	srv := newGateway(t, upstream.URL)
	c := client.New("test-bot", client.WithProxyURL(srv.URL))
	ctx := context.Background()

	result, err := c.Verify(ctx, client.Payment{
		ResourceURL: "https://api.service.com/data",
		Amount:      2.00,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed result")
	}
	if string(result.UpstreamResponse) == "" {
		t.Fatalf("expected the upstream response to be relayed")
	}

	_, err = c.Verify(ctx, client.Payment{
		ResourceURL: "https://api.service.com/data",
		Amount:      10.00,
	})
	var violation *client.PolicyViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if violation.Reason != "amount exceeds per-transaction limit (10 > 5)" {
		t.Fatalf("unexpected reason %q", violation.Reason)
	}

	_, err = c.Verify(ctx, client.Payment{
		ResourceURL: "https://evil.com/data",
		Amount:      1.00,
	})
	if !errors.As(err, &violation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if violation.Reason != "resource https://evil.com/data not allowed" {
		t.Fatalf("unexpected reason %q", violation.Reason)
	}

	txs, err := c.Transactions(ctx, client.TransactionOptions{})
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 recorded decisions, got %d", len(txs))
	}
	if txs[0].Result != "deny" || txs[2].Result != "allow" {
		t.Fatalf("unexpected decision order: %v %v %v", txs[0].Result, txs[1].Result, txs[2].Result)
	}
	if txs[2].MatchedPolicy != "test-bot-policy" {
		t.Fatalf("expected test-bot-policy, got %s", txs[2].MatchedPolicy)
	}

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" || health.Policies != 1 || health.Transactions != 3 {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.TotalVolume != 13.00 {
		t.Fatalf("expected total volume 13, got %v", health.TotalVolume)
	}
}

func TestGatewayEndToEndUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := upstream.URL
	upstream.Close()

	srv := newGateway(t, addr)
	c := client.New("test-bot", client.WithProxyURL(srv.URL))

	_, err := c.Verify(context.Background(), client.Payment{
		ResourceURL: "https://api.service.com/data",
		Amount:      2.00,
	})
	if err == nil {
		t.Fatalf("expected upstream error")
	}
	var violation *client.PolicyViolationError
	if errors.As(err, &violation) {
		t.Fatalf("upstream failure must not surface as a policy violation: %v", err)
	}

	// The allowed decision is still on the ledger even though the upstream
	// call failed.
	txs, err := c.Transactions(context.Background(), client.TransactionOptions{})
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Result != "allow" {
		t.Fatalf("expected one allow record, got %+v", txs)
	}
}
