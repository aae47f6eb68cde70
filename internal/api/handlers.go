package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/paybound/internal/ledger"
	"github.com/davidahmann/paybound/internal/policy"
)

const Version = "0.1.0"

// AgentHeader carries the caller's agent identity. Absent means "unknown".
const AgentHeader = "X-Paybound-Agent"

// Handler wires the decision path: evaluate, record, forward. The ledger
// write happens for every evaluated transaction, denials included, before
// the response goes out.
type Handler struct {
	Logger    *zap.Logger
	Policies  *policy.Source
	Evaluator *policy.Evaluator
	Ledger    ledger.Store
	Forwarder *Forwarder
}

type verifyPayload struct {
	ResourceURL       string `json:"resourceUrl"`
	Resource          string `json:"resource"`
	Amount            any    `json:"amount"`
	MaxAmountRequired any    `json:"maxAmountRequired"`
	Currency          string `json:"currency"`
	Scheme            string `json:"scheme"`
}

// Verify intercepts an x402 payment-verification call. Denials return 403
// without contacting the upstream; approvals forward the original payload
// and relay the upstream response verbatim.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	var payload verifyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	agentID := agentID(r)
	tx := policy.Transaction{
		AgentID:     agentID,
		ResourceURL: firstNonEmpty(payload.ResourceURL, payload.Resource),
		Amount:      parseAmount(payload.Amount, payload.MaxAmountRequired),
		Currency:    firstNonEmpty(payload.Currency, "USDC"),
		Scheme:      firstNonEmpty(payload.Scheme, "exact"),
		Timestamp:   time.Now(),
	}

	eval, err := h.Evaluator.Evaluate(tx, h.Policies.Snapshot(), h.Ledger.SpendInWindow)
	if err != nil {
		h.Logger.Error("spend lookup failed", zap.String("agent", agentID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}

	// A decision that cannot be recorded must not be acted on.
	rec := ledger.Record{
		AgentID:       tx.AgentID,
		ResourceURL:   tx.ResourceURL,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Scheme:        tx.Scheme,
		Timestamp:     time.Now().UnixMilli(),
		Result:        eval.Result,
		Reason:        eval.Reason,
		MatchedPolicy: eval.MatchedPolicy,
	}
	if err := h.Ledger.Record(rec); err != nil {
		h.Logger.Error("ledger write failed", zap.String("agent", agentID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}

	if eval.Result == policy.ResultDeny {
		h.Logger.Info("payment denied",
			zap.String("agent", agentID),
			zap.String("resource", tx.ResourceURL),
			zap.Float64("amount", tx.Amount),
			zap.String("policy", eval.MatchedPolicy),
			zap.String("reason", eval.Reason))
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":   "policy_violation",
			"reason":  eval.Reason,
			"policy":  eval.MatchedPolicy,
			"agentId": agentID,
		})
		return
	}

	h.Logger.Info("payment allowed",
		zap.String("agent", agentID),
		zap.String("resource", tx.ResourceURL),
		zap.Float64("amount", tx.Amount),
		zap.String("policy", eval.MatchedPolicy))
	h.forward(w, r, "/verify", raw)
}

// Settle forwards a settlement payload as-is. No evaluation and no budget
// recording: a settlement is trusted to follow a successful verification.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if !json.Valid(raw) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	h.Logger.Info("settlement proxied", zap.String("agent", agentID(r)))
	h.forward(w, r, "/settle", raw)
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, path string, body []byte) {
	status, respBody, err := h.Forwarder.Forward(r.Context(), path, body, r.Header.Get("Authorization"))
	if err != nil {
		h.Logger.Warn("upstream call failed", zap.String("path", path), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "upstream_error",
			"message": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

// Transactions serves the ledger query interface.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f ledger.Filters
	f.AgentID = q.Get("agentId")
	if v := q.Get("since"); v != "" {
		since, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid since"})
			return
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		f.Limit = limit
	}

	recs, err := h.Ledger.Query(f)
	if err != nil {
		h.Logger.Error("ledger query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": recs})
}

// Health reports aggregate ledger stats and the loaded policy count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Ledger.Stats()
	if err != nil {
		h.Logger.Error("ledger stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      Version,
		"policies":     h.Policies.Len(),
		"policyHash":   h.Policies.Hash(),
		"transactions": stats.Count,
		"totalVolume":  stats.TotalVolume,
		"agents":       stats.Agents,
	})
}

func agentID(r *http.Request) string {
	if v := r.Header.Get(AgentHeader); v != "" {
		return v
	}
	return "unknown"
}

// parseAmount accepts the x402 payload's numeric-or-string amount field,
// falling back to maxAmountRequired. Unparseable values count as zero.
func parseAmount(values ...any) float64 {
	for _, v := range values {
		switch n := v.(type) {
		case nil:
			continue
		case float64:
			return n
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return 0
			}
			return parsed
		default:
			return 0
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
