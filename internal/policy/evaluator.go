package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Transaction is a proposed spend under evaluation. Constructed per request
// and never mutated afterwards.
type Transaction struct {
	AgentID     string
	ResourceURL string
	Amount      float64
	Currency    string
	Scheme      string
	Timestamp   time.Time
}

// Evaluation is the verdict for one transaction. Reason is deterministic for
// identical inputs; MatchedPolicy is "default" when the fallback applied.
type Evaluation struct {
	Result        string `json:"result"`
	Reason        string `json:"reason"`
	MatchedPolicy string `json:"matchedPolicy"`
}

const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
)

// SpendFunc reports the total approved spend for an agent over the trailing
// window ending now. Injected so the evaluator stays pure and testable
// without a real store.
type SpendFunc func(agentID string, window time.Duration) (float64, error)

// Evaluator applies budget policies to proposed transactions. The fallback
// policy is built once at construction; the zero value is not usable.
type Evaluator struct {
	fallback Policy
}

func NewEvaluator() *Evaluator {
	return &Evaluator{fallback: DefaultPolicy()}
}

// Evaluate checks tx against the agent's policy (or the fallback) in fixed
// order: resource allowlist, per-transaction limit, trailing-hour window,
// trailing-day window. The first failing rule denies and later rules are
// skipped; window checks run last because they cost a ledger scan. A limit
// met exactly is not a violation.
//
// The only error is a failed spend lookup, which callers must treat as a
// storage fault rather than a denial.
func (e *Evaluator) Evaluate(tx Transaction, table Table, spend SpendFunc) (Evaluation, error) {
	p, ok := table.Lookup(tx.AgentID)
	if !ok {
		p = e.fallback
	}

	if !resourceAllowed(p.AllowedResources, tx.ResourceURL) {
		return deny(p, fmt.Sprintf("resource %s not allowed", tx.ResourceURL)), nil
	}

	if tx.Amount > p.Budget.MaxPerTransaction {
		return deny(p, fmt.Sprintf("amount exceeds per-transaction limit (%s > %s)",
			fmtAmount(tx.Amount), fmtAmount(p.Budget.MaxPerTransaction))), nil
	}

	spentHour, err := spend(tx.AgentID, time.Hour)
	if err != nil {
		return Evaluation{}, fmt.Errorf("hourly spend lookup: %w", err)
	}
	if spentHour+tx.Amount > p.Budget.MaxPerHour {
		return deny(p, fmt.Sprintf("hourly spend would exceed limit (%s > %s)",
			fmtAmount(spentHour+tx.Amount), fmtAmount(p.Budget.MaxPerHour))), nil
	}

	spentDay, err := spend(tx.AgentID, 24*time.Hour)
	if err != nil {
		return Evaluation{}, fmt.Errorf("daily spend lookup: %w", err)
	}
	if spentDay+tx.Amount > p.Budget.MaxPerDay {
		return deny(p, fmt.Sprintf("daily spend would exceed limit (%s > %s)",
			fmtAmount(spentDay+tx.Amount), fmtAmount(p.Budget.MaxPerDay))), nil
	}

	return Evaluation{
		Result:        ResultAllow,
		Reason:        "transaction within policy limits",
		MatchedPolicy: p.Name,
	}, nil
}

func deny(p Policy, reason string) Evaluation {
	return Evaluation{
		Result:        ResultDeny,
		Reason:        reason,
		MatchedPolicy: p.Name,
	}
}

// resourceAllowed is a case-sensitive prefix match, not URL normalization:
// "https://api.service.com" matches "https://api.service.com/endpoint" and
// also "https://api.service.com.evil.com". Policies that need host scoping
// must include the trailing slash.
func resourceAllowed(prefixes []string, resourceURL string) bool {
	for _, r := range prefixes {
		if r == "*" || strings.HasPrefix(resourceURL, r) {
			return true
		}
	}
	return false
}

// fmtAmount renders with the shortest round-trip representation so reasons
// stay stable across runs (10 not 10.000000, 1.01 not 1.0100000000000000089).
func fmtAmount(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
