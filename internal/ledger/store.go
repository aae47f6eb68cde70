package ledger

import "time"

// Record is one transaction decision, persisted for audit. Denied
// transactions are recorded too. Immutable once written; ID is assigned
// monotonically by the store at write time, Timestamp is epoch milliseconds
// supplied by the caller at record time.
type Record struct {
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

// Filters narrows a Query. Zero values impose no constraint; Since is an
// inclusive epoch-millisecond lower bound.
type Filters struct {
	AgentID string
	Since   int64
	Limit   int
}

// Stats is the aggregate health readout over all records, both verdicts.
type Stats struct {
	Count       int64   `json:"count"`
	TotalVolume float64 `json:"totalVolume"`
	Agents      int64   `json:"agents"`
}

// Store is the append-only decision ledger. Implementations must give
// read-after-write consistency on a single instance: SpendInWindow reflects
// every Record call that completed before it. Concurrent requests racing the
// same budget boundary are only best-effort serialized; cross-instance
// consistency is out of scope.
type Store interface {
	// Record appends one immutable record. A storage fault is an error the
	// caller must surface, never swallowed.
	Record(rec Record) error

	// SpendInWindow sums Amount over allowed records for agentID with
	// timestamp >= now-window. Zero when no records match.
	SpendInWindow(agentID string, window time.Duration) (float64, error)

	// Query returns records newest first (timestamp, then ID, descending).
	Query(f Filters) ([]Record, error)

	Stats() (Stats, error)

	Close() error
}
