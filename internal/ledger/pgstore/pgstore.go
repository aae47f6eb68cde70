package pgstore

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/davidahmann/paybound/internal/ledger"
)

// Store is the Postgres ledger, for deployments that already run Postgres.
// Same contract as sqlstore; read-after-write holds because every statement
// commits before the call returns.
type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Record(rec ledger.Record) error {
	_, err := s.db.Exec(`INSERT INTO transactions
  (agent_id, resource_url, amount, currency, scheme, timestamp, policy_result, policy_reason, matched_policy)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.AgentID, rec.ResourceURL, rec.Amount, rec.Currency, rec.Scheme,
		rec.Timestamp, rec.Result, rec.Reason, rec.MatchedPolicy)
	return err
}

func (s *Store) SpendInWindow(agentID string, window time.Duration) (float64, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	var total float64
	row := s.db.QueryRow(`SELECT COALESCE(SUM(amount), 0)
FROM transactions
WHERE agent_id = $1 AND timestamp >= $2 AND policy_result = 'allow'`, agentID, cutoff)
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) Query(f ledger.Filters) ([]ledger.Record, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, agent_id, resource_url, amount, currency, scheme, timestamp, policy_result, policy_reason, matched_policy
FROM transactions WHERE 1=1`)
	params := []any{}

	if f.AgentID != "" {
		params = append(params, f.AgentID)
		sb.WriteString(" AND agent_id = $" + strconv.Itoa(len(params)))
	}
	if f.Since != 0 {
		params = append(params, f.Since)
		sb.WriteString(" AND timestamp >= $" + strconv.Itoa(len(params)))
	}
	sb.WriteString(" ORDER BY timestamp DESC, id DESC")
	if f.Limit > 0 {
		params = append(params, f.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(params)))
	}

	rows, err := s.db.Query(sb.String(), params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Record{}
	for rows.Next() {
		var rec ledger.Record
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.ResourceURL, &rec.Amount,
			&rec.Currency, &rec.Scheme, &rec.Timestamp, &rec.Result, &rec.Reason,
			&rec.MatchedPolicy); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Stats() (ledger.Stats, error) {
	var stats ledger.Stats
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(amount), 0), COUNT(DISTINCT agent_id)
FROM transactions`)
	if err := row.Scan(&stats.Count, &stats.TotalVolume, &stats.Agents); err != nil {
		return ledger.Stats{}, err
	}
	return stats, nil
}
