package sqlstore

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/paybound/internal/ledger"
)

// Store is the SQLite ledger. The pool is capped at one connection so every
// write is visible to the next read: two requests racing a budget boundary
// serialize at the database, not in the handler.
type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AgentID, rec.ResourceURL, rec.Amount, rec.Currency, rec.Scheme,
		rec.Timestamp, rec.Result, rec.Reason, rec.MatchedPolicy)
	return err
}

func (s *Store) SpendInWindow(agentID string, window time.Duration) (float64, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	var total float64
	row := s.db.QueryRow(`SELECT COALESCE(SUM(amount), 0)
FROM transactions
WHERE agent_id = ? AND timestamp >= ? AND policy_result = 'allow'`, agentID, cutoff)
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
		sb.WriteString(" AND agent_id = ?")
		params = append(params, f.AgentID)
	}
	if f.Since != 0 {
		sb.WriteString(" AND timestamp >= ?")
		params = append(params, f.Since)
	}
	sb.WriteString(" ORDER BY timestamp DESC, id DESC")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, f.Limit)
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
