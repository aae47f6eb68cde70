package ledger

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateSQLite(t *testing.T) {
	db := openTestDB(t)

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO transactions
  (agent_id, resource_url, amount, currency, scheme, timestamp, policy_result, policy_reason, matched_policy)
VALUES ('bot', 'https://r', 1.5, 'USDC', 'exact', 1, 'allow', 'ok', 'p')`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var applied int
	if err := db.QueryRow(`SELECT COUNT(*) FROM paybound_schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", applied)
	}
}

func TestMigrateRejectsUnknownDriver(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db, DBDriver("oracle")); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestMigrateRejectsNilDB(t *testing.T) {
	if err := Migrate(nil, DBSQLite); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
