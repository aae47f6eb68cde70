package policy

import (
	"os"
	"testing"
)

func TestSourceReloadSwapsTable(t *testing.T) {
	path := writePolicyFile(t, validPolicies)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	source := NewSource(loaded)
	oldHash := source.Hash()

	updated := `test-bot:
  name: tightened
  budget:
    max_per_transaction: 1
    max_per_hour: 5
    max_per_day: 10
  allowed_resources: ["*"]
  on_violation: block
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite policy file: %v", err)
	}

	if err := source.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if source.Len() != 1 {
		t.Fatalf("expected 1 policy after reload, got %d", source.Len())
	}
	p, ok := source.Snapshot().Lookup("test-bot")
	if !ok || p.Name != "tightened" {
		t.Fatalf("reload did not swap table: ok=%v policy=%+v", ok, p)
	}
	if source.Hash() == oldHash {
		t.Fatalf("hash should change after reload")
	}
}

func TestSourceReloadKeepsTableOnError(t *testing.T) {
	path := writePolicyFile(t, validPolicies)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	source := NewSource(loaded)

	if err := os.WriteFile(path, []byte("::: broken"), 0o600); err != nil {
		t.Fatalf("corrupt policy file: %v", err)
	}

	if err := source.Reload(); err == nil {
		t.Fatalf("expected reload error for corrupt file")
	}
	if source.Len() != 2 {
		t.Fatalf("previous table must keep serving, got %d policies", source.Len())
	}
}

func TestEmptySourceReloadIsNoop(t *testing.T) {
	source := EmptySource()
	if err := source.Reload(); err != nil {
		t.Fatalf("reload without path must be a no-op: %v", err)
	}
	if source.Len() != 0 {
		t.Fatalf("empty source should stay empty")
	}
}
