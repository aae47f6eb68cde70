package policy

import "sync"

// Source holds the gateway's current policy table and supports atomic
// replacement on reload. Evaluations read a snapshot, so an in-flight
// request never sees a half-applied table.
type Source struct {
	mu    sync.RWMutex
	table Table
	hash  string
	path  string
}

// NewSource returns a Source serving the given table. An empty path disables
// Reload (static tables, tests).
func NewSource(loaded LoadedTable) *Source {
	return &Source{
		table: loaded.Table,
		hash:  loaded.Hash,
		path:  loaded.Path,
	}
}

// EmptySource serves no agent-specific policies, so the default policy
// governs every agent.
func EmptySource() *Source {
	return &Source{table: Table{}}
}

// Snapshot returns the current table. The returned map must be treated as
// read-only.
func (s *Source) Snapshot() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Hash returns the digest of the currently served policy file, empty when no
// file was loaded.
func (s *Source) Hash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}

// Len reports the number of agent-specific policies.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

// Reload re-reads the policy file and swaps the table in. On error the
// previous table keeps serving.
func (s *Source) Reload() error {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return nil
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.table = loaded.Table
	s.hash = loaded.Hash
	s.mu.Unlock()
	return nil
}
