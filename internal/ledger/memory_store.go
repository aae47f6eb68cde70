package ledger

import (
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps the ledger in process memory. Used by tests and as the
// no-persistence fallback; the mutex gives the same read-after-write
// guarantee the SQL stores provide.
type InMemoryStore struct {
	mu      sync.Mutex
	records []Record
	nextID  int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

func (s *InMemoryStore) Record(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, rec)
	return nil
}

func (s *InMemoryStore) SpendInWindow(agentID string, window time.Duration) (float64, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, rec := range s.records {
		if rec.AgentID == agentID && rec.Result == "allow" && rec.Timestamp >= cutoff {
			total += rec.Amount
		}
	}
	return total, nil
}

func (s *InMemoryStore) Query(f Filters) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Record{}
	for _, rec := range s.records {
		if f.AgentID != "" && rec.AgentID != f.AgentID {
			continue
		}
		if f.Since != 0 && rec.Timestamp < f.Since {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := map[string]struct{}{}
	var volume float64
	for _, rec := range s.records {
		volume += rec.Amount
		agents[rec.AgentID] = struct{}{}
	}
	return Stats{
		Count:       int64(len(s.records)),
		TotalVolume: volume,
		Agents:      int64(len(agents)),
	}, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
