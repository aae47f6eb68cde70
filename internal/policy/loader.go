package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LoadedTable is a validated policy table plus the digest of the raw file,
// so operators can tell which policy revision a gateway is enforcing.
type LoadedTable struct {
	Table Table
	Hash  string
	Path  string
}

var validate = validator.New()

// Load reads a YAML mapping of agent ID to policy, validates every entry and
// returns the table. Malformed or incomplete input is an error, never a
// silent default.
func Load(path string) (LoadedTable, error) {
	// #nosec G304 -- path comes from operator-configured policy path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedTable{}, err
	}

	var raw map[string]Policy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return LoadedTable{}, fmt.Errorf("parse %s: %w", path, err)
	}

	table := make(Table, len(raw))
	for _, agentID := range sortedKeys(raw) {
		p := raw[agentID]
		if err := validate.Struct(p); err != nil {
			return LoadedTable{}, fmt.Errorf("policy for agent %q: %w", agentID, err)
		}
		table[agentID] = p
	}

	return LoadedTable{
		Table: table,
		Hash:  digest(data),
		Path:  path,
	}, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// sortedKeys keeps validation errors deterministic when several entries are
// invalid.
func sortedKeys(m map[string]Policy) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
