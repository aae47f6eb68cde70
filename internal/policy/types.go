package policy

// OnViolation is the disposition a policy requests for a violated rule.
// It is informational: a violated rule always denies, and alerting is left
// to the caller.
type OnViolation string

const (
	Block         OnViolation = "block"
	Alert         OnViolation = "alert"
	BlockAndAlert OnViolation = "block_and_alert"
)

// Budget holds per-transaction and rolling-window spend ceilings.
// Each limit is enforced independently.
type Budget struct {
	MaxPerTransaction float64 `yaml:"max_per_transaction" validate:"gte=0"`
	MaxPerHour        float64 `yaml:"max_per_hour" validate:"gte=0"`
	MaxPerDay         float64 `yaml:"max_per_day" validate:"gte=0"`
}

// Policy is one agent's spending policy. AllowedResources entries are
// case-sensitive URL prefixes; the literal "*" matches any resource.
type Policy struct {
	Name             string      `yaml:"name" validate:"required"`
	Budget           Budget      `yaml:"budget"`
	AllowedResources []string    `yaml:"allowed_resources" validate:"min=1"`
	OnViolation      OnViolation `yaml:"on_violation" validate:"oneof=block alert block_and_alert"`
}

// Table maps agent IDs to their policies. Immutable after load.
type Table map[string]Policy

// Lookup returns the policy for agentID. The second return is false when no
// agent-specific entry exists; callers decide whether to fall back.
func (t Table) Lookup(agentID string) (Policy, bool) {
	p, ok := t[agentID]
	return p, ok
}

// DefaultPolicy returns the restrictive fallback applied to agents with no
// table entry: $1/tx, $10/hr, $50/day, any resource, block and alert.
// It is materialized at evaluation time and never stored in a Table.
func DefaultPolicy() Policy {
	return Policy{
		Name: "default",
		Budget: Budget{
			MaxPerTransaction: 1,
			MaxPerHour:        10,
			MaxPerDay:         50,
		},
		AllowedResources: []string{"*"},
		OnViolation:      BlockAndAlert,
	}
}
