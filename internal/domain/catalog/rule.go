// Package catalog holds the immutable achievement rule table.
package catalog

// Operator compares a field value with a condition value.
type Operator string

// Supported operators.
const (
	OpEq       Operator = "=="
	OpGte      Operator = ">="
	OpLte      Operator = "<="
	OpGt       Operator = ">"
	OpLt       Operator = "<"
	OpContains Operator = "contains"
)

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpGte, OpLte, OpGt, OpLt, OpContains:
		return true
	default:
		return false
	}
}

// Condition is one predicate of a rule. All conditions of a rule are AND-ed.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Rewards describes what a rule grants.
type Rewards struct {
	XP            int64  `json:"xp"`
	Badge         string `json:"badge,omitempty"`
	UseMetadataXP bool   `json:"useMetadataXp,omitempty"`
}

// Rule is one achievement rule. Limit 0 means unlimited; Target and
// CooldownMinutes are optional.
type Rule struct {
	ID              string      `json:"id"`
	Trigger         string      `json:"trigger"`
	Conditions      []Condition `json:"conditions,omitempty"`
	Target          *int        `json:"target,omitempty"`
	Limit           int         `json:"limit"`
	CooldownMinutes *int        `json:"cooldownMinutes,omitempty"`
	Rewards         Rewards     `json:"rewards"`
}

// Terminal reports whether the rule unlocks a one-time achievement.
func (r Rule) Terminal() bool { return r.Limit > 0 }

// Progressive reports whether the rule counts qualifying events.
func (r Rule) Progressive() bool { return r.Target != nil }

func (r Rule) clone() Rule {
	out := r
	out.Conditions = append([]Condition(nil), r.Conditions...)
	for i := range out.Conditions {
		out.Conditions[i].Field.Path = append([]string(nil), r.Conditions[i].Field.Path...)
	}
	if r.Target != nil {
		t := *r.Target
		out.Target = &t
	}
	if r.CooldownMinutes != nil {
		c := *r.CooldownMinutes
		out.CooldownMinutes = &c
	}
	return out
}
