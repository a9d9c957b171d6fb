package catalog

import (
	"fmt"
)

// Catalog is an immutable, versioned set of rules. It is safe for
// concurrent use without locking.
type Catalog struct {
	version   string
	rules     []Rule
	byTrigger map[string][]int
	byID      map[string]int
}

// New validates rules and builds a Catalog. Rule order is preserved.
func New(version string, rules []Rule) (*Catalog, error) {
	c := &Catalog{
		version:   version,
		rules:     make([]Rule, 0, len(rules)),
		byTrigger: make(map[string][]int),
		byID:      make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		if err := validate(r); err != nil {
			return nil, fmt.Errorf("%w: rule %d: %w", ErrInvalidCatalog, i, err)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidCatalog, r.ID)
		}
		c.byID[r.ID] = len(c.rules)
		c.byTrigger[r.Trigger] = append(c.byTrigger[r.Trigger], len(c.rules))
		c.rules = append(c.rules, r.clone())
	}
	return c, nil
}

func validate(r Rule) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("empty id")
	case r.Trigger == "":
		return fmt.Errorf("%s: empty trigger", r.ID)
	case r.Limit < 0:
		return fmt.Errorf("%s: negative limit", r.ID)
	case r.Target != nil && *r.Target < 1:
		return fmt.Errorf("%s: target must be >= 1", r.ID)
	case r.CooldownMinutes != nil && *r.CooldownMinutes < 1:
		return fmt.Errorf("%s: cooldownMinutes must be >= 1", r.ID)
	case r.Rewards.XP < 0:
		return fmt.Errorf("%s: negative xp reward", r.ID)
	}
	for i, cond := range r.Conditions {
		if !cond.Operator.Valid() {
			return fmt.Errorf("%s: condition %d: unknown operator %q", r.ID, i, cond.Operator)
		}
		if cond.Field.Root != RootMetadata && cond.Field.Root != RootUser {
			return fmt.Errorf("%s: condition %d: %w", r.ID, i, ErrInvalidField)
		}
	}
	return nil
}

// Version returns the catalog version label.
func (c *Catalog) Version() string { return c.version }

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Rules returns a copy of every rule in catalog order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.clone()
	}
	return out
}

// ForTrigger returns copies of the rules whose trigger equals name, in
// catalog order.
func (c *Catalog) ForTrigger(name string) []Rule {
	idx := c.byTrigger[name]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Rule, len(idx))
	for i, j := range idx {
		out[i] = c.rules[j].clone()
	}
	return out
}

// Rule looks a rule up by id.
func (c *Catalog) Rule(id string) (Rule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i].clone(), true
}
