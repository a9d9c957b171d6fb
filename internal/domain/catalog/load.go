package catalog

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

//go:embed default_rules.yaml
var defaultRules []byte

// file layout, bit-compatible with the producer-facing catalog format
type rawCatalog struct {
	Version string    `koanf:"version"`
	Rules   []rawRule `koanf:"rules"`
}

type rawRule struct {
	ID              string         `koanf:"id"`
	Trigger         string         `koanf:"trigger"`
	Conditions      []rawCondition `koanf:"conditions"`
	Target          *int           `koanf:"target"`
	Limit           int            `koanf:"limit"`
	CooldownMinutes *int           `koanf:"cooldownMinutes"`
	Rewards         rawRewards     `koanf:"rewards"`
}

type rawCondition struct {
	Field    string `koanf:"field"`
	Operator string `koanf:"operator"`
	Value    any    `koanf:"value"`
}

type rawRewards struct {
	XP            int64  `koanf:"xp"`
	Badge         string `koanf:"badge"`
	UseMetadataXP bool   `koanf:"useMetadataXp"`
}

// bytesProvider serves an in-memory document to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) { return b, nil }

func (b bytesProvider) Read() (map[string]any, error) {
	return nil, fmt.Errorf("bytesProvider does not support Read")
}

// Load reads a YAML catalog from path. An empty path loads the embedded
// default catalog.
func Load(_ context.Context, path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return load(file.Provider(path), path)
}

// Parse decodes a YAML (or JSON, which is valid YAML) catalog document.
func Parse(data []byte) (*Catalog, error) {
	return load(bytesProvider(data), "inline")
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return load(bytesProvider(defaultRules), "default_rules.yaml")
}

func load(p koanf.Provider, source string) (*Catalog, error) {
	// a delimiter that cannot appear in keys keeps rule maps intact
	k := koanf.New("/")
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadCatalog, source, err)
	}

	var raw rawCatalog
	if err := k.UnmarshalWithConf("", &raw, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadCatalog, source, err)
	}

	rules := make([]Rule, 0, len(raw.Rules))
	for i, rr := range raw.Rules {
		r := Rule{
			ID:              rr.ID,
			Trigger:         rr.Trigger,
			Target:          rr.Target,
			Limit:           rr.Limit,
			CooldownMinutes: rr.CooldownMinutes,
			Rewards: Rewards{
				XP:            rr.Rewards.XP,
				Badge:         rr.Rewards.Badge,
				UseMetadataXP: rr.Rewards.UseMetadataXP,
			},
		}
		for j, rc := range rr.Conditions {
			f, err := ParseField(rc.Field)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: rule %d (%s) condition %d: %w", ErrInvalidCatalog, source, i, rr.ID, j, err)
			}
			r.Conditions = append(r.Conditions, Condition{Field: f, Operator: Operator(rc.Operator), Value: rc.Value})
		}
		rules = append(rules, r)
	}

	c, err := New(raw.Version, rules)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return c, nil
}
