package ruleoracle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type RuleSet struct {
	Collections []Collection `yaml:"collections"`
}

// Collection is a named group of CEL expressions. Every expression must
// evaluate to true for the collection to pass.
type Collection struct {
	ID    int64    `yaml:"id"`
	Name  string   `yaml:"name"`
	Rules []string `yaml:"rules"`
}

func LoadRules(path string) (RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

func ParseRules(raw []byte) (RuleSet, error) {
	var set RuleSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return RuleSet{}, fmt.Errorf("parse rules: %w", err)
	}
	seen := make(map[int64]bool, len(set.Collections))
	for _, c := range set.Collections {
		if c.ID <= 0 {
			return RuleSet{}, fmt.Errorf("collection %q: id must be positive", c.Name)
		}
		if seen[c.ID] {
			return RuleSet{}, fmt.Errorf("collection %d defined twice", c.ID)
		}
		seen[c.ID] = true
	}
	return set, nil
}
