package security

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RulesFileVersion is the only rules file version understood
const RulesFileVersion = 1

type rulesFile struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// LoadRules reads role rules from a YAML file:
//
//	version: 1
//	rules:
//	  - role: operator
//	    allow: ["execute_*:*"]
//	    deny: ["execute_tool:exec"]
//
// Every pattern is validated before the rules are returned.
func LoadRules(path string) ([]Rule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRules(b)
}

// ParseRules decodes a YAML rules document
func ParseRules(data []byte) ([]Rule, error) {
	var raw rulesFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if raw.Version != RulesFileVersion {
		return nil, fmt.Errorf("unsupported rules version %d", raw.Version)
	}
	if _, err := NewRuleChecker(raw.Rules); err != nil {
		return nil, err
	}
	return raw.Rules, nil
}
