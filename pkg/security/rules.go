package security

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

// Rule grants or denies actions to a role. Patterns are globs over
// "action:resource", e.g. "execute_function:*" or "register_*:report_**".
// Role "*" applies to every principal.
type Rule struct {
	Role  string   `json:"role" mapstructure:"role" yaml:"role"`
	Allow []string `json:"allow" mapstructure:"allow" yaml:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny" yaml:"deny"`
}

// RuleChecker is a PermissionChecker driven by role rules. Deny overrides allow;
// anything not allowed is denied.
type RuleChecker struct {
	rules []Rule
}

// NewRuleChecker validates every pattern and returns a checker
func NewRuleChecker(rules []Rule) (*RuleChecker, error) {
	for i, r := range rules {
		if r.Role == "" {
			return nil, fmt.Errorf("rule %d: role is required", i)
		}
		for _, p := range append(append([]string{}, r.Allow...), r.Deny...) {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("rule %d (%s): invalid pattern %q", i, r.Role, p)
			}
		}
	}
	return &RuleChecker{rules: append([]Rule(nil), rules...)}, nil
}

// CheckPermission implements PermissionChecker
func (c *RuleChecker) CheckPermission(_ context.Context, action string, attrs map[string]interface{}) (bool, error) {
	resource, _ := attrs["resource"].(string)
	roles, _ := attrs["roles"].([]string)
	subject := action + ":" + resource

	allowed := false
	for _, r := range c.rules {
		if !appliesTo(r.Role, roles) {
			continue
		}
		if matchAny(r.Deny, subject) {
			log.Debug().
				Str("subject", subject).
				Str("role", r.Role).
				Msg("Denied by rule")
			return false, nil
		}
		if matchAny(r.Allow, subject) {
			allowed = true
		}
	}
	return allowed, nil
}

func appliesTo(role string, roles []string) bool {
	if role == "*" {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, subject string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if ok, _ := doublestar.Match(p, subject); ok {
			return true
		}
	}
	return false
}
