package security

import (
	"context"
	"time"
)

// Principal identifies the caller on whose behalf actions run
type Principal struct {
	ID    string   `json:"id" mapstructure:"id"`
	Roles []string `json:"roles,omitempty" mapstructure:"roles"`
}

// HasRole reports whether the principal carries role
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PermissionChecker decides whether an action is allowed. attrs always carries
// "resource" and "principal" plus the context values and call attributes.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, action string, attrs map[string]interface{}) (bool, error)
}

// PermissionCheckerFunc adapts a function to PermissionChecker
type PermissionCheckerFunc func(ctx context.Context, action string, attrs map[string]interface{}) (bool, error)

// CheckPermission calls f
func (f PermissionCheckerFunc) CheckPermission(ctx context.Context, action string, attrs map[string]interface{}) (bool, error) {
	return f(ctx, action, attrs)
}

// AllowAll permits every action
var AllowAll = PermissionCheckerFunc(func(context.Context, string, map[string]interface{}) (bool, error) {
	return true, nil
})

// Context is the externally supplied security context a Policy evaluates against.
// Scope restricts resources by prefix; empty or "*" is unrestricted.
type Context struct {
	Principal Principal
	Scope     string
	Values    map[string]interface{}
	Timestamp time.Time
	Checker   PermissionChecker
}

// HasPrincipal reports whether the context identifies a caller
func (c Context) HasPrincipal() bool {
	return c.Principal.ID != ""
}

func (c Context) clone() Context {
	out := c
	if c.Principal.Roles != nil {
		out.Principal.Roles = append([]string(nil), c.Principal.Roles...)
	}
	if c.Values != nil {
		out.Values = make(map[string]interface{}, len(c.Values))
		for k, v := range c.Values {
			out.Values[k] = v
		}
	}
	return out
}
