// Package security enforces permissions and rate limits against an externally
// supplied security context.
//
// A Policy owns a bounded decision cache keyed by "action:resource" and one
// sliding window of timestamps per rate-limited action. Both live on the
// instance, so tests isolate by creating a fresh Policy.
//
// Usage:
//
//	policy := security.NewPolicy(security.Context{
//		Principal: security.Principal{ID: "agent-1", Roles: []string{"operator"}},
//		Checker:   checker,
//	})
//	if err := policy.EnforcePermissions(ctx, "execute_tool", "read_file", nil); err != nil {
//		return err
//	}
//	if err := policy.EnforceRateLimit("execute_tool:read_file", 10, time.Minute); err != nil {
//		return err
//	}
package security
