package toolexecutor

import "context"

// Invocation identifies the definition a handler is running for
type Invocation struct {
	ID   string
	Kind Kind
	Name string
}

type invocationKey struct{}

// ContextWithInvocation attaches the invocation to a context.Context for handlers.
func ContextWithInvocation(ctx context.Context, inv Invocation) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext extracts the invocation from a context.Context.
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	if ctx == nil {
		return Invocation{}, false
	}
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
