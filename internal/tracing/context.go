package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ExecutionIDKey is the context key for the id of one function or tool execution
	ExecutionIDKey ContextKey = "execution_id"
	// PrincipalKey is the context key for the calling principal id
	PrincipalKey ContextKey = "principal"
	// ParentExecutionKey is the context key for the execution that spawned a nested call
	ParentExecutionKey ContextKey = "parent_execution_id"
)

const executionIDSize = 12

// TraceContext holds tracing information
type TraceContext struct {
	TraceID           string
	ExecutionID       string
	ParentExecutionID string
	Principal         string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewExecutionID generates a short execution ID
func NewExecutionID() string {
	id, err := gonanoid.New(executionIDSize)
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithExecutionID adds an execution ID to the context. An execution ID already
// present becomes the parent.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	if parent := GetExecutionID(ctx); parent != "" && parent != executionID {
		ctx = context.WithValue(ctx, ParentExecutionKey, parent)
	}
	return context.WithValue(ctx, ExecutionIDKey, executionID)
}

// WithPrincipal adds the calling principal to the context
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetExecutionID retrieves the execution ID from the context
func GetExecutionID(ctx context.Context) string {
	if id, ok := ctx.Value(ExecutionIDKey).(string); ok {
		return id
	}
	return ""
}

// GetParentExecutionID retrieves the parent execution ID from the context
func GetParentExecutionID(ctx context.Context) string {
	if id, ok := ctx.Value(ParentExecutionKey).(string); ok {
		return id
	}
	return ""
}

// GetPrincipal retrieves the principal from the context
func GetPrincipal(ctx context.Context) string {
	if p, ok := ctx.Value(PrincipalKey).(string); ok {
		return p
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:           GetTraceID(ctx),
		ExecutionID:       GetExecutionID(ctx),
		ParentExecutionID: GetParentExecutionID(ctx),
		Principal:         GetPrincipal(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewExecutionContext tags ctx with a fresh execution ID, creating a trace ID
// when none is present, and returns the execution ID.
func NewExecutionContext(ctx context.Context) (context.Context, string) {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	id := NewExecutionID()
	return WithExecutionID(ctx, id), id
}
