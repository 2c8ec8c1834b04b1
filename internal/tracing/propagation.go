package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.ExecutionID != "" {
		logger = logger.With().Str("execution_id", tc.ExecutionID).Logger()
	}
	if tc.ParentExecutionID != "" {
		logger = logger.With().Str("parent_execution_id", tc.ParentExecutionID).Logger()
	}
	if tc.Principal != "" {
		logger = logger.With().Str("principal", tc.Principal).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a background context that keeps ctx's tracing values but not
// its deadline or cancellation.
func Detach(ctx context.Context) context.Context {
	out := context.Background()
	tc := FromContext(ctx)
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.ParentExecutionID != "" {
		out = context.WithValue(out, ParentExecutionKey, tc.ParentExecutionID)
	}
	if tc.ExecutionID != "" {
		out = context.WithValue(out, ExecutionIDKey, tc.ExecutionID)
	}
	if tc.Principal != "" {
		out = WithPrincipal(out, tc.Principal)
	}
	return out
}
