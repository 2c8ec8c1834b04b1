// Package toolexecutor registers function and tool definitions and executes
// them behind the security policy and inside the sandbox.
//
// Invariants:
// - Definition names are unique per kind and a registry never exceeds its capacity.
// - Registered definitions are copies; later edits by the caller do not leak in.
// - Arguments are schema-validated before the handler runs; a mismatch never invokes it.
// - Execution never returns a Go error. Every failure is an ExecutionResult with Success false.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry(toolexecutor.DefaultRegistryConfig(), policy)
//	_ = reg.RegisterFunction(ctx, toolexecutor.FunctionDefinition{
//		Name:        "uppercase",
//		Description: "Uppercase a string",
//		Parameters:  schema.Object(schema.Required("text", schema.String("input"))),
//		Handler: func(ctx context.Context, args []interface{}) (interface{}, error) {
//			return strings.ToUpper(args[0].(string)), nil
//		},
//	})
//	exec, _ := toolexecutor.NewExecutor(toolexecutor.DefaultExecutorConfig(), policy, sb, toolexecutor.WithRegistry(reg))
//	res := exec.ExecuteByName(ctx, "uppercase", []interface{}{"hi"})
package toolexecutor
