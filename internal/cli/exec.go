package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harun/toolguard/internal/tracing"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

var (
	execArgs   string
	execParams string
)

var execCmd = &cobra.Command{
	Use:   "exec NAME",
	Short: "Execute a function or tool",
	Long: `Execute a registered function with positional --args, or a tool with
named --params. The result is printed as JSON; a failed execution exits
non-zero.`,
	Example: `  toolguard exec uppercase --args '["hello"]'
  toolguard exec read_file --params '{"path": "notes.txt"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execArgs, "args", "", "JSON array of positional arguments")
	execCmd.Flags().StringVar(&execParams, "params", "", "JSON object of named parameters")
	execCmd.MarkFlagsMutuallyExclusive("args", "params")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, cleanup, err := setupLogging(cfg, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	// one trace for the whole invocation, including registration of core tools
	ctx := tracing.NewRequestContext(cmd.Context())

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.close(ctx)

	res, err := dispatch(ctx, eng, name)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s in %s, %s accounted (trace %s)\n",
		statusWord(res.Success), res.Metrics.ExecutionTime, humanize.IBytes(uint64(res.Metrics.MemoryUsage)),
		tracing.GetTraceID(ctx))

	if !res.Success {
		return fmt.Errorf("execution of %s failed (%s)", name, res.Kind)
	}
	return nil
}

// dispatch picks a function or tool by name and decodes the matching flag
func dispatch(ctx context.Context, eng *engine, name string) (toolexecutor.ExecutionResult, error) {
	if _, err := eng.registry.GetFunction(name); err == nil {
		if execParams != "" {
			return toolexecutor.ExecutionResult{}, fmt.Errorf("%s is a function; pass --args", name)
		}
		var positional []interface{}
		if execArgs != "" {
			if err := json.Unmarshal([]byte(execArgs), &positional); err != nil {
				return toolexecutor.ExecutionResult{}, fmt.Errorf("--args must be a JSON array: %w", err)
			}
		}
		return eng.executor.ExecuteByName(ctx, name, positional), nil
	}

	if execArgs != "" {
		if _, err := eng.registry.GetTool(name); err == nil {
			return toolexecutor.ExecutionResult{}, fmt.Errorf("%s is a tool; pass --params", name)
		}
	}
	var params map[string]interface{}
	if execParams != "" {
		if err := json.Unmarshal([]byte(execParams), &params); err != nil {
			return toolexecutor.ExecutionResult{}, fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}
	return eng.executor.ExecuteToolByName(ctx, name, params), nil
}

func statusWord(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}
