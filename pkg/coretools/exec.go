package coretools

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/schema"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

func execTool(opts Options) toolexecutor.ToolDefinition {
	perms := workspaceRule(opts.WorkspaceRoot, sandbox.OpExec)
	if len(opts.AllowedCommands) > 0 {
		if perms == nil {
			perms = &sandbox.PermissionSet{}
		}
		perms.Executables = append([]string(nil), opts.AllowedCommands...)
		perms.Environment = append([]string(nil), opts.AllowedEnv...)
	}

	return toolexecutor.ToolDefinition{
		Name:        "exec",
		Description: "Run an allow-listed command in the workspace.",
		Parameters: schema.Object(
			schema.Required("command", schema.String("Command to execute")),
			schema.Optional("args", schema.Array(schema.String("argument"))),
			schema.Optional("cwd", schema.String("Working directory, relative to the workspace")),
			schema.Optional("env", &schema.Schema{Type: schema.TypeObject, AdditionalProperties: true}),
			schema.Optional("stdin", schema.String("Standard input")),
		),
		Permissions: perms,
		Timeout:     defaultExecTimeout,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command, _ := params["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, fmt.Errorf("command is required")
			}

			req := sandbox.ExecRequest{
				Command: command,
				Args:    toStringSlice(params["args"]),
				Env:     toStringMap(params["env"]),
			}
			if strings.TrimSpace(opts.WorkspaceRoot) != "" {
				cwd, _ := params["cwd"].(string)
				if strings.TrimSpace(cwd) == "" {
					cwd = "."
				}
				dir, err := resolvePathInWorkspace(opts.WorkspaceRoot, cwd)
				if err != nil {
					return nil, err
				}
				req.WorkingDir = dir
			}
			if stdin, ok := params["stdin"].(string); ok && stdin != "" {
				req.Stdin = []byte(stdin)
			}

			res, err := sandbox.Exec(ctx, req)
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"stdout":    string(res.Stdout),
				"stderr":    string(res.Stderr),
				"exit_code": res.ExitCode,
				"duration":  res.Duration.Milliseconds(),
			}, nil
		},
	}
}
