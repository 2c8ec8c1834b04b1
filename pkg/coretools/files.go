package coretools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/schema"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: schema.Object(
			schema.Required("path", schema.String("File path, relative to the workspace")),
			schema.Optional("max_bytes", schema.Integer("Maximum bytes to read (default 200000)")),
		),
		Permissions: workspaceRule(opts.WorkspaceRoot, sandbox.OpRead),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			ec, err := executionContext(ctx)
			if err != nil {
				return nil, err
			}
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}
			if err := ec.CheckPath(target, sandbox.OpRead); err != nil {
				return nil, err
			}

			data, truncated, err := readFileWithLimit(target, toInt64(params["max_bytes"], defaultMaxReadBytes))
			if err != nil {
				return nil, err
			}
			if err := sandbox.Allocate(ctx, int64(len(data))); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Parameters: schema.Object(
			schema.Required("path", schema.String("File path, relative to the workspace")),
			schema.Required("content", schema.String("File content")),
			schema.Optional("append", schema.Boolean("Append to file (default false)")),
		),
		Permissions: workspaceRule(opts.WorkspaceRoot, sandbox.OpWrite),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			ec, err := executionContext(ctx)
			if err != nil {
				return nil, err
			}
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}
			if err := ec.CheckPath(target, sandbox.OpWrite); err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)
			appendMode, _ := params["append"].(bool)

			if err := sandbox.Allocate(ctx, int64(len(content))); err != nil {
				return nil, err
			}
			defer sandbox.Free(ctx, int64(len(content)))

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}
			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if limit <= 0 {
		limit = defaultMaxReadBytes
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	truncated := false
	extra := make([]byte, 1)
	if n, _ := file.Read(extra); n > 0 {
		truncated = true
	}
	return buf.Bytes(), truncated, nil
}
