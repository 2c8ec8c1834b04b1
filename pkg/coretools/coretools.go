package coretools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/schema"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

const (
	defaultMaxReadBytes = 200000
	defaultExecTimeout  = 30 * time.Second
)

// Options configures core tool registration. Each allow-list becomes the
// permission set of the tool that needs it; an empty list leaves that tool
// registered but denied at run time.
type Options struct {
	WorkspaceRoot   string
	AllowedHosts    []string
	AllowedEnv      []string
	AllowedCommands []string
}

// RegisterCoreTools registers the built-in functions and tools
func RegisterCoreTools(ctx context.Context, reg *toolexecutor.Registry, opts Options) error {
	if reg == nil {
		return errors.New("registry is required")
	}

	for _, fn := range Functions() {
		if err := reg.RegisterFunction(ctx, fn); err != nil {
			return fmt.Errorf("failed to register function %s: %w", fn.Name, err)
		}
	}
	for _, tool := range Tools(opts) {
		if err := reg.RegisterTool(ctx, tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}

	log.Info().
		Int("functions", reg.FunctionCount()).
		Int("tools", reg.ToolCount()).
		Str("workspace", opts.WorkspaceRoot).
		Msg("Core tools registered")

	return nil
}

// Functions returns the built-in positional functions
func Functions() []toolexecutor.FunctionDefinition {
	return []toolexecutor.FunctionDefinition{
		uppercaseFunction(),
		echoFunction(),
		jsonGetFunction(),
	}
}

// Tools returns the built-in named-parameter tools
func Tools(opts Options) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		readFileTool(opts),
		writeFileTool(opts),
		envLookupTool(opts),
		httpHeadTool(opts),
		execTool(opts),
	}
}

func uppercaseFunction() toolexecutor.FunctionDefinition {
	return toolexecutor.FunctionDefinition{
		Name:        "uppercase",
		Description: "Convert text to upper case.",
		Parameters:  schema.Object(schema.Required("text", schema.String("Text to convert"))),
		Returns:     schema.String("Upper-cased text"),
		Handler: func(ctx context.Context, args []interface{}) (interface{}, error) {
			text, _ := args[0].(string)
			if err := sandbox.Allocate(ctx, int64(len(text))); err != nil {
				return nil, err
			}
			return strings.ToUpper(text), nil
		},
	}
}

func echoFunction() toolexecutor.FunctionDefinition {
	return toolexecutor.FunctionDefinition{
		Name:        "echo",
		Description: "Return the input unchanged.",
		Parameters:  schema.Object(schema.Required("value", schema.Any())),
		Handler: func(ctx context.Context, args []interface{}) (interface{}, error) {
			return args[0], nil
		},
	}
}

// workspaceRule grants ops on everything under the workspace root
func workspaceRule(root string, ops ...string) *sandbox.PermissionSet {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	if resolved, err := realPath(abs); err == nil {
		abs = resolved
	}
	pattern := filepath.ToSlash(abs)
	return &sandbox.PermissionSet{
		Filesystem: sandbox.FilesystemPermissions{
			Paths: []sandbox.PathRule{
				{Pattern: pattern, Ops: ops},
				{Pattern: strings.TrimSuffix(pattern, "/") + "/**", Ops: ops},
			},
		},
	}
}

func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	if strings.TrimSpace(workspaceRoot) == "" {
		return "", fmt.Errorf("workspace root is not configured")
	}
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", err
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	// grants are checked against where the path really leads
	return realPath(filepath.Clean(candidate))
}

// realPath resolves symlinks in p. Components that do not exist yet are kept
// as written under their nearest existing ancestor. A dangling symlink is an
// error because creating through it would land wherever it points.
func realPath(p string) (string, error) {
	cur, rest := p, ""
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			return "", fmt.Errorf("%s is a dangling symlink", cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

// executionContext returns the sandbox grants of the running call
func executionContext(ctx context.Context) (*sandbox.ExecutionContext, error) {
	ec := sandbox.FromContext(ctx)
	if ec == nil {
		return nil, sandbox.ErrNoExecutionContext
	}
	return ec, nil
}

func toStringSlice(value interface{}) []string {
	raw, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toStringMap(value interface{}) map[string]string {
	raw, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func toInt64(value interface{}, fallback int64) int64 {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return int64(v)
		}
	case int:
		if v > 0 {
			return int64(v)
		}
	case int64:
		if v > 0 {
			return v
		}
	}
	return fallback
}
