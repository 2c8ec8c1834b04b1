package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/toolguard/pkg/fault"
)

// ExecRequest describes a child process started from a sandboxed handler
type ExecRequest struct {
	// Command is the executable, matched against the Executables allow-list
	Command string `json:"command"`

	// Args are the command arguments
	Args []string `json:"args"`

	// Env are environment variables; every key must be allow-listed
	Env map[string]string `json:"env"`

	// WorkingDir must be granted the exec op when set
	WorkingDir string `json:"working_dir"`

	// Stdin is the standard input
	Stdin []byte `json:"stdin"`
}

// ExecResult represents a finished child process
type ExecResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Exec runs a child process on behalf of the sandboxed call in ctx. The process
// is killed when the call's ctx is cancelled, which makes it the one kind of
// work the CPU ceiling can actually stop. Output counts toward bandwidth.
func Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	ec := FromContext(ctx)
	if ec == nil {
		return ExecResult{}, &fault.Error{Kind: fault.KindSecurity, Op: "exec", Msg: req.Command, Err: ErrNoExecutionContext}
	}

	if err := ec.CheckExec(req.Command); err != nil {
		return ExecResult{}, err
	}
	if req.WorkingDir != "" {
		if err := ec.CheckPath(req.WorkingDir, OpExec); err != nil {
			return ExecResult{}, err
		}
	}
	for key := range req.Env {
		if err := ec.CheckEnv(key); err != nil {
			return ExecResult{}, err
		}
	}

	path, err := lookExecutable(req.Command)
	if err != nil {
		return ExecResult{}, err
	}

	cmd := exec.CommandContext(ctx, path, req.Args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = buildEnvironment(req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	result := ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}

	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, contextError(ctx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fault.Runtime("exec", fmt.Errorf("%s: %w", req.Command, err))
		}
		result.ExitCode = exitErr.ExitCode()
	}

	if err := Transfer(ctx, int64(len(result.Stdout)+len(result.Stderr))); err != nil {
		return result, err
	}

	log.Debug().
		Str("command", req.Command).
		Str("path", path).
		Strs("args", req.Args).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Str("execution_id", ec.ID()).
		Msg("Command executed in sandbox")

	return result, nil
}

// sandboxPath is the only search path for bare command names, both when
// resolving the executable and inside the child's environment
const sandboxPath = "/usr/local/bin:/usr/bin:/bin"

// lookExecutable resolves command to the binary that will run. Bare names are
// searched on sandboxPath only, never on the host's PATH or the working dir.
func lookExecutable(command string) (string, error) {
	if strings.ContainsRune(command, filepath.Separator) {
		path, err := exec.LookPath(filepath.Clean(command))
		if err != nil {
			return "", fault.Validation("exec", "%s is not executable: %v", command, err)
		}
		return path, nil
	}
	for _, dir := range filepath.SplitList(sandboxPath) {
		if path, err := exec.LookPath(filepath.Join(dir, command)); err == nil {
			return path, nil
		}
	}
	return "", fault.Validation("exec", "%s not found in %s", command, sandboxPath)
}

// buildEnvironment builds a minimal environment for the child process
func buildEnvironment(env map[string]string) []string {
	result := []string{
		"PATH=" + sandboxPath,
		"HOME=/tmp",
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		result = append(result, fmt.Sprintf("%s=%s", key, env[key]))
	}

	return result
}
