package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolguard/pkg/fault"
)

func TestExec_RequiresExecutionContext(t *testing.T) {
	_, err := Exec(context.Background(), ExecRequest{Command: "echo"})
	assert.ErrorIs(t, err, ErrNoExecutionContext)
	assert.True(t, fault.IsKind(err, fault.KindSecurity))
}

func TestExec_DeniedWithoutGrant(t *testing.T) {
	sb := newTestSandbox(t)

	_, err := sb.Execute(context.Background(), func(ctx context.Context, _ interface{}) (interface{}, error) {
		res, err := Exec(ctx, ExecRequest{Command: "echo", Args: []string{"hi"}})
		return res, err
	}, nil, nil, Limits{CPU: time.Second})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessAccessDenied)
	assert.True(t, fault.IsKind(err, fault.KindSecurity))
}

func TestExec_EnvMustBeAllowed(t *testing.T) {
	sb := newTestSandbox(t)
	perms := &PermissionSet{Executables: []string{"echo"}}

	_, err := sb.Execute(context.Background(), func(ctx context.Context, _ interface{}) (interface{}, error) {
		return Exec(ctx, ExecRequest{Command: "echo", Env: map[string]string{"SECRET": "x"}})
	}, nil, perms, Limits{CPU: time.Second})

	assert.ErrorIs(t, err, ErrEnvironmentAccessDenied)
}

func TestExec_RunsAllowedCommand(t *testing.T) {
	if _, err := lookExecutable("echo"); err != nil {
		t.Skip("echo not available")
	}

	sb := newTestSandbox(t)
	perms := &PermissionSet{Executables: []string{"echo"}}

	res, err := sb.Execute(context.Background(), func(ctx context.Context, _ interface{}) (interface{}, error) {
		return Exec(ctx, ExecRequest{Command: "echo", Args: []string{"hello", "sandbox"}})
	}, nil, perms, Limits{CPU: 5 * time.Second})

	require.NoError(t, err)
	out := res.Value.(ExecResult)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "hello sandbox", strings.TrimSpace(string(out.Stdout)))
	assert.Equal(t, int64(len(out.Stdout)), res.Bandwidth)
}

func TestExec_KilledByCPULimit(t *testing.T) {
	if _, err := lookExecutable("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	sb := newTestSandbox(t)
	perms := &PermissionSet{Executables: []string{"sleep"}}

	start := time.Now()
	res, err := sb.Execute(context.Background(), func(ctx context.Context, _ interface{}) (interface{}, error) {
		return Exec(ctx, ExecRequest{Command: "sleep", Args: []string{"10"}})
	}, nil, perms, Limits{CPU: 50 * time.Millisecond})

	require.Error(t, err)
	assert.Contains(t, err.Error(), MsgCPULimitExceeded)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func writeImpostor(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho IMPOSTOR RAN\n"), 0755))
	return dir
}

func TestExec_BareGrantDoesNotAdmitOtherPaths(t *testing.T) {
	dir := writeImpostor(t, "echo")
	sb := newTestSandbox(t)
	perms := &PermissionSet{Executables: []string{"echo"}}

	_, err := sb.Execute(context.Background(), func(ctx context.Context, _ interface{}) (interface{}, error) {
		return Exec(ctx, ExecRequest{Command: filepath.Join(dir, "echo")})
	}, nil, perms, Limits{CPU: 5 * time.Second})

	assert.ErrorIs(t, err, ErrProcessAccessDenied)
}

func TestExec_BareNameIgnoresHostPath(t *testing.T) {
	if _, err := lookExecutable("echo"); err != nil {
		t.Skip("echo not available")
	}
	dir := writeImpostor(t, "echo")
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	sb := newTestSandbox(t)
	perms := &PermissionSet{Executables: []string{"echo"}}

	res, err := sb.Execute(context.Background(), func(ctx context.Context, _ interface{}) (interface{}, error) {
		return Exec(ctx, ExecRequest{Command: "echo", Args: []string{"genuine"}})
	}, nil, perms, Limits{CPU: 5 * time.Second})

	require.NoError(t, err)
	assert.Equal(t, "genuine", strings.TrimSpace(string(res.Value.(ExecResult).Stdout)))
}

func TestLookExecutable(t *testing.T) {
	_, err := lookExecutable("definitely-not-a-command")
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	_, err = lookExecutable(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestBuildEnvironment_Sorted(t *testing.T) {
	env := buildEnvironment(map[string]string{"B": "2", "A": "1"})

	assert.Equal(t, []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=/tmp", "A=1", "B=2"}, env)
}
