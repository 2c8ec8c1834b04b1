package coretools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolguard/pkg/fault"
	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/security"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

func setup(t *testing.T, opts Options) *toolexecutor.Executor {
	t.Helper()

	policy := security.NewPolicy(security.Context{
		Principal: security.Principal{ID: "tester"},
		Checker:   security.AllowAll,
	}, security.WithAudit(false))

	reg := toolexecutor.NewRegistry(toolexecutor.DefaultRegistryConfig(), policy)
	require.NoError(t, RegisterCoreTools(context.Background(), reg, opts))

	cfg := sandbox.DefaultConfig()
	cfg.MonitorInterval = 2 * time.Millisecond
	sb, err := sandbox.New(cfg)
	require.NoError(t, err)

	exec, err := toolexecutor.NewExecutor(toolexecutor.DefaultExecutorConfig(), policy, sb, toolexecutor.WithRegistry(reg))
	require.NoError(t, err)
	return exec
}

func TestRegisterCoreTools(t *testing.T) {
	policy := security.NewPolicy(security.Context{Principal: security.Principal{ID: "tester"}, Checker: security.AllowAll})
	reg := toolexecutor.NewRegistry(toolexecutor.DefaultRegistryConfig(), policy)

	require.NoError(t, RegisterCoreTools(context.Background(), reg, Options{}))

	assert.Equal(t, []string{"echo", "json_get", "uppercase"}, reg.ListFunctions())
	assert.Equal(t, []string{"env_lookup", "exec", "http_head", "read_file", "write_file"}, reg.ListTools())

	err := RegisterCoreTools(context.Background(), reg, Options{})
	assert.Error(t, err)
	assert.Error(t, RegisterCoreTools(context.Background(), nil, Options{}))
}

func TestUppercase(t *testing.T) {
	exec := setup(t, Options{})

	res := exec.ExecuteByName(context.Background(), "uppercase", []interface{}{"hello"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "HELLO", res.Result)
	assert.Equal(t, int64(5), res.Metrics.MemoryUsage)
}

func TestEcho(t *testing.T) {
	exec := setup(t, Options{})

	res := exec.ExecuteByName(context.Background(), "echo", []interface{}{map[string]interface{}{"k": "v"}})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]interface{}{"k": "v"}, res.Result)
}

func TestJSONGet(t *testing.T) {
	exec := setup(t, Options{})
	doc := `{"items":[{"name":"alpha"},{"name":"beta","size":2}]}`

	tests := []struct {
		name    string
		path    string
		want    interface{}
		wantErr string
	}{
		{name: "string", path: "items.1.name", want: "beta"},
		{name: "number", path: "items.1.size", want: float64(2)},
		{name: "count", path: "items.#", want: float64(2)},
		{name: "missing", path: "items.5.name", wantErr: "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := exec.ExecuteByName(context.Background(), "json_get", []interface{}{doc, tt.path})
			if tt.wantErr != "" {
				assert.False(t, res.Success)
				assert.Contains(t, res.Error, tt.wantErr)
				return
			}
			require.True(t, res.Success, res.Error)
			assert.Equal(t, tt.want, res.Result)
		})
	}

	res := exec.ExecuteByName(context.Background(), "json_get", []interface{}{"{not json", "a"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not valid JSON")
}

func TestReadWriteFile(t *testing.T) {
	root := t.TempDir()
	exec := setup(t, Options{WorkspaceRoot: root})
	ctx := context.Background()

	res := exec.ExecuteToolByName(ctx, "write_file", map[string]interface{}{"path": "notes/a.txt", "content": "hello"})
	require.True(t, res.Success, res.Error)

	res = exec.ExecuteToolByName(ctx, "write_file", map[string]interface{}{"path": "notes/a.txt", "content": " world", "append": true})
	require.True(t, res.Success, res.Error)

	res = exec.ExecuteToolByName(ctx, "read_file", map[string]interface{}{"path": "notes/a.txt"})
	require.True(t, res.Success, res.Error)
	out := res.Result.(map[string]interface{})
	assert.Equal(t, "hello world", out["content"])
	assert.Equal(t, false, out["truncated"])

	res = exec.ExecuteToolByName(ctx, "read_file", map[string]interface{}{"path": "notes/a.txt", "max_bytes": 5})
	require.True(t, res.Success, res.Error)
	out = res.Result.(map[string]interface{})
	assert.Equal(t, "hello", out["content"])
	assert.Equal(t, true, out["truncated"])
}

func TestReadFile_OutsideWorkspaceDenied(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0600))
	exec := setup(t, Options{WorkspaceRoot: root})

	for _, path := range []string{outside, "../" + filepath.Base(filepath.Dir(outside)) + "/secret.txt"} {
		res := exec.ExecuteToolByName(context.Background(), "read_file", map[string]interface{}{"path": path})
		assert.False(t, res.Success)
		assert.Equal(t, fault.KindSecurity, res.Kind, res.Error)
	}
}

func TestFileTools_SymlinksResolvedBeforeGrant(t *testing.T) {
	root := t.TempDir()
	outsideDir := t.TempDir()
	secret := filepath.Join(outsideDir, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "inside.txt"), []byte("inside"), 0644))

	require.NoError(t, os.Symlink(secret, filepath.Join(root, "leak.txt")))
	require.NoError(t, os.Symlink(outsideDir, filepath.Join(root, "outdir")))
	require.NoError(t, os.Symlink(filepath.Join(outsideDir, "planted.txt"), filepath.Join(root, "dangling.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "inside.txt"), filepath.Join(root, "alias.txt")))

	exec := setup(t, Options{WorkspaceRoot: root})
	ctx := context.Background()

	res := exec.ExecuteToolByName(ctx, "read_file", map[string]interface{}{"path": "leak.txt"})
	assert.False(t, res.Success)
	assert.Equal(t, fault.KindSecurity, res.Kind, res.Error)

	res = exec.ExecuteToolByName(ctx, "write_file", map[string]interface{}{"path": "outdir/new.txt", "content": "x"})
	assert.False(t, res.Success)
	assert.Equal(t, fault.KindSecurity, res.Kind, res.Error)
	assert.NoFileExists(t, filepath.Join(outsideDir, "new.txt"))

	res = exec.ExecuteToolByName(ctx, "write_file", map[string]interface{}{"path": "dangling.txt", "content": "x"})
	assert.False(t, res.Success)
	assert.NoFileExists(t, filepath.Join(outsideDir, "planted.txt"))

	// links that stay inside the workspace keep working
	res = exec.ExecuteToolByName(ctx, "read_file", map[string]interface{}{"path": "alias.txt"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "inside", res.Result.(map[string]interface{})["content"])
}

func TestRealPath(t *testing.T) {
	root := t.TempDir()
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	got, err := realPath(filepath.Join(root, "not", "yet", "there.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolved, "not", "yet", "there.txt"), got)
}

func TestReadFile_NoWorkspaceDenied(t *testing.T) {
	exec := setup(t, Options{})

	res := exec.ExecuteToolByName(context.Background(), "read_file", map[string]interface{}{"path": "/etc/hostname"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "workspace root is not configured")
}

func TestEnvLookup(t *testing.T) {
	t.Setenv("TOOLGUARD_CORETOOLS_TEST", "yes")
	exec := setup(t, Options{AllowedEnv: []string{"TOOLGUARD_*"}})

	res := exec.ExecuteToolByName(context.Background(), "env_lookup", map[string]interface{}{"name": "TOOLGUARD_CORETOOLS_TEST"})
	require.True(t, res.Success, res.Error)
	out := res.Result.(map[string]interface{})
	assert.Equal(t, "yes", out["value"])
	assert.Equal(t, true, out["set"])

	res = exec.ExecuteToolByName(context.Background(), "env_lookup", map[string]interface{}{"name": "PATH"})
	assert.False(t, res.Success)
	assert.Equal(t, fault.KindSecurity, res.Kind)
}

func TestHTTPHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("X-Test", "ok")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	exec := setup(t, Options{AllowedHosts: []string{"127.0.0.1"}})

	res := exec.ExecuteToolByName(context.Background(), "http_head", map[string]interface{}{"url": server.URL + "/health"})
	require.True(t, res.Success, res.Error)
	out := res.Result.(map[string]interface{})
	assert.Equal(t, http.StatusNoContent, out["status"])
	assert.Equal(t, "ok", out["headers"].(map[string]interface{})["X-Test"])
}

func TestHTTPHead_DeniedByDefault(t *testing.T) {
	exec := setup(t, Options{})

	res := exec.ExecuteToolByName(context.Background(), "http_head", map[string]interface{}{"url": "http://example.com"})
	assert.False(t, res.Success)
	assert.Equal(t, fault.KindSecurity, res.Kind)

	res = exec.ExecuteToolByName(context.Background(), "http_head", map[string]interface{}{"url": "ftp://example.com"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unsupported scheme")
}

func TestExecTool(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	root := t.TempDir()
	executor := setup(t, Options{WorkspaceRoot: root, AllowedCommands: []string{"echo"}})

	res := executor.ExecuteToolByName(context.Background(), "exec", map[string]interface{}{
		"command": "echo",
		"args":    []interface{}{"governed"},
	})
	require.True(t, res.Success, res.Error)
	out := res.Result.(map[string]interface{})
	assert.Equal(t, "governed", strings.TrimSpace(out["stdout"].(string)))
	assert.Equal(t, 0, out["exit_code"])

	res = executor.ExecuteToolByName(context.Background(), "exec", map[string]interface{}{"command": "rm"})
	assert.False(t, res.Success)
	assert.Equal(t, fault.KindSecurity, res.Kind)
}
