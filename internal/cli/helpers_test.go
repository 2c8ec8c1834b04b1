package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a config that keeps every artifact under a temp dir
func writeTestConfig(t *testing.T, overrides map[string]interface{}) (string, string) {
	t.Helper()

	dir := t.TempDir()
	workspace := filepath.Join(dir, "workspace")
	require.NoError(t, os.MkdirAll(workspace, 0755))

	cfg := map[string]interface{}{
		"data_dir": dir,
		"logging":  map[string]interface{}{"level": "error"},
		"security": map[string]interface{}{
			"principal":  map[string]interface{}{"id": "cli-test", "roles": []string{"operator"}},
			"audit_file": filepath.Join(dir, "audit.log"),
		},
		"metrics":    map[string]interface{}{"enabled": false},
		"report":     map[string]interface{}{"enabled": false},
		"core_tools": map[string]interface{}{"enabled": true, "workspace_root": workspace},
	}
	for k, v := range overrides {
		cfg[k] = v
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "toolguard.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, workspace
}

// resetFlags restores every flag so state does not leak between runs
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := GetRootCmd()
	resetFlags(cmd)
	t.Cleanup(func() { resetFlags(cmd) })

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
