package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

func TestListCommand(t *testing.T) {
	path, _ := writeTestConfig(t, nil)

	t.Run("table", func(t *testing.T) {
		out, _, err := runCLI(t, "--config", path, "list")
		require.NoError(t, err)

		assert.Contains(t, out, "NAME")
		assert.Contains(t, out, "uppercase")
		assert.Contains(t, out, "read_file")
		assert.Contains(t, out, "tool")
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := runCLI(t, "--config", path, "list", "--json")
		require.NoError(t, err)

		var l struct {
			Functions []map[string]interface{} `json:"functions"`
			Tools     []map[string]interface{} `json:"tools"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &l))
		assert.Len(t, l.Functions, 3)
		assert.Len(t, l.Tools, 5)
		assert.Equal(t, "echo", l.Functions[0]["name"])
	})

	t.Run("core tools disabled", func(t *testing.T) {
		path, _ := writeTestConfig(t, map[string]interface{}{"core_tools": map[string]interface{}{"enabled": false}})

		out, _, err := runCLI(t, "--config", path, "list", "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"functions": null`)
	})
}

func TestLimitColumns(t *testing.T) {
	tests := []struct {
		name    string
		limits  *sandbox.Limits
		timeout time.Duration
		mem     string
		cpu     string
	}{
		{name: "defaults", mem: "default", cpu: "default"},
		{name: "explicit", limits: &sandbox.Limits{Memory: 2 << 20, CPU: 5 * time.Second}, mem: "2.0 MiB", cpu: "5s"},
		{name: "timeout tightens", limits: &sandbox.Limits{CPU: 5 * time.Second}, timeout: time.Second, mem: "default", cpu: "1s"},
		{name: "timeout only", timeout: 2 * time.Second, mem: "default", cpu: "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, cpu := limitColumns(tt.limits, tt.timeout)
			assert.Equal(t, tt.mem, mem)
			assert.Equal(t, tt.cpu, cpu)
		})
	}
}

func TestWriteListing(t *testing.T) {
	var buf bytes.Buffer
	err := writeListing(&buf, listing{
		Functions: []toolexecutor.FunctionDefinition{{Name: "f", Description: "fn"}},
		Tools:     []toolexecutor.ToolDefinition{{Name: "t", Description: "tl", Timeout: time.Second}},
	})
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[1]), "function")
	assert.Contains(t, string(lines[2]), "1s")
}
