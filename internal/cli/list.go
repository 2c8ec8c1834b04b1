package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered functions and tools",
	Long: `List every registered function and tool with its limits.
Limits shown as "default" fall back to the executor settings.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print definitions as JSON")
	rootCmd.AddCommand(listCmd)
}

type listing struct {
	Functions []toolexecutor.FunctionDefinition `json:"functions"`
	Tools     []toolexecutor.ToolDefinition     `json:"tools"`
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, cleanup, err := setupLogging(cfg, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := newEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer eng.close(cmd.Context())

	var l listing
	for _, name := range eng.registry.ListFunctions() {
		def, err := eng.registry.GetFunction(name)
		if err != nil {
			return err
		}
		l.Functions = append(l.Functions, def)
	}
	for _, name := range eng.registry.ListTools() {
		def, err := eng.registry.GetTool(name)
		if err != nil {
			return err
		}
		l.Tools = append(l.Tools, def)
	}

	if listJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	}
	return writeListing(cmd.OutOrStdout(), l)
}

func writeListing(out io.Writer, l listing) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tMEMORY\tCPU\tDESCRIPTION")
	for _, def := range l.Functions {
		mem, cpu := limitColumns(def.Limits, def.Timeout)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Name, toolexecutor.KindFunction, mem, cpu, def.Description)
	}
	for _, def := range l.Tools {
		mem, cpu := limitColumns(def.Limits, def.Timeout)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Name, toolexecutor.KindTool, mem, cpu, def.Description)
	}
	return w.Flush()
}

func limitColumns(limits *sandbox.Limits, timeout time.Duration) (string, string) {
	mem, cpu := "default", "default"
	if limits != nil {
		if limits.Memory > 0 {
			mem = humanize.IBytes(uint64(limits.Memory))
		}
		if limits.CPU > 0 {
			cpu = limits.CPU.String()
		}
	}
	if timeout > 0 {
		l := sandbox.Limits{}
		if limits != nil {
			l = *limits
		}
		cpu = l.Tighten(timeout).CPU.String()
	}
	return mem, cpu
}
