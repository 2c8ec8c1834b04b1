package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harun/toolguard/internal/config"
	"github.com/harun/toolguard/internal/logger"
	"github.com/harun/toolguard/internal/observability"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "toolguard",
	Short: "Toolguard - governed execution of functions and tools",
	Long: `Toolguard registers functions and tools and runs them inside a sandbox
under a security policy. Every call is permission checked, rate limited,
schema validated and held to memory, CPU and bandwidth limits.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.toolguard/toolguard.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads and validates the config, applying the --log-level flag
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the global logger and the audit log. The returned
// function closes both.
func setupLogging(cfg *config.Config, cmd *cobra.Command) (*logger.Logger, func(), error) {
	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if path := cfg.Security.AuditFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			lg.Close()
			return nil, nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		if err := observability.InitAuditLogger(path); err != nil {
			lg.Close()
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	return lg, func() {
		if a := observability.SetAuditLogger(nil); a != nil {
			_ = a.Close()
		}
		_ = lg.Close()
	}, nil
}
