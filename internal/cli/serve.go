package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harun/toolguard/internal/config"
	"github.com/harun/toolguard/internal/report"
	"github.com/harun/toolguard/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governance service in the foreground",
	Long: `Run the governance service in the foreground. It serves Prometheus
metrics and the governance report, sweeps idle resources, reloads the
security context when the config or rules file changes, and logs the
report on its schedule. SIGINT or SIGTERM shuts it down gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, cleanup, err := setupLogging(cfg, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	pidFile := getPIDFilePath(cfg)
	if isRunning(pidFile) {
		return fmt.Errorf("toolguard is already running (PID file: %s)", pidFile)
	}
	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.ShutdownOpenTelemetry(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	if err := eng.resources.Start(); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", cfg.Metrics.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Metrics.Address, err)
		}
		handler := rateLimit(ctx, cfg.Metrics.RateLimit, cfg.Metrics.Burst, newServeMux(eng))
		srv = &http.Server{
			Handler:           recoverPanics(traceRequests(lg.Component("http"), handler)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("address", ln.Addr().String()).Msg("Metrics server listening")
	}

	if cfg.Report.Enabled {
		reportLog := lg.Component("report")
		sched, err := report.NewScheduler(cfg.Report.Schedule, eng.sources(), func(r report.Report) {
			r.Log(reportLog)
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sched.Stop(ctx)
		}()
	}

	watcher, err := config.NewWatcher(config.WatcherConfig{
		ConfigPath: cfgFile,
		RulesFile:  cfg.Security.RulesFile,
		OnReload: func(next *config.Config) {
			if err := eng.applyConfig(ctx, next); err != nil {
				log.Error().Err(err).Msg("Failed to apply reloaded config")
			}
		},
	})
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		log.Warn().Err(err).Msg("Config hot reload disabled")
	} else {
		defer watcher.Stop()
	}

	log.Info().
		Int("pid", os.Getpid()).
		Int("functions", eng.registry.FunctionCount()).
		Int("tools", eng.registry.ToolCount()).
		Msg("Toolguard serving")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Resources.GracefulTimeout+5*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown")
		}
	}
	return eng.close(shutdownCtx)
}

func newServeMux(eng *engine) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", eng.metrics.Handler())
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report.Collect(eng.sources(), time.Now()))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func getPIDFilePath(cfg *config.Config) string {
	if cfg != nil && cfg.DataDir != "" {
		return filepath.Join(cfg.DataDir, "toolguard.pid")
	}
	return filepath.Join(os.TempDir(), "toolguard.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0
	return process.Signal(syscall.Signal(0)) == nil
}
