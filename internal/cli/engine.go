package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/toolguard/internal/config"
	"github.com/harun/toolguard/internal/metrics"
	"github.com/harun/toolguard/internal/observability"
	"github.com/harun/toolguard/internal/report"
	"github.com/harun/toolguard/pkg/coretools"
	"github.com/harun/toolguard/pkg/resources"
	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/security"
	"github.com/harun/toolguard/pkg/toolexecutor"
)

// engine wires the registry, executor, sandbox, policy and resource manager
// from one config.
type engine struct {
	metrics   *metrics.Metrics
	policy    *security.Policy
	resources *resources.Manager
	sandbox   *sandbox.Sandbox
	registry  *toolexecutor.Registry
	executor  *toolexecutor.Executor
}

func securityContext(cfg *config.Config) (security.Context, error) {
	checker, err := security.NewRuleChecker(cfg.Security.Rules)
	if err != nil {
		return security.Context{}, fmt.Errorf("invalid security rules: %w", err)
	}
	return security.Context{
		Principal: cfg.Security.Principal,
		Scope:     cfg.Security.Scope,
		Timestamp: time.Now(),
		Checker:   checker,
	}, nil
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	m := metrics.NewMetrics()

	sc, err := securityContext(cfg)
	if err != nil {
		return nil, err
	}
	policy := security.NewPolicy(sc,
		security.WithMetrics(m),
		security.WithCacheSize(cfg.Security.CacheSize),
	)

	mgr := resources.NewManager(resources.Config{
		MaxIdleTime:     cfg.Resources.MaxIdleTime,
		CleanupInterval: cfg.Resources.CleanupInterval,
		MaxRetries:      cfg.Resources.MaxRetries,
		RetryDelay:      cfg.Resources.RetryDelay,
		GracefulTimeout: cfg.Resources.GracefulTimeout,
		MaxResources:    cfg.Resources.MaxResources,
	}, resources.WithMetrics(m))

	sb, err := sandbox.New(sandbox.Config{
		MonitorInterval: cfg.Sandbox.MonitorInterval,
		HeapSampling:    cfg.Sandbox.HeapSampling,
	}, sandbox.WithResourceManager(mgr), sandbox.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	reg := toolexecutor.NewRegistry(toolexecutor.RegistryConfig{
		MaxFunctions: cfg.Registry.MaxFunctions,
		MaxTools:     cfg.Registry.MaxTools,
	}, policy, toolexecutor.WithRegistryMetrics(m))

	exec, err := toolexecutor.NewExecutor(toolexecutor.ExecutorConfig{
		Limits: sandbox.Limits{
			Memory:    cfg.Executor.MemoryLimit,
			CPU:       cfg.Executor.CPULimit,
			Bandwidth: cfg.Executor.BandwidthLimit,
		},
		MaxConcurrent: cfg.Executor.MaxConcurrent,
	}, policy, sb,
		toolexecutor.WithRegistry(reg),
		toolexecutor.WithExecutorMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	if cfg.CoreTools.Enabled {
		if err := coretools.RegisterCoreTools(ctx, reg, coretools.Options{
			WorkspaceRoot:   cfg.CoreTools.WorkspaceRoot,
			AllowedHosts:    cfg.CoreTools.AllowedHosts,
			AllowedEnv:      cfg.CoreTools.AllowedEnv,
			AllowedCommands: cfg.CoreTools.AllowedCommands,
		}); err != nil {
			return nil, err
		}
	}

	return &engine{
		metrics:   m,
		policy:    policy,
		resources: mgr,
		sandbox:   sb,
		registry:  reg,
		executor:  exec,
	}, nil
}

// applyConfig swaps in the security context of a reloaded config. Limits and
// capacities are fixed for the life of the engine.
func (e *engine) applyConfig(ctx context.Context, cfg *config.Config) error {
	sc, err := securityContext(cfg)
	if err != nil {
		return err
	}
	e.policy.SetContext(sc)

	observability.RecordConfigAudit(ctx, "reload:security", sc.Principal.ID, map[string]interface{}{
		"rules": len(cfg.Security.Rules),
		"scope": sc.Scope,
	})
	log.Info().
		Str("principal", sc.Principal.ID).
		Int("rules", len(cfg.Security.Rules)).
		Msg("Security context reloaded")
	return nil
}

func (e *engine) sources() report.Sources {
	return report.Sources{
		Registry:  e.registry,
		Policy:    e.policy,
		Resources: e.resources,
	}
}

// close releases every tracked resource
func (e *engine) close(ctx context.Context) error {
	remaining := e.resources.Metrics().Total
	err := e.resources.Shutdown(ctx)

	status := "success"
	if err != nil {
		status = "failure"
	}
	observability.RecordResourceAudit(ctx, "shutdown", "resource_manager", status, map[string]interface{}{
		"tracked": remaining,
	})
	return err
}
