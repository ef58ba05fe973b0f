// Package engine wires the shadow cache, memory store, LLM client, rules
// engine, workflow runtime, vault sync, and watcher into one running
// process, and owns its graceful shutdown.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/atomicobject/vaultweaver/internal/cache"
	"github.com/atomicobject/vaultweaver/internal/config"
	"github.com/atomicobject/vaultweaver/internal/llm"
	"github.com/atomicobject/vaultweaver/internal/memory"
	"github.com/atomicobject/vaultweaver/internal/observability"
	"github.com/atomicobject/vaultweaver/internal/rules"
	"github.com/atomicobject/vaultweaver/internal/rules/library"
	"github.com/atomicobject/vaultweaver/internal/vaultio"
	"github.com/atomicobject/vaultweaver/internal/vaultsync"
	"github.com/atomicobject/vaultweaver/internal/watcher"
	"github.com/atomicobject/vaultweaver/internal/workflow"
)

// Engine is a fully assembled vaultweaver process: every component wired
// together, ready to Run until its context is canceled.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	Cache    *cache.Cache
	Memory   *memory.Store
	VaultIO  vaultio.VaultIO
	LLM      *llm.Client
	Watcher  *watcher.Watcher
	Sync     *vaultsync.Syncer
	Registry *rules.Registry
	Rules    *rules.Engine
	WF       *workflow.Registry
	WFStore  *workflow.Store
	WFRun    *workflow.Runtime
	Health   *observability.HealthRegistry
	Metrics  *observability.Metrics

	wg sync.WaitGroup
}

// The Prometheus collectors are registered on the default registry once per
// process and shared by every Engine built in it.
var (
	metricsOnce    sync.Once
	processMetrics *observability.Metrics
)

// New assembles every component from cfg. It does not start the watcher or
// rules engine loops; call Run for that.
func New(cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{cfg: cfg, log: logger}

	e.VaultIO = vaultio.New(cfg.Vault.Path)

	c, err := cache.Open(cfg.ShadowCache.Path)
	if err != nil {
		return nil, err
	}
	e.Cache = c

	mem, err := memory.OpenWithSweepInterval(cfg.Memory.Path, cfg.MemorySweepInterval())
	if err != nil {
		return nil, err
	}
	e.Memory = mem

	provider := llm.NewHTTPProvider(llmBaseURL(cfg.LLM.Provider), cfg.LLM.APIKey)
	e.LLM = llm.New(provider, llm.Config{
		RateLimitPerMinute: cfg.LLM.RateLimitPerMinute,
		MaxRetries:         cfg.LLM.MaxRetries,
		CircuitThreshold:   cfg.LLM.CircuitThreshold,
		CircuitCooldown:    time.Duration(cfg.LLM.CircuitCooldownSecs) * time.Second,
		DefaultModel:       cfg.LLM.DefaultModel,
	})

	e.Sync = vaultsync.New(e.VaultIO, e.Cache, e.Memory, observability.WithComponent(logger, "vaultsync"), vaultsync.Config{})

	e.Registry = rules.NewRegistry()
	registerBuiltinRules(e.Registry, cfg)

	e.Rules = rules.New(e.Registry, e.Cache, e.Memory, e.LLM, e.VaultIO,
		observability.WithComponent(logger, "rules"), rules.Config{
			Parallelism: cfg.Rules.Parallelism,
			RuleTimeout: cfg.RuleTimeout(),
		})

	w, err := watcher.New(cfg.Vault.Path, watcher.Options{
		DebounceWindow: cfg.DebounceWindow(),
		Ignore:         cfg.Vault.Watcher.Ignore,
	})
	if err != nil {
		return nil, err
	}
	e.Watcher = w

	if cfg.Workflows.Enabled {
		wfStore, err := workflow.OpenStore(cfg.Workflows.DBPath)
		if err != nil {
			return nil, err
		}
		e.WFStore = wfStore
		e.WF = workflow.NewRegistry()
		e.WFRun = workflow.NewRuntime(e.WF, e.WFStore, workflow.Capabilities{
			VaultIO: e.VaultIO,
			LLM:     &llmCapabilityAdapter{client: e.LLM},
		}, observability.WithComponent(logger, "workflow"))
	}

	e.Health = observability.NewHealthRegistry()
	registerHealthChecks(e)

	metricsOnce.Do(func() {
		processMetrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	})
	e.Metrics = processMetrics
	e.Rules.SetMetrics(e.Metrics)
	e.LLM.SetMetrics(e.Metrics)
	e.Cache.SetMetrics(e.Metrics)
	e.Memory.SetMetrics(e.Metrics)
	if e.WFRun != nil {
		e.WFRun.SetMetrics(e.Metrics)
	}

	return e, nil
}

// registerBuiltinRules registers the shipped rule library. A rule with no
// rules.<id> block stays enabled; a rule whose block is present is disabled
// unless that block sets enabled: true.
func registerBuiltinRules(reg *rules.Registry, cfg *config.Config) {
	builtins := []rules.Rule{library.AutoTag{}, library.AutoLink{}, library.DailyNote{}, library.MeetingNote{}}
	for _, r := range builtins {
		opts := optionsFor(cfg, r.ID())
		reg.Register(r, opts)
		if ro, ok := cfg.Rules.Rules[r.ID()]; ok && !ro.Enabled {
			reg.Disable(r.ID())
		}
	}
}

func optionsFor(cfg *config.Config, ruleID string) map[string]interface{} {
	ro, ok := cfg.Rules.Rules[ruleID]
	if !ok {
		return nil
	}
	opts := map[string]interface{}{}
	if ro.MinContentLength > 0 {
		opts["minContentLength"] = ro.MinContentLength
	}
	if ro.ConfidenceThreshold > 0 {
		opts["confidenceThreshold"] = ro.ConfidenceThreshold
	}
	if ro.MaxTags > 0 {
		opts["maxTags"] = ro.MaxTags
	}
	if ro.MaxLinks > 0 {
		opts["maxLinks"] = ro.MaxLinks
	}
	if ro.MatchThreshold > 0 {
		opts["matchThreshold"] = ro.MatchThreshold
	}
	return opts
}

func llmBaseURL(providerName string) string {
	switch providerName {
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

// llmCapabilityAdapter narrows *llm.Client down to the minimal
// Complete(ctx, prompt, jsonMode) shape workflow steps are allowed to call.
type llmCapabilityAdapter struct {
	client *llm.Client
}

func (a *llmCapabilityAdapter) Complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	format := llm.FormatText
	if jsonMode {
		format = llm.FormatJSON
	}
	result, err := a.client.Complete(ctx, prompt, llm.Options{ResponseFormat: format})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// Run starts the watcher and rules engine loops and blocks until ctx is
// canceled, then drains in-flight work before returning.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Sync.FullSync(ctx); err != nil {
		e.log.Error().Err(err).Msg("initial vault sync failed")
	}

	if err := e.Watcher.Start(e.Cache); err != nil {
		return err
	}

	if e.WFRun != nil {
		e.WFRun.ResumeIncomplete(ctx)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Rules.Run(ctx, e.Watcher.Events())
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case diag, ok := <-e.Watcher.Diagnostics():
				if !ok {
					return
				}
				e.log.Warn().Str("path", diag.Path).Err(diag.Err).Msg("watcher diagnostic")
			}
		}
	}()

	<-ctx.Done()
	return e.Shutdown()
}

// Shutdown drains in-flight rule executions and workflow steps, then closes
// every durable store. Safe to call after Run's context is already canceled.
func (e *Engine) Shutdown() error {
	_ = e.Watcher.Close()
	e.wg.Wait()

	if e.WFStore != nil {
		_ = e.WFStore.Close()
	}
	_ = e.Memory.Close()
	return e.Cache.Close()
}

func registerHealthChecks(e *Engine) {
	e.Health.Register("cache", func() observability.ComponentHealth {
		if e.Cache.SchemaMismatch() {
			return observability.ComponentHealth{Status: observability.Degraded, Message: "schema version mismatch"}
		}
		return observability.ComponentHealth{Status: observability.Healthy}
	})
	e.Health.Register("llm", func() observability.ComponentHealth {
		switch e.LLM.State() {
		case llm.Open:
			return observability.ComponentHealth{Status: observability.Degraded, Message: "circuit open"}
		default:
			return observability.ComponentHealth{Status: observability.Healthy}
		}
	})
	e.Health.Register("rules", func() observability.ComponentHealth {
		stats := e.Rules.StatsSnapshot()
		if len(stats.Quarantined) > 0 {
			return observability.ComponentHealth{
				Status:  observability.Degraded,
				Message: "one or more rules quarantined",
				Details: map[string]interface{}{"quarantined": stats.Quarantined},
			}
		}
		return observability.ComponentHealth{Status: observability.Healthy}
	})
}
