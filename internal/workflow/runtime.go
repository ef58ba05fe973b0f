package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atomicobject/vaultweaver/internal/observability"
	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

// Runtime executes registered workflow runs, persisting progress after each
// step so a crash mid-run resumes from the last completed step.
type Runtime struct {
	registry *Registry
	store    *Store
	caps     Capabilities
	log      zerolog.Logger

	defaultStepTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	metrics *observability.Metrics
}

// SetMetrics wires Prometheus recording into the runtime. Optional.
func (rt *Runtime) SetMetrics(m *observability.Metrics) {
	rt.metrics = m
}

// NewRuntime constructs a Runtime. caps are injected into every step's
// StepContext; a workflow referencing a capability not present here fails
// with WORKFLOW_MISSING_CAPABILITY before its first step runs.
func NewRuntime(registry *Registry, store *Store, caps Capabilities, logger zerolog.Logger) *Runtime {
	return &Runtime{
		registry:           registry,
		store:              store,
		caps:               caps,
		log:                logger,
		defaultStepTimeout: 300 * time.Second,
		cancels:            make(map[string]context.CancelFunc),
	}
}

// ResumeIncomplete restarts every PENDING/RUNNING run found in the store,
// picking up from CurrentStep. Call once at startup after registering all
// workflow definitions.
func (rt *Runtime) ResumeIncomplete(ctx context.Context) {
	runs, err := rt.store.ListIncomplete()
	if err != nil {
		rt.log.Error().Err(err).Msg("failed to list incomplete workflow runs")
		return
	}
	for _, run := range runs {
		go rt.execute(ctx, run)
	}
}

// StartRun creates a new run for workflowID and begins executing it
// asynchronously, returning the run ID immediately.
func (rt *Runtime) StartRun(ctx context.Context, workflowID string, input map[string]interface{}) (string, error) {
	def, ok := rt.registry.Get(workflowID)
	if !ok {
		return "", vwerr.New("workflow.StartRun", vwerr.WorkflowMissingCap, nil).WithDetail("unknown workflow " + workflowID)
	}
	if err := validateCapabilities(def, rt.caps); err != nil {
		return "", vwerr.New("workflow.StartRun", vwerr.WorkflowMissingCap, err)
	}

	run := Run{
		ID:          NewRunID(),
		WorkflowID:  workflowID,
		Status:      Pending,
		Input:       input,
		StepResults: map[string]interface{}{},
		StartedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := rt.store.Save(run); err != nil {
		return "", err
	}

	go rt.execute(ctx, run)
	return run.ID, nil
}

// Cancel marks runID CANCELED and signals its in-flight step to stop.
// Subsequent steps are not scheduled.
func (rt *Runtime) Cancel(runID string) error {
	rt.mu.Lock()
	cancel, ok := rt.cancels[runID]
	rt.mu.Unlock()
	if ok {
		cancel()
	}

	run, found, err := rt.store.Load(runID)
	if err != nil {
		return err
	}
	if !found {
		return vwerr.New("workflow.Cancel", vwerr.WorkflowStepFailed, nil).WithDetail("unknown run " + runID)
	}
	if run.Status == Succeeded || run.Status == Failed || run.Status == Canceled {
		return nil
	}
	run.Status = Canceled
	run.UpdatedAt = time.Now()
	run.FinishedAt = time.Now()
	return rt.store.Save(run)
}

// GetRun returns the current persisted state of runID.
func (rt *Runtime) GetRun(runID string) (Run, bool, error) {
	return rt.store.Load(runID)
}

// ListRuns returns every persisted run.
func (rt *Runtime) ListRuns() ([]Run, error) {
	return rt.store.List()
}

func (rt *Runtime) execute(parent context.Context, run Run) {
	def, ok := rt.registry.Get(run.WorkflowID)
	if !ok {
		run.Status = Failed
		run.Error = "workflow definition no longer registered"
		run.FinishedAt = time.Now()
		_ = rt.store.Save(run)
		return
	}

	runTimeout := def.Timeout
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, runTimeout)
	rt.mu.Lock()
	rt.cancels[run.ID] = cancel
	rt.mu.Unlock()
	defer func() {
		cancel()
		rt.mu.Lock()
		delete(rt.cancels, run.ID)
		rt.mu.Unlock()
	}()

	run.Status = Running
	run.UpdatedAt = time.Now()
	_ = rt.store.Save(run)

	start := time.Now()
	if rt.metrics != nil {
		rt.metrics.WorkflowRunsActive.Inc()
	}
	defer func() {
		if rt.metrics == nil {
			return
		}
		rt.metrics.WorkflowRunsActive.Dec()
		rt.metrics.WorkflowRunsTotal.WithLabelValues(string(run.Status)).Inc()
		rt.metrics.WorkflowDuration.Observe(time.Since(start).Seconds())
	}()

	for i := run.CurrentStep; i < len(def.Steps); i++ {
		step := def.Steps[i]

		select {
		case <-ctx.Done():
			run.Status = canceledOrTimedOut(ctx)
			run.Error = ctx.Err().Error()
			run.FinishedAt = time.Now()
			_ = rt.store.Save(run)
			return
		default:
		}

		result, err := rt.runStep(ctx, step, run)
		if err != nil {
			run.Status = Failed
			if ctx.Err() != nil {
				// Canceled or timed out mid-step: keep the CANCELED state
				// Cancel already persisted.
				run.Status = canceledOrTimedOut(ctx)
			}
			run.Error = err.Error()
			run.UpdatedAt = time.Now()
			run.FinishedAt = time.Now()
			_ = rt.store.Save(run)
			rt.log.Error().Str("runId", run.ID).Str("step", step.Name).Err(err).Msg("workflow step failed")
			return
		}

		if ctx.Err() != nil {
			// Canceled or timed out while the step was running: don't let
			// this step's success overwrite the terminal state Cancel
			// already persisted.
			run.Status = canceledOrTimedOut(ctx)
			run.Error = ctx.Err().Error()
			run.FinishedAt = time.Now()
			_ = rt.store.Save(run)
			return
		}

		run.StepResults[step.Name] = result
		run.CurrentStep = i + 1
		run.UpdatedAt = time.Now()
		if err := rt.store.Save(run); err != nil {
			rt.log.Error().Str("runId", run.ID).Err(err).Msg("failed to persist workflow step result")
			return
		}
	}

	run.Status = Succeeded
	run.UpdatedAt = time.Now()
	run.FinishedAt = time.Now()
	_ = rt.store.Save(run)
}

func canceledOrTimedOut(ctx context.Context) Status {
	if ctx.Err() == context.Canceled {
		return Canceled
	}
	return Failed
}

// runStep invokes step.Run with its configured retry policy and timeout.
func (rt *Runtime) runStep(ctx context.Context, step Step, run Run) (interface{}, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = rt.defaultStepTimeout
	}
	maxAttempts := step.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseDelay := step.Retry.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	sc := StepContext{Input: run.Input, Capabilities: rt.caps, Results: run.StepResults}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		sc.Ctx = stepCtx
		result, err := func() (res interface{}, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("step %s panicked: %v", step.Name, p)
				}
			}()
			return step.Run(sc)
		}()
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			select {
			case <-time.After(baseDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, vwerr.New("workflow.runStep", vwerr.WorkflowStepFailed, lastErr).WithDetail(step.Name)
}
