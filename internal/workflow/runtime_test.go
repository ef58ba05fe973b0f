package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) (*Runtime, *Registry) {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "workflows.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := NewRegistry()
	rt := NewRuntime(reg, store, Capabilities{}, zerolog.Nop())
	return rt, reg
}

func waitForTerminal(t *testing.T, rt *Runtime, runID string) Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, found, err := rt.GetRun(runID)
		require.NoError(t, err)
		require.True(t, found)
		if run.Status == Succeeded || run.Status == Failed || run.Status == Canceled {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state in time")
	return Run{}
}

func TestStartRunExecutesStepsInOrder(t *testing.T) {
	rt, reg := newTestRuntime(t)
	var order []string
	reg.Register(Definition{
		ID: "sample",
		Steps: []Step{
			{Name: "first", Run: func(sc StepContext) (interface{}, error) {
				order = append(order, "first")
				return "a", nil
			}},
			{Name: "second", Run: func(sc StepContext) (interface{}, error) {
				order = append(order, "second")
				return sc.Results["first"], nil
			}},
		},
	})

	runID, err := rt.StartRun(context.Background(), "sample", nil)
	require.NoError(t, err)

	run := waitForTerminal(t, rt, runID)
	assert.Equal(t, Succeeded, run.Status)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "a", run.StepResults["second"])
}

func TestStartRunUnknownWorkflow(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := rt.StartRun(context.Background(), "nope", nil)
	require.Error(t, err)
}

func TestStepFailureMarksRunFailed(t *testing.T) {
	rt, reg := newTestRuntime(t)
	reg.Register(Definition{
		ID: "failing",
		Steps: []Step{
			{Name: "boom", Run: func(sc StepContext) (interface{}, error) {
				return nil, errors.New("kaboom")
			}},
		},
	})

	runID, err := rt.StartRun(context.Background(), "failing", nil)
	require.NoError(t, err)

	run := waitForTerminal(t, rt, runID)
	assert.Equal(t, Failed, run.Status)
	assert.Contains(t, run.Error, "kaboom")
}

func TestStepRetriesBeforeSucceeding(t *testing.T) {
	rt, reg := newTestRuntime(t)
	attempts := 0
	reg.Register(Definition{
		ID: "retrying",
		Steps: []Step{
			{Name: "flaky", Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, Run: func(sc StepContext) (interface{}, error) {
				attempts++
				if attempts < 3 {
					return nil, errors.New("transient")
				}
				return "done", nil
			}},
		},
	})

	runID, err := rt.StartRun(context.Background(), "retrying", nil)
	require.NoError(t, err)

	run := waitForTerminal(t, rt, runID)
	assert.Equal(t, Succeeded, run.Status)
	assert.Equal(t, 3, attempts)
}

func TestMissingCapabilityFailsFast(t *testing.T) {
	rt, reg := newTestRuntime(t)
	reg.Register(Definition{
		ID:                   "needs-llm",
		RequiredCapabilities: []string{"llm"},
		Steps:                []Step{{Name: "noop", Run: func(sc StepContext) (interface{}, error) { return nil, nil }}},
	})

	_, err := rt.StartRun(context.Background(), "needs-llm", nil)
	require.Error(t, err)
}

func TestCancelStopsBeforeNextStep(t *testing.T) {
	rt, reg := newTestRuntime(t)
	started := make(chan struct{})
	proceed := make(chan struct{})
	reg.Register(Definition{
		ID: "cancelable",
		Steps: []Step{
			{Name: "first", Run: func(sc StepContext) (interface{}, error) {
				close(started)
				<-proceed
				return nil, nil
			}},
			{Name: "second", Run: func(sc StepContext) (interface{}, error) {
				t.Fatal("second step must not run after cancel")
				return nil, nil
			}},
		},
	})

	runID, err := rt.StartRun(context.Background(), "cancelable", nil)
	require.NoError(t, err)

	<-started
	require.NoError(t, rt.Cancel(runID))
	close(proceed)

	run := waitForTerminal(t, rt, runID)
	assert.Equal(t, Canceled, run.Status)
}
