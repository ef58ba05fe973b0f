// Package workflow implements a durable step-pipeline runtime. Workflow
// definitions are ordinary Go values registered through Register at process
// startup (the Go analogue of the upstream system's discovered, bundled,
// self-registering modules); the runtime persists each step's result before
// advancing so a crash mid-run resumes from the last completed step.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a WorkflowRun's lifecycle state.
type Status string

const (
	Pending   Status = "PENDING"
	Running   Status = "RUNNING"
	Succeeded Status = "SUCCEEDED"
	Failed    Status = "FAILED"
	Canceled  Status = "CANCELED"
)

// Capabilities are the only primitives a step may use; anything a step
// references outside this set fails fast with WORKFLOW_MISSING_CAPABILITY
// rather than silently reaching for a process global.
type Capabilities struct {
	VaultIO interface {
		ReadFile(string) ([]byte, error)
		WriteFile(string, []byte) error
	}
	LLM interface {
		Complete(ctx context.Context, prompt string, jsonMode bool) (string, error)
	}
}

// StepContext is passed to each step function.
type StepContext struct {
	Ctx          context.Context
	Input        map[string]interface{}
	Capabilities Capabilities
	// Results holds every prior step's output within this run, keyed by
	// step name, so a step can reference earlier results.
	Results map[string]interface{}
}

// StepFunc executes one named, durable step and returns its result.
type StepFunc func(sc StepContext) (interface{}, error)

// RetryPolicy configures a step's retry behavior.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Step is one named unit of work in a WorkflowDefinition.
type Step struct {
	Name    string
	Run     StepFunc
	Retry   RetryPolicy
	Timeout time.Duration
}

// Definition is a registered, durable workflow: an ordered list of steps.
type Definition struct {
	ID                  string
	Description         string
	RequiredCapabilities []string
	Steps               []Step
	Timeout             time.Duration
}

// Run is the persisted record of one workflow execution.
type Run struct {
	ID              string
	WorkflowID      string
	Status          Status
	Input           map[string]interface{}
	StepResults     map[string]interface{}
	CurrentStep     int
	Error           string
	StartedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      time.Time
}

// NewRunID generates a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func validateCapabilities(def Definition, caps Capabilities) error {
	for _, c := range def.RequiredCapabilities {
		switch c {
		case "vaultio":
			if caps.VaultIO == nil {
				return fmt.Errorf("workflow %s requires capability %q which was not injected", def.ID, c)
			}
		case "llm":
			if caps.LLM == nil {
				return fmt.Errorf("workflow %s requires capability %q which was not injected", def.ID, c)
			}
		default:
			return fmt.Errorf("workflow %s declares unknown capability %q", def.ID, c)
		}
	}
	return nil
}
