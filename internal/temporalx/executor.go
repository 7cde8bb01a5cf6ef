package temporalx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

// Executor runs a workflow to completion and returns its JSON result.
type Executor struct {
	tc        temporalsdkclient.Client
	taskQueue string
	timeout   time.Duration
}

func NewExecutor(tc temporalsdkclient.Client, cfg Config) *Executor {
	return &Executor{tc: tc, taskQueue: cfg.TaskQueue, timeout: cfg.WorkflowTimeout}
}

type Run struct {
	WorkflowType string
	TaskQueue    string
	// IDPrefix is combined with a random suffix to form the workflow id.
	IDPrefix string
	Input    json.RawMessage
}

func (e *Executor) Execute(ctx context.Context, run Run) (json.RawMessage, error) {
	if e == nil || e.tc == nil {
		return nil, errors.New("temporal client is not configured")
	}
	if strings.TrimSpace(run.WorkflowType) == "" {
		return nil, errors.New("workflow type required")
	}
	tq := strings.TrimSpace(run.TaskQueue)
	if tq == "" {
		tq = e.taskQueue
	}
	prefix := strings.TrimSpace(run.IDPrefix)
	if prefix == "" {
		prefix = "chat-workflow"
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var input any = map[string]any{}
	if len(run.Input) > 0 {
		if err := json.Unmarshal(run.Input, &input); err != nil {
			return nil, fmt.Errorf("workflow input: %w", err)
		}
	}

	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                       prefix + "-" + uuid.NewString(),
		TaskQueue:                tq,
		WorkflowExecutionTimeout: e.timeout,
		RetryPolicy:              &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	wr, err := e.tc.ExecuteWorkflow(ctx, opts, run.WorkflowType, input)
	if err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", run.WorkflowType, err)
	}
	var out any
	if err := wr.Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("workflow %s (run %s): %w", run.WorkflowType, wr.GetRunID(), err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return b, nil
}
