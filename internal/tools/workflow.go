package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/temporalx"
)

type WorkflowRunner interface {
	Execute(ctx context.Context, run temporalx.Run) (json.RawMessage, error)
}

type Workflows interface {
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*chat.Workflow, error)
}

// WorkflowProvider exposes mentioned, published workflows as tools that run on Temporal.
type WorkflowProvider struct {
	log       *logger.Logger
	workflows Workflows
	runner    WorkflowRunner
}

func NewWorkflowProvider(log *logger.Logger, workflows Workflows, runner WorkflowRunner) *WorkflowProvider {
	return &WorkflowProvider{log: log.With("provider", "WorkflowTools"), workflows: workflows, runner: runner}
}

func (p *WorkflowProvider) Source() Source { return SourceWorkflow }

func (p *WorkflowProvider) Load(ctx context.Context, req LoadRequest) (Set, error) {
	var ids []uuid.UUID
	for _, m := range chat.FilterMentions(req.Mentions, chat.MentionWorkflow) {
		if id, err := uuid.Parse(m.ID); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Set{}, nil
	}
	if p.runner == nil {
		return nil, fmt.Errorf("workflow runner not configured")
	}
	rows, err := p.workflows.GetByIDs(dbctx.Context{Ctx: ctx}, ids)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	out := Set{}
	for _, w := range rows {
		if !w.RunnableBy(req.UserID) {
			p.log.Debug("workflow not runnable by caller; skipping", "workflow_id", w.ID)
			continue
		}
		out[ToolName(w.Name)] = p.tool(w)
	}
	return out, nil
}

func (p *WorkflowProvider) tool(w *chat.Workflow) Tool {
	params := map[string]any(w.InputSchema)
	if len(params) == 0 {
		params = objectSchema(map[string]any{})
	}
	run := temporalx.Run{WorkflowType: w.WorkflowType, TaskQueue: w.TaskQueue, IDPrefix: "chat-workflow-" + w.ID.String()}
	return New(Spec{
		Name:        w.Name,
		Description: w.Description,
		Parameters:  params,
		Source:      SourceWorkflow,
	}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		r := run
		r.Input = input
		return p.runner.Execute(ctx, r)
	})
}
