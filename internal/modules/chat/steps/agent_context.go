package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/router"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/tools"
)

type ModelResolver interface {
	Resolve(ref chat.ModelRef) (router.Handle, error)
	SupportsToolCalls(h router.Handle) bool
}

type ToolLoader interface {
	Load(ctx context.Context, req tools.LoadRequest, allow func(tools.Source) bool) tools.Set
}

type AgentContextDeps struct {
	Log     *logger.Logger
	Models  ModelResolver
	Tools   ToolLoader
	Agents  repos.AgentRepo
	Servers repos.McpServerRepo
}

// AgentContext is everything one generation task needs. Agent is nil when the
// turn runs directly against the requested model.
type AgentContext struct {
	Agent     *chat.Agent
	AgentID   string
	AgentName string

	Model           router.Handle
	ToolCallAllowed bool
	ToolChoice      chat.ToolChoice
	Tools           tools.Set

	SystemPrompt string
	Headers      map[string]string
}

// BuildAgentContexts returns one context per mentioned agent in mention order, or a
// single direct context when no agent is mentioned. history is the thread's prior
// messages, used to recover each agent's provider correlation id.
func BuildAgentContexts(ctx context.Context, deps AgentContextDeps, turn *Turn, history []*chat.Message) ([]*AgentContext, error) {
	if deps.Models == nil || deps.Agents == nil {
		return nil, fmt.Errorf("agent context: missing deps")
	}
	agents, err := mentionedAgents(ctx, deps.Agents, turn)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		agents = []*chat.Agent{nil}
	}

	out := make([]*AgentContext, 0, len(agents))
	for _, a := range agents {
		ac, err := buildAgentContext(ctx, deps, turn, a, history)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, nil
}

func mentionedAgents(ctx context.Context, agentRepo repos.AgentRepo, turn *Turn) ([]*chat.Agent, error) {
	mentions := chat.FilterMentions(turn.Request.Mentions, chat.MentionAgent)
	if len(mentions) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, m := range mentions {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			return nil, apierr.Invalid("invalid agent id %q", m.ID)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	rows, err := agentRepo.GetByIDs(dbctx.Context{Ctx: ctx}, ids)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	byID := map[uuid.UUID]*chat.Agent{}
	for _, a := range rows {
		if a != nil {
			byID[a.ID] = a
		}
	}
	out := make([]*chat.Agent, 0, len(ids))
	for _, id := range ids {
		a := byID[id]
		if !a.VisibleTo(turn.UserID) {
			return nil, apierr.Invalid("agent %s is not available", id)
		}
		out = append(out, a)
	}
	return out, nil
}

func buildAgentContext(ctx context.Context, deps AgentContextDeps, turn *Turn, agent *chat.Agent, history []*chat.Message) (*AgentContext, error) {
	req := turn.Request
	ac := &AgentContext{Agent: agent, ToolChoice: req.ToolChoice}
	if agent != nil {
		ac.AgentID = agent.ID.String()
		ac.AgentName = agent.Name
	}

	// An explicit model always wins over the agent's own.
	var ref *chat.ModelRef
	switch {
	case !req.ChatModel.IsZero():
		ref = req.ChatModel
	case agent != nil:
		ref = agent.ModelRef()
	}
	if ref.IsZero() {
		return nil, apierr.Misconfigured("no model specified")
	}
	handle, err := deps.Models.Resolve(*ref)
	if err != nil {
		return nil, err
	}
	ac.Model = handle

	mentions := toolMentions(req.Mentions, agent)
	supports := deps.Models.SupportsToolCalls(handle)
	imageActive := supports && req.ImageTool != nil
	hasMentions := len(mentions) > 0 || agent != nil
	ac.ToolCallAllowed = supports && (req.ToolChoice != chat.ToolChoiceManual || hasMentions) && !imageActive

	ac.Tools = tools.Set{}
	if deps.Tools != nil && (ac.ToolCallAllowed || imageActive) {
		ac.Tools = deps.Tools.Load(ctx, tools.LoadRequest{
			UserID:          turn.UserID,
			Mentions:        mentions,
			AllowedServers:  req.AllowedMcpServers,
			AllowedToolkits: req.AllowedAppDefaultToolkit,
			ImageTool:       req.ImageTool,
		}, func(src tools.Source) bool {
			if src == tools.SourceImage {
				return imageActive
			}
			return ac.ToolCallAllowed
		})
	}
	if req.ToolChoice == chat.ToolChoiceApproval {
		ac.Tools = tools.RequireApproval(ac.Tools)
	}

	ac.SystemPrompt = systemPrompt(promptInput{
		Preferences:  turn.Thread.Preferences.Data(),
		Agent:        agent,
		Customs:      customizations(ctx, deps, turn.UserID, ac.Tools),
		NoToolCalls:  !supports,
		ApprovalMode: req.ToolChoice == chat.ToolChoiceApproval && len(ac.Tools) > 0,
	})

	ac.Headers = map[string]string{}
	if cid := priorCorrelationID(history, ac.AgentID); cid != "" {
		ac.Headers[HeaderConversationID] = cid
	}

	if deps.Log != nil {
		deps.Log.Debug("agent context built",
			"agent_id", ac.AgentID,
			"model", handle.Ref().String(),
			"tool_calls_allowed", ac.ToolCallAllowed,
			"image_tool", imageActive,
			"tool_count", len(ac.Tools),
		)
	}
	return ac, nil
}

// toolMentions returns the turn's tool and workflow mentions plus the agent's bound ones.
func toolMentions(reqMentions []chat.Mention, agent *chat.Agent) []chat.Mention {
	var out []chat.Mention
	add := func(ms []chat.Mention) {
		for _, m := range ms {
			if m.Kind == chat.MentionTool || m.Kind == chat.MentionWorkflow {
				out = append(out, m)
			}
		}
	}
	add(reqMentions)
	if agent != nil {
		add(agent.Mentions)
	}
	return out
}

func customizations(ctx context.Context, deps AgentContextDeps, userID uuid.UUID, set tools.Set) []string {
	if deps.Servers == nil || len(set) == 0 {
		return nil
	}
	var ids []uuid.UUID
	for _, raw := range set.ServerIDs() {
		if id, err := uuid.Parse(raw); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := deps.Servers.ListCustomizations(dbctx.Context{Ctx: ctx}, userID, ids)
	if err != nil {
		if deps.Log != nil {
			deps.Log.Warn("mcp customizations unavailable", "error", err)
		}
		return nil
	}
	var out []string
	for _, r := range rows {
		if r != nil && strings.TrimSpace(r.Prompt) != "" {
			out = append(out, strings.TrimSpace(r.Prompt))
		}
	}
	return out
}

// priorCorrelationID scans history backwards for the latest assistant message
// carrying a correlation id for agentID ("" for direct turns).
func priorCorrelationID(history []*chat.Message, agentID string) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m == nil || m.Role != chat.RoleAssistant {
			continue
		}
		if cid := m.Metadata.Data().CorrelationFor(agentID); cid != "" {
			return cid
		}
	}
	return ""
}
