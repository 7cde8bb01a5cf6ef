package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/observability"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
	"github.com/yungbote/chorus-backend/internal/tools"
)

const declinedToolText = "The user declined this tool call."

// PendingTools finishes tool invocations left open on the incoming message
// (interrupted calls, or calls the user has just approved or declined) before any
// new generation starts. One instance is shared by all agents of a turn; each
// call id is resolved at most once.
type PendingTools struct {
	log *logger.Logger

	mu       sync.Mutex
	msg      *chat.Message
	resolved map[string]bool
}

func NewPendingTools(log *logger.Logger, msg *chat.Message) *PendingTools {
	return &PendingTools{log: log, msg: msg, resolved: map[string]bool{}}
}

type toolOutcome struct {
	index  int
	output json.RawMessage
	err    error
	denied bool
}

// Resolve executes the pending invocations that set can serve, writes their results
// into the message and emits them. It returns a copy of the message taken after
// resolution, which callers use as model context.
func (p *PendingTools) Resolve(ctx context.Context, set tools.Set, emit func(uistream.Event)) *chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.msg == nil {
		return nil
	}

	var (
		mu       sync.Mutex
		outcomes []toolOutcome
		g        errgroup.Group
	)
	for i, part := range p.msg.Parts {
		if !part.Pending() || p.resolved[part.ToolCallID] {
			continue
		}
		if part.Approval != nil && !part.Approval.Approved {
			mu.Lock()
			outcomes = append(outcomes, toolOutcome{index: i, denied: true})
			mu.Unlock()
			continue
		}
		t, ok := set[part.ToolName]
		if !ok {
			continue
		}
		if part.Approval == nil && tools.NeedsApproval(t) {
			continue
		}
		g.Go(func() error {
			out, err := executeTool(ctx, t, part.Input)
			mu.Lock()
			outcomes = append(outcomes, toolOutcome{index: i, output: out, err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].index < outcomes[b].index })
	for _, o := range outcomes {
		part := &p.msg.Parts[o.index]
		p.resolved[part.ToolCallID] = true
		ev := uistream.Event{ToolCallID: part.ToolCallID, ToolName: part.ToolName}
		switch {
		case o.denied:
			part.State = chat.ToolOutputError
			part.ErrorText = declinedToolText
			if part.Approval.Reason != "" {
				part.ErrorText += " Reason: " + part.Approval.Reason
			}
			ev.Type = uistream.TypeToolOutputError
			ev.ErrorText = part.ErrorText
		case o.err != nil:
			part.State = chat.ToolOutputError
			part.ErrorText = o.err.Error()
			ev.Type = uistream.TypeToolOutputError
			ev.ErrorText = part.ErrorText
			if p.log != nil {
				p.log.Warn("pending tool call failed", "tool", part.ToolName, "tool_call_id", part.ToolCallID, "error", o.err)
			}
		default:
			part.State = chat.ToolOutputAvailable
			part.Output = o.output
			ev.Type = uistream.TypeToolOutputAvailable
			ev.Output = o.output
		}
		if emit != nil {
			emit(ev)
		}
	}
	return p.msg.Clone()
}

// executeTool runs t and converts a panic into an error.
func executeTool(ctx context.Context, t tools.Tool, input json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.Current().IncToolCall(string(t.Spec().Source), status)
	}()
	out, err = t.Execute(ctx, input)
	if err == nil && len(out) == 0 {
		out = json.RawMessage(`null`)
	}
	return out, err
}
