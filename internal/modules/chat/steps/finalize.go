package steps

import (
	"context"
	"fmt"
	"time"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

const finalizeTimeout = 15 * time.Second

type FinalizeDeps struct {
	Log      *logger.Logger
	Messages repos.MessageRepo
}

// Finalize persists the turn. When response carries the incoming message's id the
// two are one record and a single upsert is made; otherwise the incoming message is
// written first and the response second. A nil response persists only the incoming
// message. Both writes are idempotent on message id.
func Finalize(ctx context.Context, deps FinalizeDeps, incoming, response *chat.Message) error {
	if deps.Messages == nil {
		return fmt.Errorf("chat finalize: missing deps")
	}
	if incoming == nil {
		return fmt.Errorf("chat finalize: missing incoming message")
	}
	// The request may already be gone; the turn is still saved.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	dbc := dbctx.Context{Ctx: ctx}

	if response != nil && response.ID == incoming.ID {
		if err := deps.Messages.Upsert(dbc, response); err != nil {
			return fmt.Errorf("upsert message %s: %w", response.ID, err)
		}
		return nil
	}
	if err := deps.Messages.Upsert(dbc, incoming); err != nil {
		return fmt.Errorf("upsert message %s: %w", incoming.ID, err)
	}
	if response == nil {
		return nil
	}
	if err := deps.Messages.Upsert(dbc, response); err != nil {
		return fmt.Errorf("upsert message %s: %w", response.ID, err)
	}
	return nil
}

// foldMetadata builds the response metadata from the task results. A single task's
// metadata is stored flat; several tasks are stored per agent with summed usage.
func foldMetadata(results []TaskResult, toolChoice chat.ToolChoice) chat.Metadata {
	if len(results) == 1 {
		return results[0].Metadata
	}
	md := chat.Metadata{ToolChoice: toolChoice, Agents: map[string]*chat.Metadata{}}
	for _, r := range results {
		sub := r.Metadata
		md.Agents[r.AgentID] = &sub
		md.Usage = md.Usage.Add(sub.Usage)
		md.ToolCount += sub.ToolCount
	}
	return md
}

func anySucceeded(results []TaskResult) bool {
	for _, r := range results {
		if r.Err == nil {
			return true
		}
	}
	return false
}
