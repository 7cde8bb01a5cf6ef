package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/ingestion/preview"
	"github.com/yungbote/chorus-backend/internal/observability"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
)

type RespondDeps struct {
	Log *logger.Logger

	Threads  repos.ThreadRepo
	Messages repos.MessageRepo
	Agents   repos.AgentRepo
	Servers  repos.McpServerRepo

	Models ModelResolver
	Tools  ToolLoader

	Previews PreviewBuilder
	Download preview.DownloadFunc

	// Runs makes the turn stoppable by thread id. Optional.
	Runs *realtime.Runs

	MaxSteps       int
	HistoryLimit   int
	GenerateTitles bool
	TitleTimeout   time.Duration
}

type RespondInput struct {
	UserID      uuid.UUID
	Preferences chat.Preferences
	Request     ChatRequest
}

type RespondOutput struct {
	ThreadID          uuid.UUID
	ThreadCreated     bool
	ResponseMessageID string
	// Events must be drained to the end; the turn is persisted before it closes.
	Events <-chan uistream.Event
}

// Respond runs one chat turn. Request, ownership and model errors are returned before
// any event is produced. Everything after that is reported inside Events.
func Respond(ctx context.Context, deps RespondDeps, in RespondInput) (RespondOutput, error) {
	out := RespondOutput{}
	if deps.Log == nil || deps.Threads == nil || deps.Messages == nil || deps.Agents == nil || deps.Models == nil {
		return out, fmt.Errorf("chat respond: missing deps")
	}
	log := deps.Log

	turn, err := Intake(ctx, IntakeDeps{
		Log:      log,
		Threads:  deps.Threads,
		Messages: deps.Messages,
		Previews: deps.Previews,
		Download: deps.Download,
	}, IntakeInput{UserID: in.UserID, Preferences: in.Preferences, Request: in.Request})
	if err != nil {
		return out, err
	}

	limit := deps.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	history, err := deps.Messages.ListByThread(dbctx.Context{Ctx: ctx}, turn.Thread.ID, limit)
	if err != nil {
		return out, fmt.Errorf("load history: %w", err)
	}

	contexts, err := BuildAgentContexts(ctx, AgentContextDeps{
		Log:     log,
		Models:  deps.Models,
		Tools:   deps.Tools,
		Agents:  deps.Agents,
		Servers: deps.Servers,
	}, turn, history)
	if err != nil {
		return out, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	release := func() {}
	if deps.Runs != nil {
		release = deps.Runs.Register(turn.Thread.ID, cancel)
	}
	runCtx, span := observability.StartSpan(runCtx, "chat.respond",
		attribute.String("thread_id", turn.Thread.ID.String()),
		attribute.Int("agents", len(contexts)),
	)

	// The response continues an assistant message in place, or starts a new one.
	base := &chat.Message{ID: uuid.NewString(), ThreadID: turn.Thread.ID, Role: chat.RoleAssistant}
	if turn.Message.Role == chat.RoleAssistant {
		base = turn.Message
	}
	asm := uistream.NewAssembler(base)

	pending := NewPendingTools(log, turn.Message)
	callIDs := NewCallIDs(append([]*chat.Message{turn.Message}, history...)...)
	tasks := make([]*Task, 0, len(contexts))
	for _, ac := range contexts {
		tasks = append(tasks, StartGeneration(runCtx, GenerateDeps{Log: log, MaxSteps: deps.MaxSteps}, GenerateInput{
			Context: ac,
			History: history,
			Pending: pending,
			CallIDs: callIDs,
		}))
	}

	var stream <-chan uistream.Event
	if len(tasks) == 1 {
		stream = tasks[0].Events
	} else {
		sources := make([]Source, 0, len(tasks))
		for _, t := range tasks {
			sources = append(sources, TaskSource(t))
		}
		stream = Merge(log, sources)
	}

	if turn.ThreadCreated && deps.GenerateTitles {
		go func() {
			err := GenerateTitle(ctx, TitleDeps{Log: log, Threads: deps.Threads, Timeout: deps.TitleTimeout},
				turn.Thread.ID, contexts[0].Model, turn.Message.LastText())
			if err != nil {
				log.Warn("thread title generation failed", "thread_id", turn.Thread.ID, "error", err)
			}
		}()
	}

	events := make(chan uistream.Event, eventBuffer)
	started := time.Now()
	go func() {
		defer close(events)
		defer release()
		defer cancel()

		for ev := range stream {
			asm.Apply(ev)
			events <- ev
		}

		results := make([]TaskResult, 0, len(tasks))
		failed := 0
		for _, t := range tasks {
			r := t.Result()
			if r.Err != nil {
				failed++
			}
			results = append(results, r)
		}

		response := asm.Message()
		response.ThreadID = turn.Thread.ID
		response.Role = chat.RoleAssistant
		response.Metadata = chat.NewMetadata(foldMetadata(results, turn.Request.ToolChoice))
		if !anySucceeded(results) {
			// A failed turn is not stored; the incoming message still is.
			response = nil
		}
		ferr := Finalize(runCtx, FinalizeDeps{Log: log, Messages: deps.Messages}, turn.Message, response)
		if ferr != nil {
			log.Error("chat turn persistence failed", "thread_id", turn.Thread.ID, "error", ferr)
		}
		observability.EndSpan(span, ferr)
		recordTurn(results, failed, time.Since(started))
		log.Info("chat turn finished",
			"thread_id", turn.Thread.ID,
			"agents", len(tasks),
			"failed_agents", failed,
			"persisted", ferr == nil,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}()

	out.ThreadID = turn.Thread.ID
	out.ThreadCreated = turn.ThreadCreated
	out.ResponseMessageID = base.ID
	out.Events = events
	return out, nil
}

func recordTurn(results []TaskResult, failed int, dur time.Duration) {
	m := observability.Current()
	if m == nil {
		return
	}
	for _, r := range results {
		model, status := "", "ok"
		if r.Metadata.ChatModel != nil {
			model = r.Metadata.ChatModel.String()
		}
		if r.Err != nil {
			status = "error"
		}
		in, out := 0, 0
		if r.Metadata.Usage != nil {
			in, out = r.Metadata.Usage.InputTokens, r.Metadata.Usage.OutputTokens
		}
		m.ObserveGeneration(model, status, in, out)
	}
	outcome := "ok"
	switch {
	case failed == len(results):
		outcome = "failed"
	case failed > 0:
		outcome = "partial"
	}
	m.ObserveChatTurn(outcome, dur)
}
