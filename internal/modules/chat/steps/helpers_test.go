package steps

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/data/repos/testutil"
	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/engine"
	"github.com/yungbote/chorus-backend/internal/inference/router"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
	"github.com/yungbote/chorus-backend/internal/tools"
)

// scriptedEngine replays one chunk script per StreamChat call. Once the scripts run
// out the last one is repeated.
type scriptedEngine struct {
	mu       sync.Mutex
	scripts  [][]engine.Chunk
	errs     []error
	title    string
	calls    int
	requests []engine.ChatRequest
	// gate, when set, is waited on before the first chunk of every call.
	gate chan struct{}
}

func (e *scriptedEngine) GenerateText(ctx context.Context, model string, messages []engine.Message, opts engine.GenerateOptions) (string, error) {
	return e.title, nil
}

func (e *scriptedEngine) StreamChat(ctx context.Context, req engine.ChatRequest, onChunk func(engine.Chunk) error) error {
	e.mu.Lock()
	n := e.calls
	e.calls++
	headers := map[string]string{}
	for k, v := range req.Headers {
		headers[k] = v
	}
	req.Headers = headers
	e.requests = append(e.requests, req)
	var err error
	if n < len(e.errs) {
		err = e.errs[n]
	}
	var script []engine.Chunk
	if len(e.scripts) > 0 {
		script = e.scripts[min(n, len(e.scripts)-1)]
	}
	gate := e.gate
	e.mu.Unlock()

	if err != nil {
		return err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, c := range script {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *scriptedEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *scriptedEngine) request(i int) engine.ChatRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[i]
}

func textScript(conversationID string, deltas ...string) []engine.Chunk {
	var out []engine.Chunk
	for _, d := range deltas {
		out = append(out, engine.Chunk{Type: engine.ChunkText, Text: d})
	}
	return append(out, engine.Chunk{
		Type:           engine.ChunkFinish,
		FinishReason:   "stop",
		Usage:          &engine.Usage{InputTokens: 3, OutputTokens: len(deltas), TotalTokens: 3 + len(deltas)},
		ConversationID: conversationID,
	})
}

func toolScript(id, name, args string) []engine.Chunk {
	return []engine.Chunk{
		{Type: engine.ChunkToolCallStart, ID: id, Name: name},
		{Type: engine.ChunkToolCallDelta, ID: id, ArgsDelta: args},
		{Type: engine.ChunkToolCall, ID: id, Name: name, Arguments: json.RawMessage(args)},
		{Type: engine.ChunkFinish, FinishReason: "tool-calls", Usage: &engine.Usage{InputTokens: 2, OutputTokens: 1, TotalTokens: 3}},
	}
}

// fakeModels resolves by model id only.
type fakeModels struct {
	handles map[string]router.Handle
}

func newFakeModels() *fakeModels { return &fakeModels{handles: map[string]router.Handle{}} }

func (m *fakeModels) add(model string, eng engine.Engine, toolCalls bool) chat.ModelRef {
	m.handles[model] = router.Handle{Provider: "test", Model: model, UpstreamModel: model, ToolCalls: toolCalls, Engine: eng}
	return chat.ModelRef{Provider: "test", Model: model}
}

func (m *fakeModels) Resolve(ref chat.ModelRef) (router.Handle, error) {
	h, ok := m.handles[ref.Model]
	if !ok {
		return router.Handle{}, apierr.Misconfigured("unknown model %s", ref.String())
	}
	return h, nil
}

func (m *fakeModels) SupportsToolCalls(h router.Handle) bool { return h.ToolCalls }

// staticTools hands out the same set for every load the gate allows.
type staticTools struct {
	set tools.Set
}

func (s staticTools) Load(ctx context.Context, req tools.LoadRequest, allow func(tools.Source) bool) tools.Set {
	out := tools.Set{}
	for name, t := range s.set {
		if allow(t.Spec().Source) {
			out[name] = t
		}
	}
	return out
}

func echoTool(name string) tools.Tool {
	return tools.New(tools.Spec{Name: name, Source: tools.SourceDefault, Parameters: map[string]any{"type": "object"}},
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"echo":` + string(input) + `}`), nil
		})
}

type testEnv struct {
	deps   RespondDeps
	models *fakeModels
	userID uuid.UUID

	threads  repos.ThreadRepo
	messages repos.MessageRepo
	agents   repos.AgentRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.DB(t)
	// Background title updates write while the turn is being persisted.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	log := testutil.Logger(t)
	env := &testEnv{
		models:   newFakeModels(),
		userID:   uuid.New(),
		threads:  repos.NewThreadRepo(db, log),
		messages: repos.NewMessageRepo(db, log),
		agents:   repos.NewAgentRepo(db, log),
	}
	env.deps = RespondDeps{
		Log:      log,
		Threads:  env.threads,
		Messages: env.messages,
		Agents:   env.agents,
		Servers:  repos.NewMcpServerRepo(db, log),
		Models:   env.models,
	}
	return env
}

func (env *testEnv) createAgent(t *testing.T, name, model string) *chat.Agent {
	t.Helper()
	rows, err := env.agents.Create(dbcBackground(), []*chat.Agent{{
		ID:           uuid.New(),
		UserID:       env.userID,
		Name:         name,
		Provider:     "test",
		Model:        model,
		Instructions: "You are " + name + ".",
	}})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return rows[0]
}

func dbcBackground() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func userMessage(text string) *chat.Message {
	return &chat.Message{ID: uuid.NewString(), Role: chat.RoleUser, Parts: []chat.Part{chat.TextPart(text)}}
}

func drain(t *testing.T, ch <-chan uistream.Event) []uistream.Event {
	t.Helper()
	var out []uistream.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(out))
			return out
		}
	}
}

func eventTypes(evs []uistream.Event) []uistream.Type {
	out := make([]uistream.Type, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func countType(evs []uistream.Event, typ uistream.Type) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
