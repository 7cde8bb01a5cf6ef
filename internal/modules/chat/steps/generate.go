package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/engine"
	"github.com/yungbote/chorus-backend/internal/observability"
	"github.com/yungbote/chorus-backend/internal/pkg/httpx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
	"github.com/yungbote/chorus-backend/internal/tools"
)

const (
	maxStreamAttempts = 2
	defaultRetryBase  = 300 * time.Millisecond
	eventBuffer       = 64
)

type GenerateDeps struct {
	Log       *logger.Logger
	MaxSteps  int
	RetryBase time.Duration
}

type GenerateInput struct {
	Context *AgentContext
	History []*chat.Message
	// Incoming is read only when Pending is nil; otherwise Pending owns the message.
	Incoming *chat.Message
	Pending  *PendingTools
	// CallIDs is shared by all tasks of a turn. A nil value scopes ids to this task.
	CallIDs *CallIDs
}

// TaskResult is what a generation task hands back once its sequence has ended.
type TaskResult struct {
	AgentID   string
	AgentName string
	Metadata  chat.Metadata
	Err       error
}

// Task is one running generation. Events is closed when the task ends; Result is
// ready by then.
type Task struct {
	AgentID   string
	AgentName string
	Events    <-chan uistream.Event

	result TaskResult
	done   chan struct{}
}

func (t *Task) Result() TaskResult {
	<-t.done
	return t.result
}

// StartGeneration runs one agent's model/tool loop in its own goroutine. Errors never
// escape the task: they end its sequence with a single error event.
func StartGeneration(ctx context.Context, deps GenerateDeps, in GenerateInput) *Task {
	ac := in.Context
	events := make(chan uistream.Event, eventBuffer)
	t := &Task{AgentID: ac.AgentID, AgentName: ac.AgentName, Events: events, done: make(chan struct{})}

	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	g := &generation{
		log:       log.With("agent_id", ac.AgentID, "model", ac.Model.Ref().String()),
		ac:        ac,
		maxSteps:  deps.MaxSteps,
		retryBase: deps.RetryBase,
		out:       events,
		acc:       newMetaAccumulator(providerKey(ac)),
		headers:   map[string]string{},
		callIDs:   in.CallIDs,
	}
	if g.callIDs == nil {
		seed := append([]*chat.Message{in.Incoming}, in.History...)
		g.callIDs = NewCallIDs(seed...)
	}
	if g.maxSteps <= 0 {
		g.maxSteps = DefaultMaxSteps
	}
	if g.retryBase <= 0 {
		g.retryBase = defaultRetryBase
	}
	for k, v := range ac.Headers {
		g.headers[k] = v
	}

	go func() {
		err := g.run(ctx, in)
		t.result = TaskResult{AgentID: ac.AgentID, AgentName: ac.AgentName, Metadata: g.metadata(err), Err: err}
		close(t.done)
		close(events)
	}()
	return t
}

type generation struct {
	log       *logger.Logger
	ac        *AgentContext
	maxSteps  int
	retryBase time.Duration
	headers   map[string]string
	callIDs   *CallIDs

	lastConversation string

	mu  sync.Mutex
	out chan<- uistream.Event
	acc *metaAccumulator
}

// emit is safe for concurrent use by tool goroutines.
func (g *generation) emit(ev uistream.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acc.observe(ev)
	g.out <- ev
}

func (g *generation) run(ctx context.Context, in GenerateInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "chat.agent.generate",
		attribute.String("agent_id", g.ac.AgentID),
		attribute.String("model", g.ac.Model.Ref().String()),
		attribute.Int("tool_count", len(g.ac.Tools)),
	)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("generation panicked: %v", rec)
		}
		if err != nil {
			g.fail(ctx, err)
		}
		observability.EndSpan(span, err)
	}()

	if g.ac.Model.Engine == nil {
		return fmt.Errorf("model %s has no engine", g.ac.Model.Ref().String())
	}

	var incoming *chat.Message
	if in.Pending != nil {
		incoming = in.Pending.Resolve(ctx, g.ac.Tools, g.emit)
	} else {
		incoming = in.Incoming.Clone()
	}
	msgs := toModelMessages(g.ac.SystemPrompt, in.History, incoming)

	var (
		total  *chat.Usage
		reason = "stop"
	)
	for step := 0; step < g.maxSteps; step++ {
		res, err := g.step(ctx, msgs)
		if err != nil {
			return err
		}
		total = total.Add(res.usage)
		reason = res.finishReason
		if len(res.toolMessages) == 0 || res.awaitingApproval {
			break
		}
		msgs = append(msgs, res.assistant)
		msgs = append(msgs, res.toolMessages...)
	}

	finish := uistream.Event{Type: uistream.TypeFinish, FinishReason: reason, Usage: total, ConversationID: g.lastConversation}
	if cid := g.acc.correlationID(); cid != "" {
		finish.MessageMetadata = map[string]any{metaConversationID: cid}
	}
	g.emit(finish)
	return nil
}

func (g *generation) fail(ctx context.Context, err error) {
	text := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		text = "generation stopped"
	}
	g.log.Warn("agent generation failed", "error", err)
	g.emit(uistream.ErrorEvent(text))
}

func (g *generation) metadata(err error) chat.Metadata {
	ref := g.ac.Model.Ref()
	cid := g.acc.correlationID()
	if cid == "" {
		// Keep the session continuous when the provider did not echo an id.
		cid = g.headers[HeaderConversationID]
	}
	return chat.Metadata{
		AgentID:       g.ac.AgentID,
		AgentName:     g.ac.AgentName,
		ToolChoice:    g.ac.ToolChoice,
		ToolCount:     len(g.ac.Tools),
		ChatModel:     &ref,
		Usage:         g.acc.usage(),
		CorrelationID: cid,
		Failed:        err != nil,
	}
}

type stepResult struct {
	finishReason     string
	usage            *chat.Usage
	assistant        engine.Message
	toolMessages     []engine.Message
	awaitingApproval bool
}

func (g *generation) step(ctx context.Context, msgs []engine.Message) (stepResult, error) {
	g.emit(uistream.Event{Type: uistream.TypeStepStart})

	st := newStepState(g.callIDs)
	req := engine.ChatRequest{
		Model:    upstreamModel(g.ac),
		Messages: msgs,
		Tools:    g.ac.Tools.Defs(),
		Headers:  g.headers,
	}
	if err := g.stream(ctx, req, st); err != nil {
		return stepResult{}, err
	}
	st.endBlocks(g.emit)

	res := stepResult{
		finishReason: st.finishReason,
		usage:        st.usage,
		assistant:    engine.Message{Role: "assistant", Content: st.text.String()},
	}
	if len(st.calls) > 0 {
		res.assistant.ToolCalls = st.calls
		res.toolMessages, res.awaitingApproval = g.runTools(ctx, st)
		if res.awaitingApproval {
			res.finishReason = "tool-calls"
		}
	}

	meta := map[string]any{}
	for k, v := range st.providerMeta {
		meta[k] = v
	}
	if st.conversationID != "" {
		g.lastConversation = st.conversationID
		meta[metaConversationID] = st.conversationID
		if g.headers[HeaderConversationID] == "" {
			g.headers[HeaderConversationID] = st.conversationID
		}
	}
	ev := uistream.Event{Type: uistream.TypeFinishStep, FinishReason: res.finishReason, Usage: res.usage}
	if len(meta) > 0 {
		ev.ProviderMetadata = map[string]map[string]any{providerKey(g.ac): meta}
	}
	g.emit(ev)
	return res, nil
}

// stream calls the engine, retrying once on transient errors as long as nothing
// has been received yet.
func (g *generation) stream(ctx context.Context, req engine.ChatRequest, st *stepState) error {
	for attempt := 1; ; attempt++ {
		received := false
		err := g.ac.Model.Engine.StreamChat(ctx, req, func(c engine.Chunk) error {
			received = true
			return st.apply(c, g.emit)
		})
		if err == nil {
			return nil
		}
		if received || attempt >= maxStreamAttempts || !httpx.IsRetryableError(err) {
			return err
		}
		g.log.Warn("model stream failed; retrying", "attempt", attempt, "error", err)
		if serr := httpx.Sleep(ctx, httpx.Backoff(attempt, g.retryBase, 2*time.Second)); serr != nil {
			return err
		}
	}
}

// runTools executes the step's tool calls concurrently. Results are emitted in
// completion order and returned as tool messages in call order. Calls that need
// approval are left open.
func (g *generation) runTools(ctx context.Context, st *stepState) ([]engine.Message, bool) {
	results := make([]*engine.Message, len(st.calls))
	awaiting := false
	var eg errgroup.Group
	for i, call := range st.calls {
		if st.invalid[call.ID] {
			results[i] = g.toolError(call, "invalid tool arguments")
			continue
		}
		t, ok := g.ac.Tools[call.Name]
		if !ok {
			results[i] = g.toolError(call, fmt.Sprintf("unknown tool %q", call.Name))
			continue
		}
		if tools.NeedsApproval(t) {
			awaiting = true
			continue
		}
		eg.Go(func() error {
			out, err := executeTool(ctx, t, call.Arguments)
			if err != nil {
				g.log.Warn("tool call failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
				results[i] = g.toolError(call, err.Error())
				return nil
			}
			g.emit(uistream.Event{Type: uistream.TypeToolOutputAvailable, ToolCallID: call.ID, ToolName: call.Name, Output: out})
			results[i] = &engine.Message{Role: "tool", ToolCallID: call.ID, Content: string(out)}
			return nil
		})
	}
	_ = eg.Wait()

	var msgs []engine.Message
	for _, r := range results {
		if r != nil {
			msgs = append(msgs, *r)
		}
	}
	return msgs, awaiting
}

func (g *generation) toolError(call engine.ToolCall, text string) *engine.Message {
	g.emit(uistream.Event{Type: uistream.TypeToolOutputError, ToolCallID: call.ID, ToolName: call.Name, ErrorText: text})
	b, _ := json.Marshal(map[string]string{"error": text})
	return &engine.Message{Role: "tool", ToolCallID: call.ID, Content: string(b)}
}

// stepState turns engine chunks into UI events for one model call.
type stepState struct {
	textID      string
	reasoningID string
	text        strings.Builder

	callIDs *CallIDs
	ids     map[string]string // engine id -> turn-unique id
	started map[string]string
	calls   []engine.ToolCall
	invalid map[string]bool

	finishReason   string
	usage          *chat.Usage
	conversationID string
	providerMeta   map[string]any
}

func newStepState(callIDs *CallIDs) *stepState {
	if callIDs == nil {
		callIDs = NewCallIDs()
	}
	return &stepState{
		callIDs:      callIDs,
		ids:          map[string]string{},
		started:      map[string]string{},
		invalid:      map[string]bool{},
		finishReason: "stop",
	}
}

// callID maps an engine tool-call id to its id in this turn. Chunks of one call
// share the engine id, so the mapping is kept for the whole step.
func (s *stepState) callID(engineID string) string {
	if engineID == "" {
		return s.callIDs.Claim("")
	}
	if id, ok := s.ids[engineID]; ok {
		return id
	}
	id := s.callIDs.Claim(engineID)
	s.ids[engineID] = id
	return id
}

func (s *stepState) apply(c engine.Chunk, emit func(uistream.Event)) error {
	switch c.Type {
	case engine.ChunkText:
		if c.Text == "" {
			return nil
		}
		s.endReasoning(emit)
		if s.textID == "" {
			s.textID = uuid.NewString()
			emit(uistream.Event{Type: uistream.TypeTextStart, ID: s.textID})
		}
		s.text.WriteString(c.Text)
		emit(uistream.Event{Type: uistream.TypeTextDelta, ID: s.textID, Delta: c.Text})
	case engine.ChunkReasoning:
		if c.Text == "" {
			return nil
		}
		s.endText(emit)
		if s.reasoningID == "" {
			s.reasoningID = uuid.NewString()
			emit(uistream.Event{Type: uistream.TypeReasoningStart, ID: s.reasoningID})
		}
		emit(uistream.Event{Type: uistream.TypeReasoningDelta, ID: s.reasoningID, Delta: c.Text})
	case engine.ChunkToolCallStart:
		s.endBlocks(emit)
		s.startTool(s.callID(c.ID), c.Name, emit)
	case engine.ChunkToolCallDelta:
		if c.ArgsDelta != "" && c.ID != "" {
			id := s.callID(c.ID)
			s.startTool(id, c.Name, emit)
			emit(uistream.Event{Type: uistream.TypeToolInputDelta, ToolCallID: id, Delta: c.ArgsDelta})
		}
	case engine.ChunkToolCall:
		s.endBlocks(emit)
		id := s.callID(c.ID)
		name := c.Name
		if name == "" {
			name = s.started[id]
		}
		s.startTool(id, name, emit)
		args := c.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if !json.Valid(args) {
			s.invalid[id] = true
			args = json.RawMessage(`{}`)
		}
		s.calls = append(s.calls, engine.ToolCall{ID: id, Name: name, Arguments: args})
		emit(uistream.Event{Type: uistream.TypeToolInputAvailable, ToolCallID: id, ToolName: name, Input: args})
	case engine.ChunkFinish:
		if c.FinishReason != "" {
			s.finishReason = c.FinishReason
		}
		s.usage = toUsage(c.Usage)
		s.conversationID = c.ConversationID
		s.providerMeta = c.ProviderMetadata
	}
	return nil
}

func (s *stepState) startTool(id, name string, emit func(uistream.Event)) {
	if _, ok := s.started[id]; ok {
		return
	}
	s.started[id] = name
	emit(uistream.Event{Type: uistream.TypeToolInputStart, ToolCallID: id, ToolName: name})
}

func (s *stepState) endText(emit func(uistream.Event)) {
	if s.textID != "" {
		emit(uistream.Event{Type: uistream.TypeTextEnd, ID: s.textID})
		s.textID = ""
	}
}

func (s *stepState) endReasoning(emit func(uistream.Event)) {
	if s.reasoningID != "" {
		emit(uistream.Event{Type: uistream.TypeReasoningEnd, ID: s.reasoningID})
		s.reasoningID = ""
	}
}

func (s *stepState) endBlocks(emit func(uistream.Event)) {
	s.endReasoning(emit)
	s.endText(emit)
}

// metaAccumulator folds a task's own events into its usage and correlation id.
// Correlation ids are taken from finish-step provider metadata first, then from
// finish message metadata, then from the finish event itself.
type metaAccumulator struct {
	provider string

	stepUsage   *chat.Usage
	finishUsage *chat.Usage

	stepID   string
	finishID string
	rootID   string
}

func newMetaAccumulator(provider string) *metaAccumulator {
	return &metaAccumulator{provider: provider}
}

func (a *metaAccumulator) observe(ev uistream.Event) {
	switch ev.Type {
	case uistream.TypeFinishStep:
		a.stepUsage = a.stepUsage.Add(ev.Usage)
		if s, ok := ev.ProviderMetadata[a.provider][metaConversationID].(string); ok && s != "" {
			a.stepID = s
		}
	case uistream.TypeFinish:
		if ev.Usage != nil {
			a.finishUsage = ev.Usage
		}
		if s, ok := ev.MessageMetadata[metaConversationID].(string); ok && s != "" {
			a.finishID = s
		}
		if ev.ConversationID != "" {
			a.rootID = ev.ConversationID
		}
	}
}

func (a *metaAccumulator) usage() *chat.Usage {
	if a.finishUsage != nil {
		return a.finishUsage
	}
	return a.stepUsage
}

func (a *metaAccumulator) correlationID() string {
	for _, id := range []string{a.stepID, a.finishID, a.rootID} {
		if id != "" {
			return id
		}
	}
	return ""
}

func providerKey(ac *AgentContext) string {
	if ac.Model.Provider != "" {
		return ac.Model.Provider
	}
	return "default"
}

func upstreamModel(ac *AgentContext) string {
	if ac.Model.UpstreamModel != "" {
		return ac.Model.UpstreamModel
	}
	return ac.Model.Model
}
