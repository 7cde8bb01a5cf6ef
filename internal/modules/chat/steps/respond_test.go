package steps

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/engine"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/realtime"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
	"github.com/yungbote/chorus-backend/internal/tools"
)

func respond(t *testing.T, env *testEnv, req ChatRequest) (RespondOutput, []uistream.Event) {
	t.Helper()
	out, err := Respond(context.Background(), env.deps, RespondInput{UserID: env.userID, Request: req})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	return out, drain(t, out.Events)
}

func partText(m *chat.Message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == chat.PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func TestRespondDirectTurnPassesThrough(t *testing.T) {
	env := newTestEnv(t)
	eng := &scriptedEngine{scripts: [][]engine.Chunk{textScript("conv-1", "Hel", "lo")}}
	ref := env.models.add("m1", eng, true)

	incoming := userMessage("hi")
	out, evs := respond(t, env, ChatRequest{ThreadID: uuid.New(), Message: incoming, ChatModel: &ref})

	want := []uistream.Type{
		uistream.TypeStepStart,
		uistream.TypeTextStart, uistream.TypeTextDelta, uistream.TypeTextDelta, uistream.TypeTextEnd,
		uistream.TypeFinishStep, uistream.TypeFinish,
	}
	got := eventTypes(evs)
	if len(got) != len(want) {
		t.Fatalf("events: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: want=%s got=%s", i, want[i], got[i])
		}
	}
	if cid := evs[5].ProviderMetadata["test"][metaConversationID]; cid != "conv-1" {
		t.Fatalf("finish-step conversation id: want=conv-1 got=%v", cid)
	}
	if !out.ThreadCreated {
		t.Fatalf("expected thread to be created")
	}

	thread, err := env.threads.GetByID(dbcBackground(), out.ThreadID)
	if err != nil || thread == nil || thread.UserID != env.userID {
		t.Fatalf("thread: got %+v err=%v", thread, err)
	}
	stored, err := env.messages.GetByID(dbcBackground(), incoming.ID)
	if err != nil || stored == nil || partText(stored) != "hi" {
		t.Fatalf("incoming: got %+v err=%v", stored, err)
	}
	resp, err := env.messages.GetByID(dbcBackground(), out.ResponseMessageID)
	if err != nil || resp == nil {
		t.Fatalf("response not stored: err=%v", err)
	}
	if resp.Role != chat.RoleAssistant || partText(resp) != "Hello" {
		t.Fatalf("response: role=%s text=%q", resp.Role, partText(resp))
	}
	md := resp.Metadata.Data()
	if md.CorrelationID != "conv-1" || md.Usage == nil || md.Usage.TotalTokens != 5 || md.ToolChoice != chat.ToolChoiceAuto {
		t.Fatalf("metadata: got %+v", md)
	}
}

func TestRespondRejectsForeignThread(t *testing.T) {
	env := newTestEnv(t)
	ref := env.models.add("m1", &scriptedEngine{}, true)
	other, err := env.threads.Create(dbcBackground(), &chat.Thread{ID: uuid.New(), UserID: uuid.New()})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}

	incoming := userMessage("hi")
	_, err = Respond(context.Background(), env.deps, RespondInput{
		UserID:  env.userID,
		Request: ChatRequest{ThreadID: other.ID, Message: incoming, ChatModel: &ref},
	})
	if !apierr.Is(err, apierr.CodeForbidden) {
		t.Fatalf("want forbidden, got %v", err)
	}
	if m, _ := env.messages.GetByID(dbcBackground(), incoming.ID); m != nil {
		t.Fatalf("nothing should be stored on a rejected turn")
	}
}

func TestRespondValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		req  ChatRequest
		code string
	}{
		{"no model or agent", ChatRequest{ThreadID: uuid.New(), Message: userMessage("x")}, apierr.CodeValidation},
		{"no message", ChatRequest{ThreadID: uuid.New(), ChatModel: &chat.ModelRef{Model: "m1"}}, apierr.CodeValidation},
		{"unknown model", ChatRequest{ThreadID: uuid.New(), Message: userMessage("x"), ChatModel: &chat.ModelRef{Model: "nope"}}, apierr.CodeConfiguration},
		{"bad tool choice", ChatRequest{ThreadID: uuid.New(), Message: userMessage("x"), ChatModel: &chat.ModelRef{Model: "m1"}, ToolChoice: "sometimes"}, apierr.CodeValidation},
		{"unknown agent", ChatRequest{ThreadID: uuid.New(), Message: userMessage("x"), Mentions: []chat.Mention{{Kind: chat.MentionAgent, ID: uuid.NewString()}}}, apierr.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Respond(context.Background(), env.deps, RespondInput{UserID: env.userID, Request: tc.req})
			if !apierr.Is(err, tc.code) {
				t.Fatalf("want code=%s got=%v", tc.code, err)
			}
		})
	}

	_, err := Respond(context.Background(), env.deps, RespondInput{Request: ChatRequest{ThreadID: uuid.New(), Message: userMessage("x")}})
	if !apierr.Is(err, apierr.CodeUnauthenticated) {
		t.Fatalf("want unauthenticated, got %v", err)
	}
}

func TestRespondMultiAgentMergesAndPersists(t *testing.T) {
	env := newTestEnv(t)
	env.models.add("m-alpha", &scriptedEngine{scripts: [][]engine.Chunk{textScript("conv-a", "A1", "A2")}}, true)
	env.models.add("m-beta", &scriptedEngine{scripts: [][]engine.Chunk{textScript("conv-b", "B1")}}, true)
	alpha := env.createAgent(t, "Alpha", "m-alpha")
	beta := env.createAgent(t, "Beta", "m-beta")

	incoming := userMessage("@Alpha @Beta compare")
	out, evs := respond(t, env, ChatRequest{
		ThreadID: uuid.New(),
		Message:  incoming,
		Mentions: []chat.Mention{
			{Kind: chat.MentionAgent, ID: alpha.ID.String()},
			{Kind: chat.MentionAgent, ID: beta.ID.String()},
		},
	})

	if n := countType(evs, uistream.TypeAgentFinish); n != 2 {
		t.Fatalf("agent finishes: want=2 got=%d", n)
	}
	if n := countType(evs, uistream.TypeFinish); n != 2 {
		t.Fatalf("finish events: want=2 got=%d", n)
	}
	tagged := map[string]bool{}
	for _, ev := range evs {
		if ev.Type == uistream.TypeAgentTag {
			tagged[ev.Tag.AgentID] = true
		}
	}
	if !tagged[alpha.ID.String()] || !tagged[beta.ID.String()] {
		t.Fatalf("both agents should be tagged: %v", tagged)
	}

	resp, err := env.messages.GetByID(dbcBackground(), out.ResponseMessageID)
	if err != nil || resp == nil {
		t.Fatalf("response not stored: err=%v", err)
	}
	text := partText(resp)
	if !strings.Contains(text, "A1A2") || !strings.Contains(text, "B1") {
		t.Fatalf("merged text: got %q", text)
	}
	md := resp.Metadata.Data()
	if len(md.Agents) != 2 {
		t.Fatalf("per-agent metadata: got %+v", md.Agents)
	}
	if md.Agents[alpha.ID.String()].CorrelationID != "conv-a" || md.Agents[beta.ID.String()].CorrelationID != "conv-b" {
		t.Fatalf("correlation ids: got %+v / %+v", md.Agents[alpha.ID.String()], md.Agents[beta.ID.String()])
	}
	if md.Usage == nil || md.Usage.TotalTokens != 5+4 {
		t.Fatalf("summed usage: got %+v", md.Usage)
	}
	if md.CorrelationFor(beta.ID.String()) != "conv-b" {
		t.Fatalf("CorrelationFor(beta): got %q", md.CorrelationFor(beta.ID.String()))
	}
}

func TestRespondOneAgentFails(t *testing.T) {
	env := newTestEnv(t)
	env.models.add("m-alpha", &scriptedEngine{scripts: [][]engine.Chunk{textScript("conv-a", "fine")}}, true)
	env.models.add("m-beta", &scriptedEngine{errs: []error{errors.New("upstream exploded")}}, true)
	alpha := env.createAgent(t, "Alpha", "m-alpha")
	beta := env.createAgent(t, "Beta", "m-beta")

	out, evs := respond(t, env, ChatRequest{
		ThreadID: uuid.New(),
		Message:  userMessage("both"),
		Mentions: []chat.Mention{
			{Kind: chat.MentionAgent, ID: alpha.ID.String()},
			{Kind: chat.MentionAgent, ID: beta.ID.String()},
		},
	})

	if n := countType(evs, uistream.TypeError); n != 1 {
		t.Fatalf("error events: want=1 got=%d", n)
	}
	if n := countType(evs, uistream.TypeAgentFinish); n != 2 {
		t.Fatalf("agent finishes: want=2 got=%d", n)
	}
	resp, err := env.messages.GetByID(dbcBackground(), out.ResponseMessageID)
	if err != nil || resp == nil {
		t.Fatalf("partial response should be stored: err=%v", err)
	}
	if partText(resp) != "fine" {
		t.Fatalf("text: want=fine got=%q", partText(resp))
	}
	md := resp.Metadata.Data()
	if !md.Agents[beta.ID.String()].Failed || md.Agents[alpha.ID.String()].Failed {
		t.Fatalf("failure flags: got alpha=%+v beta=%+v", md.Agents[alpha.ID.String()], md.Agents[beta.ID.String()])
	}
	hasError := false
	for _, p := range resp.Parts {
		if p.Type == chat.PartError && strings.Contains(p.ErrorText, "upstream exploded") {
			hasError = true
		}
	}
	if !hasError {
		t.Fatalf("error part missing: %+v", resp.Parts)
	}
}

func TestRespondAllAgentsFailStoresOnlyIncoming(t *testing.T) {
	env := newTestEnv(t)
	ref := env.models.add("m1", &scriptedEngine{errs: []error{errors.New("no capacity")}}, true)

	incoming := userMessage("hello?")
	out, evs := respond(t, env, ChatRequest{ThreadID: uuid.New(), Message: incoming, ChatModel: &ref})

	last := evs[len(evs)-1]
	if last.Type != uistream.TypeError || last.ErrorText != "no capacity" {
		t.Fatalf("last event: got %+v", last)
	}
	if m, _ := env.messages.GetByID(dbcBackground(), incoming.ID); m == nil {
		t.Fatalf("incoming message should be stored")
	}
	if m, _ := env.messages.GetByID(dbcBackground(), out.ResponseMessageID); m != nil {
		t.Fatalf("failed response should not be stored")
	}
}

func TestRespondRunsToolLoop(t *testing.T) {
	env := newTestEnv(t)
	eng := &scriptedEngine{scripts: [][]engine.Chunk{
		toolScript("call-1", "echo", `{"q":1}`),
		textScript("", "done"),
	}}
	ref := env.models.add("m1", eng, true)
	env.deps.Tools = staticTools{set: tools.Set{"echo": echoTool("echo")}}

	out, evs := respond(t, env, ChatRequest{ThreadID: uuid.New(), Message: userMessage("use echo"), ChatModel: &ref})

	if eng.callCount() != 2 {
		t.Fatalf("model calls: want=2 got=%d", eng.callCount())
	}
	if n := countType(evs, uistream.TypeStepStart); n != 2 {
		t.Fatalf("steps: want=2 got=%d", n)
	}
	second := eng.request(1)
	lastMsg := second.Messages[len(second.Messages)-1]
	if lastMsg.Role != "tool" || lastMsg.ToolCallID != "call-1" || !strings.Contains(lastMsg.Content, `"q":1`) {
		t.Fatalf("tool result not fed back: %+v", lastMsg)
	}
	if len(eng.request(0).Tools) != 1 {
		t.Fatalf("tool defs offered: got %+v", eng.request(0).Tools)
	}

	resp, _ := env.messages.GetByID(dbcBackground(), out.ResponseMessageID)
	if resp == nil {
		t.Fatalf("response not stored")
	}
	var tool *chat.Part
	for i := range resp.Parts {
		if resp.Parts[i].Type == chat.PartToolInvocation {
			tool = &resp.Parts[i]
		}
	}
	if tool == nil || tool.State != chat.ToolOutputAvailable || tool.ToolCallID != "call-1" {
		t.Fatalf("tool part: got %+v", tool)
	}
	if partText(resp) != "done" {
		t.Fatalf("text: want=done got=%q", partText(resp))
	}
	if resp.Metadata.Data().ToolCount != 1 {
		t.Fatalf("tool count: got %d", resp.Metadata.Data().ToolCount)
	}
}

// echoOnceEngine calls echo with a fixed id until it sees the tool result.
type echoOnceEngine struct{ scriptedEngine }

func (e *echoOnceEngine) StreamChat(ctx context.Context, req engine.ChatRequest, onChunk func(engine.Chunk) error) error {
	script := toolScript("call-1", "echo", `{"q":1}`)
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "tool" {
		script = textScript("", "ok")
	}
	for _, c := range script {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

func TestRespondAgentsOnOneModelKeepSeparateToolCalls(t *testing.T) {
	env := newTestEnv(t)
	ref := env.models.add("m1", &echoOnceEngine{}, true)
	env.deps.Tools = staticTools{set: tools.Set{"echo": echoTool("echo")}}
	alpha := env.createAgent(t, "Alpha", "m1")
	beta := env.createAgent(t, "Beta", "m1")

	out, _ := respond(t, env, ChatRequest{
		ThreadID:  uuid.New(),
		Message:   userMessage("@Alpha @Beta echo"),
		ChatModel: &ref,
		Mentions: []chat.Mention{
			{Kind: chat.MentionAgent, ID: alpha.ID.String()},
			{Kind: chat.MentionAgent, ID: beta.ID.String()},
		},
	})

	resp, _ := env.messages.GetByID(dbcBackground(), out.ResponseMessageID)
	if resp == nil {
		t.Fatalf("response not stored")
	}
	ids := map[string]bool{}
	for _, p := range resp.Parts {
		if p.Type != chat.PartToolInvocation {
			continue
		}
		if p.State != chat.ToolOutputAvailable {
			t.Fatalf("tool part state: want=%s got=%s", chat.ToolOutputAvailable, p.State)
		}
		ids[p.ToolCallID] = true
	}
	if len(ids) != 2 {
		t.Fatalf("tool invocation parts: want=2 distinct got=%v", ids)
	}
	if !ids["call-1"] {
		t.Fatalf("first claim should keep the engine id: got=%v", ids)
	}
}

func TestRespondManualModeWithoutMentionsOffersNoTools(t *testing.T) {
	env := newTestEnv(t)
	eng := &scriptedEngine{scripts: [][]engine.Chunk{textScript("", "ok")}}
	ref := env.models.add("m1", eng, true)
	env.deps.Tools = staticTools{set: tools.Set{"echo": echoTool("echo")}}

	respond(t, env, ChatRequest{ThreadID: uuid.New(), Message: userMessage("hi"), ChatModel: &ref, ToolChoice: chat.ToolChoiceManual})
	if len(eng.request(0).Tools) != 0 {
		t.Fatalf("manual mode offered tools: %+v", eng.request(0).Tools)
	}
}

func TestRespondApprovalContinuesSameMessage(t *testing.T) {
	env := newTestEnv(t)
	eng := &scriptedEngine{scripts: [][]engine.Chunk{
		toolScript("call-1", "echo", `{"q":2}`),
		textScript("", "approved and done"),
	}}
	ref := env.models.add("m1", eng, true)
	executed := 0
	env.deps.Tools = staticTools{set: tools.Set{"echo": tools.New(tools.Spec{Name: "echo", Source: tools.SourceDefault},
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			executed++
			return json.RawMessage(`"ok"`), nil
		})}}

	threadID := uuid.New()
	out, evs := respond(t, env, ChatRequest{ThreadID: threadID, Message: userMessage("go"), ChatModel: &ref, ToolChoice: chat.ToolChoiceApproval})
	if executed != 0 {
		t.Fatalf("tool ran before approval")
	}
	if last := evs[len(evs)-1]; last.Type != uistream.TypeFinish || last.FinishReason != "tool-calls" {
		t.Fatalf("first turn finish: got %+v", last)
	}

	pending, _ := env.messages.GetByID(dbcBackground(), out.ResponseMessageID)
	if pending == nil {
		t.Fatalf("pending response not stored")
	}
	approved := false
	for i := range pending.Parts {
		if pending.Parts[i].Pending() {
			pending.Parts[i].Approval = &chat.Approval{Approved: true}
			approved = true
		}
	}
	if !approved {
		t.Fatalf("no pending tool part: %+v", pending.Parts)
	}

	out2, evs2 := respond(t, env, ChatRequest{ThreadID: threadID, Message: pending, ChatModel: &ref, ToolChoice: chat.ToolChoiceApproval})
	if out2.ResponseMessageID != out.ResponseMessageID {
		t.Fatalf("continuation should reuse message id: want=%s got=%s", out.ResponseMessageID, out2.ResponseMessageID)
	}
	if executed != 1 {
		t.Fatalf("tool executions: want=1 got=%d", executed)
	}
	if evs2[0].Type != uistream.TypeToolOutputAvailable {
		t.Fatalf("first continuation event: got %s", evs2[0].Type)
	}

	var count int64
	history, _ := env.messages.ListByThread(dbcBackground(), threadID, 10)
	for _, m := range history {
		if m.ID == out.ResponseMessageID {
			count++
		}
	}
	if count != 1 || len(history) != 2 {
		t.Fatalf("want one user and one assistant row, got %d rows (%d for response)", len(history), count)
	}
	final, _ := env.messages.GetByID(dbcBackground(), out.ResponseMessageID)
	if !strings.Contains(partText(final), "approved and done") {
		t.Fatalf("final text: got %q", partText(final))
	}
	for _, p := range final.Parts {
		if p.Type == chat.PartToolInvocation && p.State != chat.ToolOutputAvailable {
			t.Fatalf("tool part still open: %+v", p)
		}
	}
}

func TestRespondDeclinedToolIsReported(t *testing.T) {
	env := newTestEnv(t)
	eng := &scriptedEngine{scripts: [][]engine.Chunk{
		toolScript("call-1", "echo", `{}`),
		textScript("", "ok, skipped"),
	}}
	ref := env.models.add("m1", eng, true)
	env.deps.Tools = staticTools{set: tools.Set{"echo": echoTool("echo")}}

	threadID := uuid.New()
	out, _ := respond(t, env, ChatRequest{ThreadID: threadID, Message: userMessage("go"), ChatModel: &ref, ToolChoice: chat.ToolChoiceApproval})
	pending, _ := env.messages.GetByID(dbcBackground(), out.ResponseMessageID)
	for i := range pending.Parts {
		if pending.Parts[i].Pending() {
			pending.Parts[i].Approval = &chat.Approval{Approved: false, Reason: "not now"}
		}
	}
	_, evs := respond(t, env, ChatRequest{ThreadID: threadID, Message: pending, ChatModel: &ref, ToolChoice: chat.ToolChoiceApproval})
	if evs[0].Type != uistream.TypeToolOutputError || !strings.Contains(evs[0].ErrorText, "not now") {
		t.Fatalf("declined event: got %+v", evs[0])
	}
}

func TestRespondCarriesCorrelationAcrossTurns(t *testing.T) {
	env := newTestEnv(t)
	eng := &scriptedEngine{scripts: [][]engine.Chunk{textScript("conv-77", "one"), textScript("conv-77", "two")}}
	ref := env.models.add("m1", eng, true)

	threadID := uuid.New()
	respond(t, env, ChatRequest{ThreadID: threadID, Message: userMessage("first"), ChatModel: &ref})
	if h := eng.request(0).Headers[HeaderConversationID]; h != "" {
		t.Fatalf("first turn should start fresh, got %q", h)
	}
	out, _ := respond(t, env, ChatRequest{ThreadID: threadID, Message: userMessage("second"), ChatModel: &ref})
	if out.ThreadCreated {
		t.Fatalf("second turn should reuse the thread")
	}
	if h := eng.request(1).Headers[HeaderConversationID]; h != "conv-77" {
		t.Fatalf("second turn header: want=conv-77 got=%q", h)
	}
	msgs := eng.request(1).Messages
	if msgs[0].Role != "system" || msgs[len(msgs)-1].Content != "second" {
		t.Fatalf("model context: got %+v", msgs)
	}
}

func TestRespondStopCancelsGeneration(t *testing.T) {
	env := newTestEnv(t)
	eng := &scriptedEngine{scripts: [][]engine.Chunk{textScript("", "never")}, gate: make(chan struct{})}
	ref := env.models.add("m1", eng, true)
	runs := realtime.NewRuns()
	env.deps.Runs = runs

	incoming := userMessage("long task")
	out, err := Respond(context.Background(), env.deps, RespondInput{
		UserID:  env.userID,
		Request: ChatRequest{ThreadID: uuid.New(), Message: incoming, ChatModel: &ref},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !runs.Active(out.ThreadID) {
		t.Fatalf("run should be registered")
	}
	if n := runs.Cancel(out.ThreadID); n != 1 {
		t.Fatalf("cancelled runs: want=1 got=%d", n)
	}
	evs := drain(t, out.Events)
	last := evs[len(evs)-1]
	if last.Type != uistream.TypeError || last.ErrorText != "generation stopped" {
		t.Fatalf("last event: got %+v", last)
	}
	if runs.Active(out.ThreadID) {
		t.Fatalf("run should be released")
	}
	if m, _ := env.messages.GetByID(dbcBackground(), incoming.ID); m == nil {
		t.Fatalf("incoming message should survive a stop")
	}
}

func TestRespondGeneratesTitleForNewThread(t *testing.T) {
	env := newTestEnv(t)
	eng := &scriptedEngine{scripts: [][]engine.Chunk{textScript("", "hey")}, title: "\"Weekend in Lisbon.\"\nextra"}
	ref := env.models.add("m1", eng, true)
	env.deps.GenerateTitles = true

	out, _ := respond(t, env, ChatRequest{ThreadID: uuid.New(), Message: userMessage("plan a weekend in Lisbon"), ChatModel: &ref})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		th, _ := env.threads.GetByID(dbcBackground(), out.ThreadID)
		if th != nil && th.Title == "Weekend in Lisbon" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	th, _ := env.threads.GetByID(dbcBackground(), out.ThreadID)
	t.Fatalf("title: want=%q got=%q", "Weekend in Lisbon", th.Title)
}
