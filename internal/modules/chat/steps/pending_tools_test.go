package steps

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
	"github.com/yungbote/chorus-backend/internal/tools"
)

func pendingPart(id, name string, approval *chat.Approval) chat.Part {
	return chat.Part{
		Type:       chat.PartToolInvocation,
		ToolCallID: id,
		ToolName:   name,
		Input:      json.RawMessage(`{"n":1}`),
		State:      chat.ToolInputAvailable,
		Approval:   approval,
	}
}

type eventSink struct {
	mu  sync.Mutex
	evs []uistream.Event
}

func (s *eventSink) emit(ev uistream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
}

func TestPendingToolsResolve(t *testing.T) {
	failing := tools.New(tools.Spec{Name: "fail"}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("tool broke")
	})
	set := tools.Set{"echo": echoTool("echo"), "fail": failing}
	gated := tools.RequireApproval(tools.Set{"gated": echoTool("gated")})
	for k, v := range gated {
		set[k] = v
	}

	msg := &chat.Message{ID: "m1", Role: chat.RoleAssistant, Parts: []chat.Part{
		chat.TextPart("working"),
		pendingPart("c-echo", "echo", nil),
		pendingPart("c-fail", "fail", nil),
		pendingPart("c-declined", "echo", &chat.Approval{Approved: false, Reason: "too risky"}),
		pendingPart("c-gated", "gated", nil),
		pendingPart("c-unknown", "elsewhere", nil),
	}}
	p := NewPendingTools(logger.Nop(), msg)
	sink := &eventSink{}
	out := p.Resolve(context.Background(), set, sink.emit)

	if len(sink.evs) != 3 {
		t.Fatalf("events: want=3 got=%+v", sink.evs)
	}
	wantOrder := []string{"c-echo", "c-fail", "c-declined"}
	for i, id := range wantOrder {
		if sink.evs[i].ToolCallID != id {
			t.Fatalf("event %d: want=%s got=%s", i, id, sink.evs[i].ToolCallID)
		}
	}

	byID := map[string]chat.Part{}
	for _, part := range out.Parts {
		byID[part.ToolCallID] = part
	}
	if got := byID["c-echo"]; got.State != chat.ToolOutputAvailable || string(got.Output) != `{"echo":{"n":1}}` {
		t.Fatalf("echo: got %+v", got)
	}
	if got := byID["c-fail"]; got.State != chat.ToolOutputError || got.ErrorText != "tool broke" {
		t.Fatalf("fail: got %+v", got)
	}
	if got := byID["c-declined"]; got.State != chat.ToolOutputError || got.ErrorText != declinedToolText+" Reason: too risky" {
		t.Fatalf("declined: got %+v", got)
	}
	if !byID["c-gated"].Pending() || !byID["c-unknown"].Pending() {
		t.Fatalf("gated and unknown calls should stay open: %+v / %+v", byID["c-gated"], byID["c-unknown"])
	}
}

func TestPendingToolsSharedAcrossAgents(t *testing.T) {
	runs := 0
	counting := tools.New(tools.Spec{Name: "count"}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		runs++
		return json.RawMessage(`1`), nil
	})
	msg := &chat.Message{ID: "m1", Role: chat.RoleAssistant, Parts: []chat.Part{
		pendingPart("c1", "count", &chat.Approval{Approved: true}),
		pendingPart("c2", "other", &chat.Approval{Approved: true}),
	}}
	p := NewPendingTools(logger.Nop(), msg)

	first := &eventSink{}
	p.Resolve(context.Background(), tools.Set{"count": counting}, first.emit)
	second := &eventSink{}
	out := p.Resolve(context.Background(), tools.Set{"count": counting, "other": echoTool("other")}, second.emit)

	if runs != 1 {
		t.Fatalf("count tool runs: want=1 got=%d", runs)
	}
	if len(first.evs) != 1 || first.evs[0].ToolCallID != "c1" {
		t.Fatalf("first agent events: %+v", first.evs)
	}
	if len(second.evs) != 1 || second.evs[0].ToolCallID != "c2" {
		t.Fatalf("second agent events: %+v", second.evs)
	}
	for _, part := range out.Parts {
		if !part.Resolved() {
			t.Fatalf("part left open: %+v", part)
		}
	}
}

func TestPendingToolsReturnsCopy(t *testing.T) {
	msg := &chat.Message{ID: "m1", Parts: []chat.Part{pendingPart("c1", "echo", nil)}}
	p := NewPendingTools(logger.Nop(), msg)
	out := p.Resolve(context.Background(), tools.Set{"echo": echoTool("echo")}, nil)
	out.Parts[0].Text = "mutated"
	again := p.Resolve(context.Background(), tools.Set{}, nil)
	if again.Parts[0].Text == "mutated" {
		t.Fatalf("Resolve should return an independent copy")
	}
}

func TestExecuteToolRecoversPanic(t *testing.T) {
	bad := tools.New(tools.Spec{Name: "bad"}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		panic("boom")
	})
	if _, err := executeTool(context.Background(), bad, nil); err == nil {
		t.Fatalf("want error from panicking tool")
	}
	silent := tools.New(tools.Spec{Name: "silent"}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		if string(input) != `{}` {
			t.Errorf("input default: got %s", input)
		}
		return nil, nil
	})
	out, err := executeTool(context.Background(), silent, nil)
	if err != nil || string(out) != "null" {
		t.Fatalf("silent tool: out=%s err=%v", out, err)
	}
}
