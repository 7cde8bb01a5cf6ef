package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/data/repos/testutil"
	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/config"
	"github.com/yungbote/chorus-backend/internal/inference/router"
	chatmod "github.com/yungbote/chorus-backend/internal/modules/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorus-backend/internal/realtime"
	"github.com/yungbote/chorus-backend/internal/realtime/bus"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
)

type chatFixture struct {
	svc     ChatService
	runs    *realtime.Runs
	threads repos.ThreadRepo
}

func newChatFixture(t *testing.T, stops bus.Bus) *chatFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	rt, err := router.New(&config.Config{
		DefaultModel: config.DefaultModel{Provider: "mock", Model: "mock-1"},
		Models:       []config.ModelConfig{{Provider: "mock", ID: "mock-1", Engine: config.EngineConfig{Type: "mock"}}},
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	f := &chatFixture{runs: realtime.NewRuns(), threads: repos.NewThreadRepo(db, log)}
	messages := repos.NewMessageRepo(db, log)
	uc := chatmod.New(chatmod.UsecasesDeps{
		Log:      log,
		Threads:  f.threads,
		Messages: messages,
		Agents:   repos.NewAgentRepo(db, log),
		Servers:  repos.NewMcpServerRepo(db, log),
		Models:   rt,
		Runs:     f.runs,
	})
	f.svc = NewChatService(log, uc, f.threads, messages, rt, stops)
	return f
}

func asUser(userID uuid.UUID) context.Context {
	return ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: userID})
}

func drainEvents(t *testing.T, ch <-chan uistream.Event) []uistream.Event {
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
			t.Fatalf("stream did not close")
			return out
		}
	}
}

func TestChatServiceStreamRequiresSession(t *testing.T) {
	f := newChatFixture(t, nil)
	_, err := f.svc.Stream(context.Background(), chatmod.ChatRequest{ThreadID: uuid.New()})
	if !apierr.Is(err, apierr.CodeUnauthenticated) {
		t.Fatalf("want unauthenticated got %v", err)
	}
}

func TestChatServiceStreamAndReadBack(t *testing.T) {
	f := newChatFixture(t, nil)
	userID := uuid.New()
	ctx := asUser(userID)
	threadID := uuid.New()
	out, err := f.svc.Stream(ctx, chatmod.ChatRequest{
		ThreadID:  threadID,
		Message:   &chat.Message{ID: uuid.NewString(), Role: chat.RoleUser, Parts: []chat.Part{chat.TextPart("hello there")}},
		ChatModel: &chat.ModelRef{Provider: "mock", Model: "mock-1"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	evs := drainEvents(t, out.Events)
	if len(evs) == 0 || evs[len(evs)-1].Type != uistream.TypeFinish {
		t.Fatalf("events: got %+v", evs)
	}

	thread, msgs, err := f.svc.GetThread(dbctx.Context{Ctx: ctx}, threadID, 0)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.ID != threadID || len(msgs) != 2 {
		t.Fatalf("thread: id=%s messages=%d", thread.ID, len(msgs))
	}
	var response *chat.Message
	for _, m := range msgs {
		if m.ID == out.ResponseMessageID {
			response = m
		}
	}
	if response == nil || response.Role != chat.RoleAssistant {
		t.Fatalf("response message %s not stored: %+v", out.ResponseMessageID, msgs)
	}

	list, err := f.svc.ListThreads(dbctx.Context{Ctx: ctx}, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListThreads: err=%v len=%d", err, len(list))
	}

	_, _, err = f.svc.GetThread(dbctx.Context{Ctx: asUser(uuid.New())}, threadID, 0)
	if !apierr.Is(err, apierr.CodeForbidden) {
		t.Fatalf("foreign read: want forbidden got %v", err)
	}
}

func TestChatServiceStopChecksOwner(t *testing.T) {
	f := newChatFixture(t, nil)
	owner := uuid.New()
	thread, err := f.threads.Create(dbctx.Context{Ctx: context.Background()}, &chat.Thread{ID: uuid.New(), UserID: owner})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if err := f.svc.Stop(asUser(uuid.New()), thread.ID); !apierr.Is(err, apierr.CodeForbidden) {
		t.Fatalf("want forbidden got %v", err)
	}
	if err := f.svc.Stop(asUser(owner), uuid.New()); !apierr.Is(err, apierr.CodeNotFound) {
		t.Fatalf("want not found got %v", err)
	}

	cancelled := make(chan struct{})
	release := f.runs.Register(thread.ID, func() { close(cancelled) })
	defer release()
	if err := f.svc.Stop(asUser(owner), thread.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("run was not cancelled")
	}
}

func TestChatServiceStopTravelsOverBus(t *testing.T) {
	stops := bus.NewMemoryBus()
	defer stops.Close()
	f := newChatFixture(t, stops)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.svc.StartStopForwarder(ctx); err != nil {
		t.Fatalf("StartStopForwarder: %v", err)
	}

	owner := uuid.New()
	thread, _ := f.threads.Create(dbctx.Context{Ctx: context.Background()}, &chat.Thread{ID: uuid.New(), UserID: owner})
	cancelled := make(chan struct{})
	release := f.runs.Register(thread.ID, func() { close(cancelled) })
	defer release()

	if err := f.svc.Stop(asUser(owner), thread.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop signal was not forwarded")
	}
}

func TestChatServiceModels(t *testing.T) {
	f := newChatFixture(t, nil)
	models := f.svc.Models()
	if len(models) != 1 || !models[0].Default || models[0].Model != "mock-1" {
		t.Fatalf("models: got %+v", models)
	}
}
