package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/http/response"
	"github.com/yungbote/chorus-backend/internal/inference/router"
	chatmod "github.com/yungbote/chorus-backend/internal/modules/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
)

type fakeChatService struct {
	streamErr error
	events    []uistream.Event
	stopped   []uuid.UUID
	req       chatmod.ChatRequest
}

func (f *fakeChatService) Stream(ctx context.Context, req chatmod.ChatRequest) (chatmod.RespondOutput, error) {
	f.req = req
	if f.streamErr != nil {
		return chatmod.RespondOutput{}, f.streamErr
	}
	ch := make(chan uistream.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return chatmod.RespondOutput{ThreadID: req.ThreadID, ResponseMessageID: "resp-1", Events: ch}, nil
}

func (f *fakeChatService) Stop(ctx context.Context, threadID uuid.UUID) error {
	f.stopped = append(f.stopped, threadID)
	return nil
}

func (f *fakeChatService) StartStopForwarder(ctx context.Context) error { return nil }

func (f *fakeChatService) ListThreads(dbc dbctx.Context, limit int) ([]*chat.Thread, error) {
	return []*chat.Thread{{ID: uuid.New(), Title: "t"}}, nil
}

func (f *fakeChatService) GetThread(dbc dbctx.Context, threadID uuid.UUID, limit int) (*chat.Thread, []*chat.Message, error) {
	return nil, nil, apierr.Forbidden("thread belongs to another user")
}

func (f *fakeChatService) Models() []router.CatalogEntry {
	return []router.CatalogEntry{{Provider: "mock", Model: "mock-1", ToolCalls: true, Default: true}}
}

func newTestRouter(t *testing.T, svc *fakeChatService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	h := NewChatHandler(log, svc)
	r := gin.New()
	r.POST("/api/chat", h.Stream)
	r.POST("/api/chat/:id/stop", h.Stop)
	r.GET("/api/chat/threads", h.ListThreads)
	r.GET("/api/chat/threads/:id", h.GetThread)
	r.GET("/api/chat/models", h.Models)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStreamWritesEventFrames(t *testing.T) {
	svc := &fakeChatService{events: []uistream.Event{
		{Type: uistream.TypeStepStart},
		{Type: uistream.TypeTextDelta, ID: "b1", Delta: "hi"},
		{Type: uistream.TypeFinish},
	}}
	threadID := uuid.New()
	rec := do(newTestRouter(t, svc), http.MethodPost, "/api/chat",
		`{"id":"`+threadID.String()+`","message":{"id":"m1","role":"user","parts":[{"type":"text","text":"hello"}]},"toolChoice":"auto"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got %q", ct)
	}
	if rec.Header().Get(headerThreadID) != threadID.String() || rec.Header().Get(headerResponseMessageID) != "resp-1" {
		t.Fatalf("headers: got %v", rec.Header())
	}
	if svc.req.ThreadID != threadID || svc.req.Message == nil || svc.req.Message.LastText() != "hello" {
		t.Fatalf("request: got %+v", svc.req)
	}

	var frames []string
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(frames) != 4 || frames[3] != "[DONE]" {
		t.Fatalf("frames: got %q", frames)
	}
	var ev uistream.Event
	if err := json.Unmarshal([]byte(frames[1]), &ev); err != nil || ev.Type != uistream.TypeTextDelta || ev.Delta != "hi" {
		t.Fatalf("frame 1: err=%v got %+v", err, ev)
	}
}

func TestStreamErrorsBeforeStreaming(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apierr.Unauthenticated("not authenticated"), http.StatusUnauthorized, apierr.CodeUnauthenticated},
		{apierr.Forbidden("thread belongs to another user"), http.StatusForbidden, apierr.CodeForbidden},
		{apierr.Misconfigured("no model specified"), http.StatusBadRequest, apierr.CodeConfiguration},
	}
	for _, tc := range cases {
		svc := &fakeChatService{streamErr: tc.err}
		rec := do(newTestRouter(t, svc), http.MethodPost, "/api/chat", `{"id":"`+uuid.NewString()+`"}`)
		if rec.Code != tc.status {
			t.Fatalf("%v: status want=%d got=%d", tc.err, tc.status, rec.Code)
		}
		var env response.ErrorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil || env.Error.Code != tc.code {
			t.Fatalf("%v: body got %s", tc.err, rec.Body.String())
		}
	}

	rec := do(newTestRouter(t, &fakeChatService{}), http.MethodPost, "/api/chat", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: want=400 got=%d", rec.Code)
	}
}

func TestStopAndReads(t *testing.T) {
	svc := &fakeChatService{}
	r := newTestRouter(t, svc)
	threadID := uuid.New()

	if rec := do(r, http.MethodPost, "/api/chat/"+threadID.String()+"/stop", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("stop: want=202 got=%d", rec.Code)
	}
	if len(svc.stopped) != 1 || svc.stopped[0] != threadID {
		t.Fatalf("stopped: got %v", svc.stopped)
	}
	if rec := do(r, http.MethodPost, "/api/chat/nope/stop", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("stop bad id: want=400 got=%d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/api/chat/threads/"+threadID.String(), ""); rec.Code != http.StatusForbidden {
		t.Fatalf("get thread: want=403 got=%d", rec.Code)
	}
	rec := do(r, http.MethodGet, "/api/chat/models", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"model":"mock-1"`) {
		t.Fatalf("models: got %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(r, http.MethodGet, "/api/chat/threads?limit=5", ""); rec.Code != http.StatusOK {
		t.Fatalf("list threads: want=200 got=%d", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", NewHealthHandler().HealthCheck)
	r.GET("/bad", NewHealthHandler(Check{Name: "db", Probe: func(ctx context.Context) error {
		return context.DeadlineExceeded
	}}).HealthCheck)

	if rec := do(r, http.MethodGet, "/ok", ""); rec.Code != http.StatusOK {
		t.Fatalf("ok: got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/bad", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("bad: got %d", rec.Code)
	}
}
