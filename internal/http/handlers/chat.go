package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/http/middleware"
	"github.com/yungbote/chorus-backend/internal/http/response"
	chatmod "github.com/yungbote/chorus-backend/internal/modules/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime/uistream"
	"github.com/yungbote/chorus-backend/internal/services"
)

const (
	headerThreadID          = "X-Thread-Id"
	headerResponseMessageID = "X-Response-Message-Id"
)

type ChatHandler struct {
	log  *logger.Logger
	chat services.ChatService
}

func NewChatHandler(log *logger.Logger, chat services.ChatService) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), chat: chat}
}

// POST /api/chat
func (h *ChatHandler) Stream(c *gin.Context) {
	var req chatmod.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	if req.ThreadID != uuid.Nil {
		c.Set(middleware.ContextKeyThreadID, req.ThreadID.String())
	}
	out, err := h.chat.Stream(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}

	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set(headerThreadID, out.ThreadID.String())
	header.Set(headerResponseMessageID, out.ResponseMessageID)
	w.WriteHeader(http.StatusOK)
	w.Flush()

	// The turn is persisted only once Events closes, so keep draining after the
	// client goes away.
	writeFailed := false
	for ev := range out.Events {
		if writeFailed {
			continue
		}
		if err := uistream.WriteSSE(w, ev); err != nil {
			writeFailed = true
			h.log.Debug("client stream closed", "thread_id", out.ThreadID, "error", err)
			continue
		}
		w.Flush()
	}
	if !writeFailed {
		_ = uistream.WriteDone(w)
		w.Flush()
	}
}

// POST /api/chat/:id/stop
func (h *ChatHandler) Stop(c *gin.Context) {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	c.Set(middleware.ContextKeyThreadID, threadID.String())
	if err := h.chat.Stop(c.Request.Context(), threadID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

// GET /api/chat/threads?limit=50
func (h *ChatHandler) ListThreads(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	threads, err := h.chat.ListThreads(dbc, queryLimit(c, 50))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"threads": threads})
}

// GET /api/chat/threads/:id?limit=100
func (h *ChatHandler) GetThread(c *gin.Context) {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	thread, msgs, err := h.chat.GetThread(dbc, threadID, queryLimit(c, 100))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"thread": thread, "messages": msgs})
}

// GET /api/chat/models
func (h *ChatHandler) Models(c *gin.Context) {
	response.RespondOK(c, gin.H{"models": h.chat.Models()})
}

func queryLimit(c *gin.Context, def int) int {
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
