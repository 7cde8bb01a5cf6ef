package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/ingestion/preview"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type PreviewBuilder interface {
	BuildPreviewParts(ctx context.Context, atts []chat.Attachment, download preview.DownloadFunc) []chat.Part
}

type IntakeDeps struct {
	Log      *logger.Logger
	Threads  repos.ThreadRepo
	Messages repos.MessageRepo

	// Optional.
	Previews PreviewBuilder
	Download preview.DownloadFunc
}

type IntakeInput struct {
	UserID      uuid.UUID
	Preferences chat.Preferences
	Request     ChatRequest
}

// Turn is a validated request bound to its owning thread.
type Turn struct {
	UserID        uuid.UUID
	Thread        *chat.Thread
	ThreadCreated bool
	Request       ChatRequest
	// Message is the incoming message with preview and attachment parts merged in.
	Message *chat.Message
}

// Intake validates the turn, loads or creates its thread and merges attachment
// content into the incoming message. Nothing is persisted except a new thread.
func Intake(ctx context.Context, deps IntakeDeps, in IntakeInput) (*Turn, error) {
	if deps.Threads == nil || deps.Messages == nil {
		return nil, fmt.Errorf("chat intake: missing deps")
	}
	if in.UserID == uuid.Nil {
		return nil, apierr.Unauthenticated("no session")
	}
	req := in.Request
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	dbc := dbctx.Context{Ctx: ctx}
	thread, err := deps.Threads.GetByID(dbc, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	created := false
	if thread == nil {
		if _, err := deps.Threads.Create(dbc, &chat.Thread{
			ID:          req.ThreadID,
			UserID:      in.UserID,
			Title:       chat.DefaultThreadTitle,
			Preferences: datatypes.NewJSONType(in.Preferences),
		}); err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		thread, err = deps.Threads.GetByID(dbc, req.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("reload thread: %w", err)
		}
		if thread == nil {
			return nil, fmt.Errorf("thread %s missing after create", req.ThreadID)
		}
		created = true
	}
	if !thread.OwnedBy(in.UserID) {
		return nil, apierr.Forbidden("thread belongs to another user")
	}

	existing, err := deps.Messages.GetByID(dbc, req.Message.ID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if existing != nil && existing.ThreadID != thread.ID {
		return nil, apierr.Forbidden("message belongs to another thread")
	}

	msg := req.Message.Clone()
	msg.ThreadID = thread.ID

	if deps.Previews != nil && deps.Download != nil && len(req.Attachments) > 0 {
		previews := deps.Previews.BuildPreviewParts(ctx, req.Attachments, deps.Download)
		msg.Parts = insertBeforeLastText(msg.Parts, previews)
	}
	msg.Parts = insertBeforeFirstText(msg.Parts, attachmentParts(req.Attachments))

	if deps.Log != nil {
		deps.Log.Debug("chat turn accepted",
			"thread_id", thread.ID,
			"thread_created", created,
			"message_id", msg.ID,
			"mentions", len(req.Mentions),
			"attachments", len(req.Attachments),
		)
	}
	return &Turn{
		UserID:        in.UserID,
		Thread:        thread,
		ThreadCreated: created,
		Request:       req,
		Message:       msg,
	}, nil
}

func validateRequest(req *ChatRequest) error {
	if req.ThreadID == uuid.Nil {
		return apierr.Invalid("thread id is required")
	}
	if req.Message == nil || strings.TrimSpace(req.Message.ID) == "" {
		return apierr.Invalid("message with an id is required")
	}
	if req.Message.Role == "" {
		req.Message.Role = chat.RoleUser
	}
	if !req.Message.Role.Valid() {
		return apierr.Invalid("invalid message role %q", req.Message.Role)
	}
	if req.ToolChoice == "" {
		req.ToolChoice = chat.ToolChoiceAuto
	}
	if !req.ToolChoice.Valid() {
		return apierr.Invalid("invalid toolChoice %q", req.ToolChoice)
	}
	if req.ChatModel.IsZero() && len(chat.FilterMentions(req.Mentions, chat.MentionAgent)) == 0 {
		return apierr.Invalid("either a model or an agent mention is required")
	}
	return nil
}

func attachmentParts(atts []chat.Attachment) []chat.Part {
	var out []chat.Part
	for _, a := range atts {
		switch a.Type {
		case chat.AttachmentFile:
			out = append(out, chat.Part{Type: chat.PartFile, URL: a.URL, MediaType: a.MediaType, Filename: a.Filename})
		case chat.AttachmentSourceURL:
			out = append(out, chat.Part{Type: chat.PartSourceURL, SourceID: a.URL, URL: a.URL, Title: a.Title})
		}
	}
	return out
}

func insertBeforeLastText(parts, extra []chat.Part) []chat.Part {
	idx := -1
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == chat.PartText {
			idx = i
			break
		}
	}
	return insertAt(parts, idx, extra)
}

func insertBeforeFirstText(parts, extra []chat.Part) []chat.Part {
	idx := -1
	for i, p := range parts {
		if p.Type == chat.PartText {
			idx = i
			break
		}
	}
	return insertAt(parts, idx, extra)
}

// insertAt inserts extra before index i, or appends when i < 0.
func insertAt(parts []chat.Part, i int, extra []chat.Part) []chat.Part {
	if len(extra) == 0 {
		return parts
	}
	if i < 0 {
		return append(parts, extra...)
	}
	out := make([]chat.Part, 0, len(parts)+len(extra))
	out = append(out, parts[:i]...)
	out = append(out, extra...)
	return append(out, parts[i:]...)
}
