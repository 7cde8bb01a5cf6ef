package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/router"
	chatmod "github.com/yungbote/chorus-backend/internal/modules/chat"
	"github.com/yungbote/chorus-backend/internal/observability"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
	"github.com/yungbote/chorus-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime/bus"
)

type ChatService interface {
	// Stream starts a turn for the session user. Errors are returned before any event.
	Stream(ctx context.Context, req chatmod.ChatRequest) (chatmod.RespondOutput, error)
	// Stop asks every instance to cancel the running turn of a thread.
	Stop(ctx context.Context, threadID uuid.UUID) error
	// StartStopForwarder cancels local turns for stop signals published by any instance.
	StartStopForwarder(ctx context.Context) error

	ListThreads(dbc dbctx.Context, limit int) ([]*chat.Thread, error)
	GetThread(dbc dbctx.Context, threadID uuid.UUID, limit int) (*chat.Thread, []*chat.Message, error)
	Models() []router.CatalogEntry
}

type ModelCatalog interface {
	Catalog() []router.CatalogEntry
}

type chatService struct {
	log      *logger.Logger
	usecases chatmod.Usecases
	threads  repos.ThreadRepo
	messages repos.MessageRepo
	catalog  ModelCatalog
	stops    bus.Bus
}

func NewChatService(
	baseLog *logger.Logger,
	usecases chatmod.Usecases,
	threadRepo repos.ThreadRepo,
	messageRepo repos.MessageRepo,
	catalog ModelCatalog,
	stops bus.Bus,
) ChatService {
	log := baseLog.With("service", "ChatService")
	return &chatService{
		log:      log,
		usecases: usecases.WithLog(log),
		threads:  threadRepo,
		messages: messageRepo,
		catalog:  catalog,
		stops:    stops,
	}
}

func (s *chatService) Stream(ctx context.Context, req chatmod.ChatRequest) (chatmod.RespondOutput, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return chatmod.RespondOutput{}, apierr.Unauthenticated("not authenticated")
	}
	return s.usecases.Respond(ctx, chatmod.RespondInput{
		UserID:      rd.UserID,
		Preferences: PreferencesFrom(rd),
		Request:     req,
	})
}

func (s *chatService) Stop(ctx context.Context, threadID uuid.UUID) error {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return apierr.Unauthenticated("not authenticated")
	}
	if _, err := s.ownedThread(dbctx.Context{Ctx: ctx}, rd.UserID, threadID); err != nil {
		return err
	}
	if s.stops == nil {
		n := s.usecases.Stop(threadID)
		observability.Current().IncStopRequest(n > 0)
		s.log.Info("chat turn stop", "thread_id", threadID, "cancelled", n)
		return nil
	}
	sig := bus.StopSignal{ThreadID: threadID, UserID: rd.UserID, RequestedAt: time.Now().UTC()}
	if err := s.stops.Publish(ctx, sig); err != nil {
		return fmt.Errorf("publish stop: %w", err)
	}
	return nil
}

func (s *chatService) StartStopForwarder(ctx context.Context) error {
	if s.stops == nil {
		return nil
	}
	return s.stops.StartForwarder(ctx, func(sig bus.StopSignal) {
		n := s.usecases.Stop(sig.ThreadID)
		observability.Current().IncStopRequest(n > 0)
		if n > 0 {
			s.log.Info("chat turn stopped", "thread_id", sig.ThreadID, "cancelled", n)
		}
	})
}

func (s *chatService) ListThreads(dbc dbctx.Context, limit int) ([]*chat.Thread, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthenticated("not authenticated")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.threads.ListByUser(dbc, rd.UserID, limit)
}

func (s *chatService) GetThread(dbc dbctx.Context, threadID uuid.UUID, limit int) (*chat.Thread, []*chat.Message, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, nil, apierr.Unauthenticated("not authenticated")
	}
	thread, err := s.ownedThread(dbc, rd.UserID, threadID)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	msgs, err := s.messages.ListByThread(dbc, thread.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return thread, msgs, nil
}

func (s *chatService) Models() []router.CatalogEntry {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Catalog()
}

func (s *chatService) ownedThread(dbc dbctx.Context, userID, threadID uuid.UUID) (*chat.Thread, error) {
	thread, err := s.threads.GetByID(dbc, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, apierr.NotFound("thread not found")
	}
	if !thread.OwnedBy(userID) {
		return nil, apierr.Forbidden("thread belongs to another user")
	}
	return thread, nil
}
