package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/inference/engine"
	"github.com/yungbote/chorus-backend/internal/inference/router"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

const (
	defaultTitleTimeout = 20 * time.Second
	maxTitleRunes       = 80
)

type TitleDeps struct {
	Log     *logger.Logger
	Threads repos.ThreadRepo
	Timeout time.Duration
}

// GenerateTitle names a new thread after its first message. It runs detached from
// ctx's cancellation, bounded by deps.Timeout.
func GenerateTitle(ctx context.Context, deps TitleDeps, threadID uuid.UUID, model router.Handle, firstMessage string) error {
	if deps.Threads == nil || model.Engine == nil {
		return fmt.Errorf("generate title: missing deps")
	}
	if strings.TrimSpace(firstMessage) == "" {
		return nil
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultTitleTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	system, user := titlePrompt(firstMessage)
	upstream := model.UpstreamModel
	if upstream == "" {
		upstream = model.Model
	}
	text, err := model.Engine.GenerateText(ctx, upstream, []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, engine.GenerateOptions{Temperature: 0.2})
	if err != nil {
		return err
	}
	title := cleanTitle(text)
	if title == "" {
		return nil
	}
	return deps.Threads.UpdateTitle(dbctx.Context{Ctx: ctx}, threadID, title)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "Title:")
	s = strings.Trim(strings.TrimSpace(s), "\"'`*")
	s = strings.TrimRight(s, ".!?;:, ")
	r := []rune(s)
	if len(r) > maxTitleRunes {
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return s
}
