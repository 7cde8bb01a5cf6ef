package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/chorus-backend/internal/data/repos/chat"
	"github.com/yungbote/chorus-backend/internal/inference/router"
	"github.com/yungbote/chorus-backend/internal/ingestion/preview"
	"github.com/yungbote/chorus-backend/internal/modules/chat/steps"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime"
)

type UsecasesDeps struct {
	Log *logger.Logger

	Threads  repos.ThreadRepo
	Messages repos.MessageRepo
	Agents   repos.AgentRepo
	Servers  repos.McpServerRepo

	Models steps.ModelResolver
	Tools  steps.ToolLoader

	// Optional: attachment previews.
	Previews steps.PreviewBuilder
	Download preview.DownloadFunc

	Runs *realtime.Runs

	MaxSteps       int
	HistoryLimit   int
	GenerateTitles bool
	TitleTimeout   time.Duration
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases { return Usecases{deps: deps} }

func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return u
}

type (
	ChatRequest   = steps.ChatRequest
	RespondInput  = steps.RespondInput
	RespondOutput = steps.RespondOutput
)

func (u Usecases) Respond(ctx context.Context, in RespondInput) (RespondOutput, error) {
	return steps.Respond(ctx, steps.RespondDeps{
		Log:            u.deps.Log,
		Threads:        u.deps.Threads,
		Messages:       u.deps.Messages,
		Agents:         u.deps.Agents,
		Servers:        u.deps.Servers,
		Models:         u.deps.Models,
		Tools:          u.deps.Tools,
		Previews:       u.deps.Previews,
		Download:       u.deps.Download,
		Runs:           u.deps.Runs,
		MaxSteps:       u.deps.MaxSteps,
		HistoryLimit:   u.deps.HistoryLimit,
		GenerateTitles: u.deps.GenerateTitles,
		TitleTimeout:   u.deps.TitleTimeout,
	}, in)
}

// GenerateTitle renames a thread from its first message using model.
func (u Usecases) GenerateTitle(ctx context.Context, threadID uuid.UUID, model router.Handle, firstMessage string) error {
	return steps.GenerateTitle(ctx, steps.TitleDeps{
		Log:     u.deps.Log,
		Threads: u.deps.Threads,
		Timeout: u.deps.TitleTimeout,
	}, threadID, model, firstMessage)
}

// Stop cancels the turns running on this instance for threadID.
func (u Usecases) Stop(threadID uuid.UUID) int {
	if u.deps.Runs == nil {
		return 0
	}
	return u.deps.Runs.Cancel(threadID)
}
