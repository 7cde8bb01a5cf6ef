package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/yungbote/chorus-backend/internal/inference/config"
	"github.com/yungbote/chorus-backend/internal/inference/router"
	"github.com/yungbote/chorus-backend/internal/ingestion/preview"
	chatmod "github.com/yungbote/chorus-backend/internal/modules/chat"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/realtime"
	"github.com/yungbote/chorus-backend/internal/services"
	"github.com/yungbote/chorus-backend/internal/temporalx"
	"github.com/yungbote/chorus-backend/internal/tools"
)

type Services struct {
	Auth services.AuthService
	Chat services.ChatService

	Models *router.Router
	Tools  *tools.Registry
	Runs   *realtime.Runs
}

func wireServices(log *logger.Logger, cfg Config, reposet Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	modelCfg, err := config.Load()
	if err != nil {
		return Services{}, fmt.Errorf("load model catalog: %w", err)
	}
	models, err := router.New(modelCfg)
	if err != nil {
		return Services{}, fmt.Errorf("init model router: %w", err)
	}
	if def, ok := models.Default(); ok {
		log.Info("Model catalog loaded", "models", len(modelCfg.Models), "default", def.String())
	}

	var runner tools.WorkflowRunner
	if clients.Temporal != nil {
		runner = temporalx.NewExecutor(clients.Temporal, clients.TemporalCfg)
	}
	registry := tools.NewRegistry(log,
		tools.NewRemoteProvider(log, reposet.McpServers, clients.Mcp),
		tools.NewWorkflowProvider(log, reposet.Workflows, runner),
		tools.NewDefaultProvider(&http.Client{Timeout: 15 * time.Second}),
		tools.NewImageProvider(clients.Images, clients.Objects),
	)

	runs := realtime.NewRuns()
	usecases := chatmod.New(chatmod.UsecasesDeps{
		Log:            log,
		Threads:        reposet.Threads,
		Messages:       reposet.Messages,
		Agents:         reposet.Agents,
		Servers:        reposet.McpServers,
		Models:         models,
		Tools:          registry,
		Previews:       preview.NewBuilder(log, clients.Documents, cfg.PreviewMaxChars),
		Download:       preview.NewDownloader(clients.Objects, &http.Client{Timeout: 30 * time.Second}, cfg.PreviewMaxBytes, cfg.PreviewURLPrefixes),
		Runs:           runs,
		MaxSteps:       cfg.MaxSteps,
		HistoryLimit:   cfg.HistoryLimit,
		GenerateTitles: cfg.GenerateTitles,
		TitleTimeout:   cfg.TitleTimeout,
	})

	return Services{
		Auth:   services.NewAuthService(log, cfg.JWTSecretKey, cfg.AccessTokenTTL),
		Chat:   services.NewChatService(log, usecases, reposet.Threads, reposet.Messages, models, clients.StopBus),
		Models: models,
		Tools:  registry,
		Runs:   runs,
	}, nil
}
