package app

import (
	"context"

	"gorm.io/gorm"

	httpserver "github.com/yungbote/chorus-backend/internal/http"
	httpH "github.com/yungbote/chorus-backend/internal/http/handlers"
	httpMW "github.com/yungbote/chorus-backend/internal/http/middleware"
	"github.com/yungbote/chorus-backend/internal/observability"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health *httpH.HealthHandler
	Chat   *httpH.ChatHandler
}

func wireHandlers(log *logger.Logger, services Services, db *gorm.DB) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(httpH.Check{Name: "db", Probe: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}}),
		Chat: httpH.NewChatHandler(log, services.Chat),
	}
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Auth),
	}
}

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *httpserver.Server {
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		ServiceName:    cfg.ServiceName,
		AuthMiddleware: middleware.Auth,
		ChatHandler:    handlers.Chat,
		HealthHandler:  handlers.Health,
	})
}
