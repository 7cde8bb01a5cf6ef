package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/chorus-backend/internal/platform/envutil"
	"github.com/yungbote/chorus-backend/internal/platform/gcp"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/platform/mcpx"
	"github.com/yungbote/chorus-backend/internal/platform/openai"
	"github.com/yungbote/chorus-backend/internal/realtime/bus"
	"github.com/yungbote/chorus-backend/internal/temporalx"
)

// Clients holds external connections. Every optional client is nil when its
// environment is not configured.
type Clients struct {
	StopBus   bus.Bus
	Objects   gcp.ObjectStore
	Documents gcp.DocumentText
	Images    openai.ImageClient
	Temporal  temporalsdkclient.Client
	Mcp       *mcpx.Pool

	TemporalCfg temporalx.Config
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	// Redis when configured, otherwise stop signals stay in process.
	if envutil.String("REDIS_ADDR", "") != "" {
		b, err := bus.NewRedisBus(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis stop bus: %w", err)
		}
		out.StopBus = b
	} else {
		out.StopBus = bus.NewMemoryBus()
	}

	// Gcs
	objects, err := gcp.NewObjectStore(log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init object store: %w", err)
	}
	out.Objects = objects

	// Gcp document ai
	docs, err := gcp.NewDocumentText(log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init document client: %w", err)
	}
	out.Documents = docs

	// Openai images
	images, err := openai.NewImageClient(log)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init image client: %w", err)
	}
	out.Images = images

	// Temporal
	out.TemporalCfg = temporalx.LoadConfig()
	tc, err := temporalx.NewClient(ctx, log, out.TemporalCfg)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}
	out.Temporal = tc

	out.Mcp = mcpx.NewPool(log, cfg.McpCallTimeout)
	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Mcp != nil {
		c.Mcp.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Documents != nil {
		_ = c.Documents.Close()
	}
	if c.Objects != nil {
		_ = c.Objects.Close()
	}
	if c.StopBus != nil {
		_ = c.StopBus.Close()
	}
}
