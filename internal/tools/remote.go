package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
	"github.com/yungbote/chorus-backend/internal/platform/mcpx"
)

// McpClient is the subset of mcpx.Pool used here.
type McpClient interface {
	ListTools(ctx context.Context, srv mcpx.Server) ([]mcpx.ToolInfo, error)
	CallTool(ctx context.Context, srv mcpx.Server, name string, input json.RawMessage) (json.RawMessage, error)
}

type McpServers interface {
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*chat.McpServer, error)
	ListEnabledByUser(dbc dbctx.Context, userID uuid.UUID) ([]*chat.McpServer, error)
}

type RemoteProvider struct {
	log     *logger.Logger
	servers McpServers
	client  McpClient
}

func NewRemoteProvider(log *logger.Logger, servers McpServers, client McpClient) *RemoteProvider {
	return &RemoteProvider{log: log.With("provider", "RemoteTools"), servers: servers, client: client}
}

func (p *RemoteProvider) Source() Source { return SourceRemote }

// Load exposes the mentioned remote tools, or when none is mentioned, the tools
// of the user's enabled servers filtered by AllowedServers.
func (p *RemoteProvider) Load(ctx context.Context, req LoadRequest) (Set, error) {
	dbc := dbctx.Context{Ctx: ctx}

	var mentioned []chat.Mention
	for _, m := range chat.FilterMentions(req.Mentions, chat.MentionTool) {
		if m.Source == chat.ToolSourceMCP && m.ServerID != "" {
			mentioned = append(mentioned, m)
		}
	}

	var (
		servers []*chat.McpServer
		allow   = map[uuid.UUID]map[string]bool{}
		err     error
	)
	switch {
	case len(mentioned) > 0:
		var ids []uuid.UUID
		for _, m := range mentioned {
			id, perr := uuid.Parse(m.ServerID)
			if perr != nil {
				continue
			}
			if allow[id] == nil {
				allow[id] = map[string]bool{}
				ids = append(ids, id)
			}
			allow[id][m.Name] = true
		}
		servers, err = p.servers.GetByIDs(dbc, ids)
	default:
		servers, err = p.servers.ListEnabledByUser(dbc, req.UserID)
		if err == nil && req.AllowedServers != nil {
			for _, s := range servers {
				entry, ok := req.AllowedServers[s.ID.String()]
				if !ok {
					continue
				}
				allow[s.ID] = map[string]bool{}
				for _, name := range entry.Tools {
					allow[s.ID][name] = true
				}
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load mcp servers: %w", err)
	}

	filtered := len(mentioned) > 0 || req.AllowedServers != nil
	out := Set{}
	for _, s := range servers {
		if s == nil || !s.Enabled || s.UserID != req.UserID {
			continue
		}
		names := allow[s.ID]
		if filtered && names == nil {
			continue
		}
		srv := mcpx.Server{ID: s.ID.String(), Name: s.Name, URL: s.URL, Transport: s.Transport, Headers: s.Headers.Data()}
		infos, lerr := p.client.ListTools(ctx, srv)
		if lerr != nil {
			p.log.Warn("mcp server unavailable; skipping", "server_id", srv.ID, "error", lerr)
			continue
		}
		for _, info := range infos {
			if filtered && !names[info.Name] {
				continue
			}
			out[ToolName(s.Name, info.Name)] = p.tool(srv, info)
		}
	}
	return out, nil
}

func (p *RemoteProvider) tool(srv mcpx.Server, info mcpx.ToolInfo) Tool {
	name := info.Name
	return New(Spec{
		Name:        name,
		Description: info.Description,
		Parameters:  info.InputSchema,
		Source:      SourceRemote,
		ServerID:    srv.ID,
	}, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return p.client.CallTool(ctx, srv, name, input)
	})
}
