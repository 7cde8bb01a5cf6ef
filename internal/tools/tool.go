package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/engine"
)

type Source string

const (
	SourceRemote   Source = "mcp"
	SourceWorkflow Source = "workflow"
	SourceDefault  Source = "default"
	SourceImage    Source = "image"
)

// Precedence is the order sources are folded into one Set. A later source
// wins when two sources expose the same tool name.
var Precedence = []Source{SourceRemote, SourceWorkflow, SourceDefault, SourceImage}

type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Source      Source
	// ServerID is set for remote tools.
	ServerID string
	Toolkit  string
}

type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

type ExecFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

type funcTool struct {
	spec Spec
	fn   ExecFunc
}

func New(spec Spec, fn ExecFunc) Tool { return &funcTool{spec: spec, fn: fn} }

func (t *funcTool) Spec() Spec { return t.spec }

func (t *funcTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return t.fn(ctx, input)
}

// Set maps a model-facing tool name to its implementation.
type Set map[string]Tool

func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s Set) Defs() []engine.ToolDef {
	if len(s) == 0 {
		return nil
	}
	out := make([]engine.ToolDef, 0, len(s))
	for _, name := range s.Names() {
		spec := s[name].Spec()
		out = append(out, engine.ToolDef{Name: name, Description: spec.Description, Parameters: spec.Parameters})
	}
	return out
}

// ServerIDs lists the distinct remote servers contributing tools.
func (s Set) ServerIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range s.Names() {
		if id := s[name].Spec().ServerID; id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

type LoadRequest struct {
	UserID   uuid.UUID
	Mentions []chat.Mention
	// AllowedServers limits remote tools when no tool is mentioned. Nil allows every enabled server.
	AllowedServers map[string]chat.AllowedServer
	// AllowedToolkits limits default tools when none is mentioned. Nil allows every toolkit.
	AllowedToolkits []string
	ImageTool       *chat.ImageToolOption
}

type Provider interface {
	Source() Source
	Load(ctx context.Context, req LoadRequest) (Set, error)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ToolName builds a provider-safe function name.
func ToolName(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(p), "_"), "_")
		if p != "" {
			clean = append(clean, p)
		}
	}
	name := strings.Join(clean, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props, "additionalProperties": false}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
