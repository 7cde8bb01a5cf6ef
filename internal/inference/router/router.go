package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/chorus-backend/internal/domain/chat"
	"github.com/yungbote/chorus-backend/internal/inference/config"
	"github.com/yungbote/chorus-backend/internal/inference/engine"
	"github.com/yungbote/chorus-backend/internal/inference/engine/mock"
	"github.com/yungbote/chorus-backend/internal/inference/engine/oaihttp"
	"github.com/yungbote/chorus-backend/internal/platform/apierr"
)

// Handle is a resolved model ready for generation.
type Handle struct {
	Provider      string
	Model         string
	UpstreamModel string
	ToolCalls     bool
	Engine        engine.Engine
}

func (h Handle) Ref() chat.ModelRef {
	return chat.ModelRef{Provider: h.Provider, Model: h.Model}
}

type CatalogEntry struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	ToolCalls bool   `json:"toolCalls"`
	Default   bool   `json:"default,omitempty"`
}

type Router struct {
	routes map[string]Handle
	order  []string
	def    chat.ModelRef
}

func New(cfg *config.Config) (*Router, error) {
	return NewWithEngines(cfg, nil)
}

// NewWithEngines lets callers pre-bind engines by "provider/model" key; unbound
// models are built from their engine config.
func NewWithEngines(cfg *config.Config, engines map[string]engine.Engine) (*Router, error) {
	if cfg == nil {
		return nil, fmt.Errorf("router: nil config")
	}
	r := &Router{routes: map[string]Handle{}}
	for _, m := range cfg.Models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("model id required")
		}
		k := key(m.Provider, id)
		if _, exists := r.routes[k]; exists {
			return nil, fmt.Errorf("duplicate model id: %s", k)
		}

		eng, ok := engines[k]
		if !ok {
			switch strings.ToLower(strings.TrimSpace(m.Engine.Type)) {
			case "mock":
				eng = mock.New()
			case "openai_http", "oai_http":
				e, err := oaihttp.New(m.Engine)
				if err != nil {
					return nil, err
				}
				eng = e
			default:
				return nil, fmt.Errorf("unsupported engine type %q for model %q", m.Engine.Type, k)
			}
		}

		upstream := strings.TrimSpace(m.UpstreamModel)
		if upstream == "" {
			upstream = id
		}
		r.routes[k] = Handle{
			Provider:      strings.TrimSpace(m.Provider),
			Model:         id,
			UpstreamModel: upstream,
			ToolCalls:     m.SupportsToolCalls(),
			Engine:        eng,
		}
		r.order = append(r.order, k)
	}
	r.def = chat.ModelRef{Provider: cfg.DefaultModel.Provider, Model: cfg.DefaultModel.Model}
	if r.def.Model == "" && len(r.order) > 0 {
		first := r.routes[r.order[0]]
		r.def = first.Ref()
	}
	return r, nil
}

func key(provider, model string) string {
	return strings.TrimSpace(provider) + "/" + strings.TrimSpace(model)
}

// Resolve maps a model reference to a handle. An empty provider matches the
// first catalog entry with that model id.
func (r *Router) Resolve(ref chat.ModelRef) (Handle, error) {
	if ref.Model == "" {
		return Handle{}, apierr.Misconfigured("no model specified")
	}
	if h, ok := r.routes[key(ref.Provider, ref.Model)]; ok {
		return h, nil
	}
	if strings.TrimSpace(ref.Provider) == "" {
		for _, k := range r.order {
			if h := r.routes[k]; h.Model == strings.TrimSpace(ref.Model) {
				return h, nil
			}
		}
	}
	return Handle{}, apierr.Misconfigured("unknown model %s", ref.String())
}

func (r *Router) SupportsToolCalls(h Handle) bool {
	return h.ToolCalls
}

func (r *Router) Default() (chat.ModelRef, bool) {
	return r.def, r.def.Model != ""
}

func (r *Router) Catalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(r.order))
	for _, k := range r.order {
		h := r.routes[k]
		out = append(out, CatalogEntry{
			Provider:  h.Provider,
			Model:     h.Model,
			ToolCalls: h.ToolCalls,
			Default:   h.Provider == r.def.Provider && h.Model == r.def.Model,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
