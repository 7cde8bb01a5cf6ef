package tools

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type Registry struct {
	log       *logger.Logger
	providers map[Source]Provider
}

func NewRegistry(log *logger.Logger, providers ...Provider) *Registry {
	r := &Registry{log: log.With("component", "ToolRegistry"), providers: map[Source]Provider{}}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Source()] = p
		}
	}
	return r
}

// Load queries every allowed provider concurrently and folds the results in
// Precedence order. A provider that is disallowed, missing or failing contributes
// an empty Set.
func (r *Registry) Load(ctx context.Context, req LoadRequest, allow func(Source) bool) Set {
	results := make([]Set, len(Precedence))
	var g errgroup.Group
	for i, src := range Precedence {
		p, ok := r.providers[src]
		if !ok || (allow != nil && !allow(src)) {
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("tool provider panicked", "source", src, "panic", fmt.Sprint(rec))
				}
			}()
			set, loadErr := p.Load(ctx, req)
			if loadErr != nil {
				r.log.Warn("tool provider failed; continuing without it", "source", src, "error", loadErr)
				return nil
			}
			results[i] = set
			return nil
		})
	}
	_ = g.Wait()

	out := Set{}
	for _, set := range results {
		for name, t := range set {
			out[name] = t
		}
	}
	return out
}
