package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/singleflight"

	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

// Source is a remote tool provider the registry can discover tools from.
type Source interface {
	BaseURL() string
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// Registry holds the aggregated tool descriptors of all configured providers,
// in provider order. It is rebuilt wholesale on refresh, never patched.
type Registry struct {
	sources []Source

	mu    sync.RWMutex
	tools []mcp.Tool
	owner map[string]Source // tool name -> provider that exposed it

	sf singleflight.Group
}

// New creates a registry over the given providers. Call Refresh to populate.
func New(sources ...Source) *Registry {
	return &Registry{
		sources: sources,
		owner:   map[string]Source{},
	}
}

// Refresh re-fetches descriptors from every provider. The aggregate is
// all-or-nothing: if any provider fails, the registry is left empty and the
// error names the endpoint. Concurrent refreshes are collapsed into one.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err, _ := r.sf.Do("refresh", func() (any, error) {
		var tools []mcp.Tool
		owner := map[string]Source{}
		for _, src := range r.sources {
			listed, err := src.ListTools(ctx)
			if err != nil {
				r.replace(nil, map[string]Source{})
				return nil, fmt.Errorf("failed to list tools from %s: %w", src.BaseURL(), err)
			}
			for _, t := range listed {
				if _, dup := owner[t.Name]; dup {
					continue
				}
				owner[t.Name] = src
				tools = append(tools, t)
			}
		}
		r.replace(tools, owner)
		return nil, nil
	})
	return err
}

func (r *Registry) replace(tools []mcp.Tool, owner map[string]Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = tools
	r.owner = owner
}

// List returns the descriptors in provider order.
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Get returns the descriptor for an exact tool name.
func (r *Registry) Get(name string) (mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if t.Name == name {
			return t, true
		}
	}
	return mcp.Tool{}, false
}

// Owner returns the provider that exposed a tool.
func (r *Registry) Owner(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.owner[name]
	return src, ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Search ranks tools against a keyword query. Exact substring beats fuzzy
// name match beats description match; ties keep provider order.
func (r *Registry) Search(query string, limit int) []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		if len(r.tools) <= limit {
			out := make([]mcp.Tool, len(r.tools))
			copy(out, r.tools)
			return out
		}
		out := make([]mcp.Tool, limit)
		copy(out, r.tools[:limit])
		return out
	}

	type scored struct {
		tool  mcp.Tool
		score int
	}
	var matches []scored
	for _, t := range r.tools {
		nameLower := strings.ToLower(t.Name)
		descLower := strings.ToLower(t.Description)

		score := 0
		if strings.Contains(nameLower, query) {
			score += 100
		}
		if fuzzy.Match(query, nameLower) {
			score += 50
		}
		if strings.Contains(descLower, query) {
			score += 30
		}
		if score > 0 {
			matches = append(matches, scored{tool: t, score: score})
		}
	}

	// Stable selection sort keeps provider order for equal scores.
	var out []mcp.Tool
	for len(out) < limit && len(matches) > 0 {
		best := 0
		for i := 1; i < len(matches); i++ {
			if matches[i].score > matches[best].score {
				best = i
			}
		}
		out = append(out, matches[best].tool)
		matches = append(matches[:best], matches[best+1:]...)
	}
	return out
}
