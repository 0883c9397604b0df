// Package provider implements the live-data fetch core: a uniform provider
// contract, reliability-tier ordering, response cache over the KV store,
// retry with backoff, and a per-provider circuit breaker.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/novaos/backend/internal/core"
)

// ReliabilityTier orders providers within a category:
// official > feed > community.
type ReliabilityTier int

const (
	TierOfficial ReliabilityTier = iota
	TierFeed
	TierCommunity
)

func (t ReliabilityTier) String() string {
	switch t {
	case TierOfficial:
		return "official"
	case TierFeed:
		return "feed"
	case TierCommunity:
		return "community"
	default:
		return "unknown"
	}
}

// Provider is the uniform fetch contract every upstream implements.
// Fetch returns a tagged result; transport errors are encoded as the
// Failure arm, never as a Go error.
type Provider interface {
	Name() string
	Categories() []core.Category
	Reliability() ReliabilityTier
	IsAvailable() bool
	Fetch(ctx context.Context, query string) core.ProviderResult
}

// Registry holds the registered providers, ordered per category by
// reliability tier so the fetch core can pick primaries and fallbacks.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	byCat     map[core.Category][]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		byCat:     make(map[core.Category][]Provider),
	}
}

// Register adds a provider and re-sorts its categories by reliability.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Name()] = p
	for _, cat := range p.Categories() {
		r.byCat[cat] = append(r.byCat[cat], p)
		sort.SliceStable(r.byCat[cat], func(i, j int) bool {
			return r.byCat[cat][i].Reliability() < r.byCat[cat][j].Reliability()
		})
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// ForCategory returns the available providers for a category, best tier
// first. The slice is a copy; callers may not mutate registry state.
func (r *Registry) ForCategory(cat core.Category) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.byCat[cat]))
	for _, p := range r.byCat[cat] {
		if p.IsAvailable() {
			out = append(out, p)
		}
	}
	return out
}

// Names lists all registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
