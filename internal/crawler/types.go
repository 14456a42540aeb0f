// Package crawler discovers welfare announcements on municipal government
// sites and enqueues them for enrichment.
package crawler

import (
	"context"
	"sync"

	"github.com/cherites0610/welfare-pipeline/internal/models"
	"github.com/cherites0610/welfare-pipeline/internal/queue"
)

// Strategy crawls one city's site and returns the announcements found.
// known holds the links already persisted; strategies skip them.
type Strategy interface {
	CrawlCity(ctx context.Context, site models.SiteConfig, known *LinkSet) ([]models.CrawlRecord, error)
}

// SelfEnqueuer marks strategies that push their records onto the queue
// themselves. The orchestrator skips per-record enqueueing for them.
type SelfEnqueuer interface {
	SelfEnqueues() bool
}

// Enqueuer is the queue surface strategies and the orchestrator need.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg queue.JobMessage) error
	EnqueueBulk(ctx context.Context, msgs []queue.JobMessage) error
}

// LinkLister exposes the set of announcement links already stored.
type LinkLister interface {
	ListLinks(ctx context.Context) (map[string]struct{}, error)
}

// LinkSet is a concurrency-safe set of visited links. TryAdd is the only
// mutation so concurrent crawl tasks claim a link exactly once.
type LinkSet struct {
	mu    sync.Mutex
	links map[string]struct{}
}

// NewLinkSet builds a LinkSet seeded with the given links.
func NewLinkSet(seed map[string]struct{}) *LinkSet {
	links := make(map[string]struct{}, len(seed))
	for link := range seed {
		links[link] = struct{}{}
	}
	return &LinkSet{links: links}
}

// TryAdd claims a link. Returns false when the link was already present.
func (s *LinkSet) TryAdd(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[link]; exists {
		return false
	}
	s.links[link] = struct{}{}
	return true
}

// Contains reports whether a link has been claimed.
func (s *LinkSet) Contains(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.links[link]
	return exists
}

// Len returns the number of claimed links.
func (s *LinkSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// Registry maps city names to bespoke strategies, falling back to a
// generic selector-driven strategy for cities without one.
type Registry struct {
	fallback   Strategy
	strategies map[string]Strategy
}

// NewRegistry creates a registry with the given fallback strategy.
func NewRegistry(fallback Strategy) *Registry {
	return &Registry{
		fallback:   fallback,
		strategies: make(map[string]Strategy),
	}
}

// Register binds a bespoke strategy to a city name.
func (r *Registry) Register(city string, strategy Strategy) {
	r.strategies[city] = strategy
}

// For returns the strategy for a city.
func (r *Registry) For(city string) Strategy {
	if s, ok := r.strategies[city]; ok {
		return s
	}
	return r.fallback
}
