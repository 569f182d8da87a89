package backend

import (
	"context"
	"sync"

	"github.com/bodiless/contentsync/internal/content"
)

const subscriberBuffer = 4

// Hub fans snapshot updates out to the subscribers of each page.
type Hub struct {
	store  ContentStore
	logger Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan content.Snapshot
}

func NewHub(store ContentStore, logger Logger) *Hub {
	return &Hub{
		store:  store,
		logger: logger,
		subs:   map[string]map[uint64]chan content.Snapshot{},
	}
}

// Subscribe registers interest in slug. The returned function unsubscribes
// and closes the channel.
func (h *Hub) Subscribe(slug string) (<-chan content.Snapshot, func()) {
	slug = NormalizeSlug(slug)
	ch := make(chan content.Snapshot, subscriberBuffer)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[slug] == nil {
		h.subs[slug] = map[uint64]chan content.Snapshot{}
	}
	h.subs[slug][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[slug], id)
			if len(h.subs[slug]) == 0 {
				delete(h.subs, slug)
			}
			close(ch)
		})
	}
}

// Subscribers counts the subscribers of slug.
func (h *Hub) Subscribers(slug string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[NormalizeSlug(slug)])
}

// Publish rebuilds and pushes the snapshot of every page affected by the
// given resource paths.
func (h *Hub) Publish(ctx context.Context, resourcePaths ...string) {
	for _, slug := range h.targets(resourcePaths) {
		snapshot, err := BuildSnapshot(ctx, h.store, slug)
		if err != nil {
			h.logf("build snapshot for %q: %v", slug, err)
			continue
		}
		h.deliver(slug, snapshot)
	}
}

func (h *Hub) targets(resourcePaths []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := map[string]bool{}
	out := make([]string, 0)
	add := func(slug string) {
		if _, subscribed := h.subs[slug]; subscribed && !seen[slug] {
			seen[slug] = true
			out = append(out, slug)
		}
	}
	for _, resourcePath := range resourcePaths {
		slug, all, ok := affectedSlugs(resourcePath)
		if !ok {
			continue
		}
		if all {
			for subscribed := range h.subs {
				add(subscribed)
			}
			continue
		}
		add(slug)
	}
	return out
}

// deliver never blocks. A subscriber with a full buffer loses its oldest
// snapshot.
func (h *Hub) deliver(slug string, snapshot content.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[slug] {
		for {
			select {
			case ch <- snapshot:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger == nil {
		return
	}
	h.logger.Printf(format, args...)
}
