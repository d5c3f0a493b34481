package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Info describes a live subscription.
type Info struct {
	ID          string `json:"id"`
	Client      string `json:"client"`
	RemoteAddr  string `json:"remote_addr"`
	Views       bool   `json:"views"`
	ConnectedAt int64  `json:"connected_at"`
	LastSeenAt  int64  `json:"last_seen_at"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Registry is the set of live subscriptions owned by a Hub.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string]*Subscription),
	}
}

func (r *Registry) add(s *Subscription) {
	r.mu.Lock()
	r.subs[s.id] = s
	r.mu.Unlock()
}

func (r *Registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// snapshot copies the subscriber list so delivery happens outside the lock.
func (r *Registry) snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

// Get returns the info of one subscription.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	s, ok := r.subs[id]
	r.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return s.Info(), true
}

// List returns every live subscription, oldest first.
func (r *Registry) List() []Info {
	subs := r.snapshot()
	list := make([]Info, 0, len(subs))
	for _, s := range subs {
		list = append(list, s.Info())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ConnectedAt == list[j].ConnectedAt {
			return list[i].ID < list[j].ID
		}
		return list[i].ConnectedAt < list[j].ConnectedAt
	})
	return list
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// PruneStale closes subscriptions that have not been touched within timeout.
// It returns the number closed.
func (r *Registry) PruneStale(now time.Time, timeout time.Duration) int {
	count := 0
	for _, s := range r.snapshot() {
		if now.Sub(s.lastSeen()) > timeout {
			s.Close()
			count++
		}
	}
	return count
}

// StartCleanupLoop starts a background goroutine to prune stale subscriptions.
func (r *Registry) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				r.PruneStale(now, timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
