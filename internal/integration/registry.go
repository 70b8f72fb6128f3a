package integration

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/dpktjf/dpk-ek-scraper/internal/coordinator"
	"github.com/dpktjf/dpk-ek-scraper/internal/search"
	"github.com/dpktjf/dpk-ek-scraper/internal/sensor"
)

// Runtime is everything a set-up entry owns
type Runtime struct {
	Entry       Entry
	Search      search.Config
	Coordinator *coordinator.Coordinator
	Platform    *sensor.Platform

	watcher            *RefreshWatcher
	removeNotification func()
	cancel             context.CancelFunc
}

// Registry maps entry ids and webhook ids to runtimes. Several entries may
// share one webhook id; the job id in a delivered result tells them apart.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Runtime
	webhooks map[string][]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[string]*Runtime),
		webhooks: make(map[string][]string),
	}
}

func (r *Registry) add(rt *Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[rt.Entry.ID] = rt
	r.webhooks[rt.Entry.WebhookID] = append(r.webhooks[rt.Entry.WebhookID], rt.Entry.ID)
}

func (r *Registry) remove(entryID string) (*Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.entries[entryID]
	if !ok {
		return nil, false
	}
	delete(r.entries, entryID)

	ids := slices.DeleteFunc(r.webhooks[rt.Entry.WebhookID], func(id string) bool { return id == entryID })
	if len(ids) == 0 {
		delete(r.webhooks, rt.Entry.WebhookID)
	} else {
		r.webhooks[rt.Entry.WebhookID] = ids
	}
	return rt, true
}

// Get returns the runtime for entryID
func (r *Registry) Get(entryID string) (*Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.entries[entryID]
	return rt, ok
}

// ByWebhook returns every runtime registered under webhookID, in the order
// they were set up
func (r *Registry) ByWebhook(webhookID string) []*Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.webhooks[webhookID]
	out := make([]*Runtime, 0, len(ids))
	for _, id := range ids {
		if rt, ok := r.entries[id]; ok {
			out = append(out, rt)
		}
	}
	return out
}

// findKey returns the runtime running a search with the same identity
func (r *Registry) findKey(key search.Key) (*Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.entries {
		if rt.Search.Key() == key {
			return rt, true
		}
	}
	return nil, false
}

// List returns all runtimes ordered by entry id
func (r *Registry) List() []*Runtime {
	r.mu.RLock()
	out := make([]*Runtime, 0, len(r.entries))
	for _, rt := range r.entries {
		out = append(out, rt)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.ID < out[j].Entry.ID })
	return out
}

// Len returns the number of registered entries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
