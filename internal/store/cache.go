package store

import (
	"fmt"

	"github.com/dpktjf/dpk-ek-scraper/internal/flight"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultHandoffSize bounds the number of cached results
const DefaultHandoffSize = 64

// HandoffCache keeps the last accepted result per job id in memory
type HandoffCache struct {
	cache *lru.Cache[string, *flight.SearchResult]
}

// NewHandoffCache creates a cache holding at most size results
func NewHandoffCache(size int) (*HandoffCache, error) {
	if size <= 0 {
		size = DefaultHandoffSize
	}
	cache, err := lru.New[string, *flight.SearchResult](size)
	if err != nil {
		return nil, fmt.Errorf("create handoff cache: %w", err)
	}
	return &HandoffCache{cache: cache}, nil
}

// Put stores result under its job id
func (c *HandoffCache) Put(result *flight.SearchResult) {
	if result == nil || result.JobID == "" {
		return
	}
	c.cache.Add(result.JobID, result)
}

// Get returns the cached result for jobID
func (c *HandoffCache) Get(jobID string) (*flight.SearchResult, bool) {
	return c.cache.Get(jobID)
}

// Remove drops jobID
func (c *HandoffCache) Remove(jobID string) {
	c.cache.Remove(jobID)
}

// Len returns the number of cached results
func (c *HandoffCache) Len() int {
	return c.cache.Len()
}
