package provider

import (
	"slices"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/patrickmn/go-cache"
)

// LookupCache holds search results for the lifetime of one run. It is passed
// explicitly to the resolver so separate runs never observe each other's
// lookups.
type LookupCache struct {
	c *cache.Cache
}

// NewLookupCache creates an empty run-scoped cache. Entries never expire; the
// cache is dropped with the run.
func NewLookupCache() *LookupCache {
	return &LookupCache{c: cache.New(cache.NoExpiration, 0)}
}

// Get returns a copy of the cached candidates for key.
func (l *LookupCache) Get(key string) ([]media.Candidate, bool) {
	if l == nil {
		return nil, false
	}
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false
	}
	cands, ok := v.([]media.Candidate)
	if !ok {
		return nil, false
	}
	return slices.Clone(cands), true
}

// Set stores a copy of cands under key.
func (l *LookupCache) Set(key string, cands []media.Candidate) {
	if l == nil {
		return
	}
	l.c.Set(key, slices.Clone(cands), cache.DefaultExpiration)
}

// Len reports how many lookups are cached.
func (l *LookupCache) Len() int {
	if l == nil {
		return 0
	}
	return l.c.ItemCount()
}
