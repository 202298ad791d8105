package collector

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type nameLookup uint8

const (
	lookupHostSID nameLookup = iota
	lookupForest
	lookupDomainSID
)

type nameKey struct {
	kind   nameLookup
	name   string
	domain string
}

// CachingNameResolver remembers successful lookups of the wrapped resolver.
// Failed lookups are not cached so that transient errors are retried.
type CachingNameResolver struct {
	inner NameResolver
	cache *lru.Cache[nameKey, string]
}

// NewCachingNameResolver wraps inner with an LRU cache holding up to size results.
func NewCachingNameResolver(inner NameResolver, size int) (*CachingNameResolver, error) {
	if inner == nil {
		return nil, fmt.Errorf("name resolver cannot be nil")
	}
	cache, err := lru.New[nameKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}
	return &CachingNameResolver{inner: inner, cache: cache}, nil
}

func (c *CachingNameResolver) ResolveHostToSID(ctx context.Context, host, domain string) (string, bool) {
	return c.lookup(nameKey{lookupHostSID, host, domain}, func() (string, bool) {
		return c.inner.ResolveHostToSID(ctx, host, domain)
	})
}

func (c *CachingNameResolver) GetForest(ctx context.Context, domain string) (string, bool) {
	return c.lookup(nameKey{lookupForest, domain, ""}, func() (string, bool) {
		return c.inner.GetForest(ctx, domain)
	})
}

func (c *CachingNameResolver) GetDomainSIDFromDomainName(ctx context.Context, domain string) (string, bool) {
	return c.lookup(nameKey{lookupDomainSID, domain, ""}, func() (string, bool) {
		return c.inner.GetDomainSIDFromDomainName(ctx, domain)
	})
}

// Len returns the number of cached results.
func (c *CachingNameResolver) Len() int {
	return c.cache.Len()
}

func (c *CachingNameResolver) lookup(key nameKey, resolve func() (string, bool)) (string, bool) {
	if v, ok := c.cache.Get(key); ok {
		return v, true
	}
	v, ok := resolve()
	if ok {
		c.cache.Add(key, v)
	}
	return v, ok
}
