package auth

import (
	"container/list"
	"sync"
	"time"
)

// DefaultKeySetCacheSize bounds the number of remote key sets kept in memory.
const DefaultKeySetCacheSize = 1024

// KeySetCacheConfig holds configuration for the key set cache.
type KeySetCacheConfig struct {
	// MaxEntries is the number of tenants whose key sets are retained.
	// Default: DefaultKeySetCacheSize
	MaxEntries int

	// Cooldown is the minimum interval between refetches of one key set.
	// Default: DefaultRefetchCooldown
	Cooldown time.Duration

	// HTTPClient fetches key set documents.
	HTTPClient HTTPDoer
}

// KeySetCache holds one RemoteKeySet per tenant, evicting the least recently used
// entry once full. It is created once per process and shared by all requests.
type KeySetCache struct {
	mu         sync.Mutex
	maxEntries int
	cooldown   time.Duration
	httpClient HTTPDoer
	ll         *list.List
	entries    map[string]*list.Element
}

type keySetEntry struct {
	tenantID string
	set      *RemoteKeySet
}

// NewKeySetCache creates an empty cache.
func NewKeySetCache(cfg KeySetCacheConfig) *KeySetCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultKeySetCacheSize
	}
	return &KeySetCache{
		maxEntries: cfg.MaxEntries,
		cooldown:   cfg.Cooldown,
		httpClient: cfg.HTTPClient,
		ll:         list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Get returns the key set for a tenant, creating it on first use.
// If the tenant's URL has changed since the entry was created, the entry is replaced.
func (c *KeySetCache) Get(tenantID, url string) *RemoteKeySet {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[tenantID]; ok {
		entry := el.Value.(*keySetEntry)
		if entry.set.URL() == url {
			c.ll.MoveToFront(el)
			return entry.set
		}
		c.ll.Remove(el)
		delete(c.entries, tenantID)
	}

	entry := &keySetEntry{
		tenantID: tenantID,
		set:      NewRemoteKeySet(url, c.httpClient, c.cooldown),
	}
	c.entries[tenantID] = c.ll.PushFront(entry)

	for c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*keySetEntry).tenantID)
	}

	return entry.set
}

// Len returns the number of cached key sets.
func (c *KeySetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
