package mailbox

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AddressCache is a process-local cache of each tenant's IMAP search
// address set. It only saves repeated lookups within the TTL; an empty
// cache just means a database round trip.
type AddressCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[uuid.UUID]addrEntry
}

type addrEntry struct {
	addrs     []string
	expiresAt time.Time
}

// NewAddressCache creates a cache with the given entry TTL.
func NewAddressCache(ttl time.Duration) *AddressCache {
	return &AddressCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]addrEntry),
	}
}

// Get returns the cached address set for a tenant, if still fresh.
func (c *AddressCache) Get(tenantID uuid.UUID) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tenantID]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, tenantID)
		return nil, false
	}
	return entry.addrs, true
}

// Put stores a tenant's address set.
func (c *AddressCache) Put(tenantID uuid.UUID, addrs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[tenantID] = addrEntry{
		addrs:     addrs,
		expiresAt: c.now().Add(c.ttl),
	}
}
