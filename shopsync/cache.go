package shopsync

import (
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ConnectionCache is a small TTL cache for webhook-path connection lookups
// keyed by shop domain. It is owned by whoever constructs the handlers and
// injected explicitly; there is no process-wide singleton, which keeps
// cross-tenant isolation testable.
type ConnectionCache struct {
	lru *expirable.LRU[string, models.IntegrationConnection]
}

func NewConnectionCache(size int, ttl time.Duration) *ConnectionCache {
	if size <= 0 {
		size = 256
	}
	return &ConnectionCache{
		lru: expirable.NewLRU[string, models.IntegrationConnection](size, nil, ttl),
	}
}

func (c *ConnectionCache) Get(shopDomain string) (models.IntegrationConnection, bool) {
	return c.lru.Get(shopDomain)
}

func (c *ConnectionCache) Add(shopDomain string, conn models.IntegrationConnection) {
	c.lru.Add(shopDomain, conn)
}

func (c *ConnectionCache) Remove(shopDomain string) {
	c.lru.Remove(shopDomain)
}
