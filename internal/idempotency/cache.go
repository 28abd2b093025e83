package idempotency

import (
	"sync"
	"time"

	"github.com/nimeshk03/hpc-pay-settlement-engine/internal/domain/models"
)

const cacheShards = 32

// Cache is the fast, best-effort tier of the check-and-claim protocol. No
// external cache server is wired in (the retrieval pack carries none), so
// this is an in-process sharded map with its own TTL reaper: each shard is
// guarded by its own RWMutex, and a background janitor goroutine removes
// expired entries.
type Cache struct {
	shards [cacheShards]*shard
	stopCh chan struct{}
}

type shard struct {
	mu      sync.RWMutex
	records map[string]cacheEntry
}

type cacheEntry struct {
	record    models.IdempotencyRecord
	expiresAt time.Time
}

// NewCache builds a cache and starts its janitor goroutine, sweeping expired
// entries every interval.
func NewCache(sweepInterval time.Duration) *Cache {
	c := &Cache{stopCh: make(chan struct{})}
	for i := range c.shards {
		c.shards[i] = &shard{records: make(map[string]cacheEntry)}
	}
	go c.janitor(sweepInterval)
	return c
}

func (c *Cache) shardFor(key string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return c.shards[h%cacheShards]
}

// Get returns the cached record for key, if present and unexpired.
func (c *Cache) Get(key string) (models.IdempotencyRecord, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.records[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return models.IdempotencyRecord{}, false
	}
	return entry.record, true
}

// Set mirrors a record into the cache with the given TTL.
func (c *Cache) Set(record models.IdempotencyRecord, ttl time.Duration) {
	s := c.shardFor(record.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key] = cacheEntry{record: record, expiresAt: time.Now().Add(ttl)}
}

// Delete evicts a key immediately, used when the durable store disagrees
// with a cached entry (the durable store is authoritative).
func (c *Cache) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			for _, s := range c.shards {
				s.mu.Lock()
				for k, e := range s.records {
					if now.After(e.expiresAt) {
						delete(s.records, k)
					}
				}
				s.mu.Unlock()
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the janitor goroutine.
func (c *Cache) Close() { close(c.stopCh) }
