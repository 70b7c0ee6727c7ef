// Package cache provides a read-through cache for content-addressed
// record lookups. Entries are keyed by cid; the value never changes
// without changing its cid, but moderation state can, so takedowns
// must evict the entry.
package cache

import (
	"encoding/json"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/windholt/spacehost/internal/domain"
)

const keyPrefix = "sh:rec:"

type RecordCache struct {
	mc  *memcache.Client
	ttl int32
}

func NewRecordCache(mc *memcache.Client) *RecordCache {
	return &RecordCache{mc: mc, ttl: 3600}
}

func (c *RecordCache) Get(cid string) (*domain.Record, bool) {
	if c == nil || c.mc == nil {
		return nil, false
	}
	item, err := c.mc.Get(keyPrefix + cid)
	if err != nil {
		return nil, false
	}
	var rec domain.Record
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// Set stores a record best-effort; cache failures are invisible to reads.
func (c *RecordCache) Set(rec *domain.Record) {
	if c == nil || c.mc == nil || rec == nil || rec.CID == "" {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = c.mc.Set(&memcache.Item{Key: keyPrefix + rec.CID, Value: raw, Expiration: c.ttl})
}

// Delete drops the entry for a cid, if present.
func (c *RecordCache) Delete(cid string) {
	if c == nil || c.mc == nil || cid == "" {
		return
	}
	_ = c.mc.Delete(keyPrefix + cid)
}
