package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	spacehost "github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/domain"
	"github.com/windholt/spacehost/internal/infra/database/models"
)

// mapCache is an in-memory stand-in for the memcached record cache.
type mapCache struct {
	entries map[string]*domain.Record
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]*domain.Record{}}
}

func (c *mapCache) Get(cid string) (*domain.Record, bool) {
	rec, ok := c.entries[cid]
	if !ok {
		return nil, false
	}
	copied := *rec
	return &copied, true
}

func (c *mapCache) Set(rec *domain.Record) {
	copied := *rec
	c.entries[rec.CID] = &copied
}

func (c *mapCache) Delete(cid string) {
	delete(c.entries, cid)
}

func newTestStore(t *testing.T) (*SpaceStore, *mapCache) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	// Every pooled connection would get its own in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(
		&models.SpaceRecord{},
		&models.RecordVersion{},
		&models.Backlink{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	mc := newMapCache()
	return NewSpaceStore(db, mc), mc
}

func prepRecord(t *testing.T, owner, space, collection, rkey string, value map[string]any) domain.PreparedRecord {
	t.Helper()
	cid, err := spacehost.ComputeCID(value)
	if err != nil {
		t.Fatalf("failed to compute cid: %v", err)
	}
	return domain.PreparedRecord{
		URI:        spacehost.MakeAtURI(owner, collection, rkey).String(),
		Space:      space,
		Collection: collection,
		RKey:       rkey,
		CID:        cid,
		Value:      value,
		DID:        owner,
	}
}

func applyOne(t *testing.T, store *SpaceStore, action domain.WriteAction, rec domain.PreparedRecord) {
	t.Helper()
	err := store.ApplyWrite(context.Background(), domain.PreparedWrite{
		Action:  action,
		Records: []domain.PreparedRecord{rec},
		Rev:     spacehost.NewRev(),
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
}

func TestSetTakedownEvictsCachedRecord(t *testing.T) {
	store, mc := newTestStore(t)
	ctx := context.Background()

	rec := prepRecord(t, "did:plc:alice", "photos", "app.bsky.feed.post", "3k1", map[string]any{"text": "hello"})
	applyOne(t, store, domain.ActionCreate, rec)

	// Warm the cid-keyed cache.
	if _, err := store.GetRecord(ctx, rec.URI, rec.CID, false); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, ok := mc.Get(rec.CID); !ok {
		t.Fatalf("expected cache entry after read")
	}

	if err := store.SetTakedown(ctx, rec.URI, domain.StatusAttr{Applied: true, Ref: "mod-1"}); err != nil {
		t.Fatalf("takedown failed: %v", err)
	}

	// The cid did not change, so without eviction this read would hit
	// the stale cached copy and serve the hidden record.
	if _, ok := mc.Get(rec.CID); ok {
		t.Fatalf("cache entry survived takedown")
	}
	if _, err := store.GetRecord(ctx, rec.URI, rec.CID, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("taken-down record still readable: %v", err)
	}

	// Reversal restores visibility through the database.
	if err := store.SetTakedown(ctx, rec.URI, domain.StatusAttr{Applied: false}); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if _, err := store.GetRecord(ctx, rec.URI, rec.CID, false); err != nil {
		t.Fatalf("restored record unreadable: %v", err)
	}
}

func TestSetTakedownMissingRecord(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.SetTakedown(context.Background(), "at://did:plc:alice/app.bsky.feed.post/none", domain.StatusAttr{Applied: true})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIndexReplacesBacklinksOnUpdate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	follow := prepRecord(t, "did:plc:alice", "root", domain.CollectionFollow, "3k1", map[string]any{
		"$type":   domain.CollectionFollow,
		"subject": "did:plc:bob",
	})
	applyOne(t, store, domain.ActionCreate, follow)

	links, err := store.GetRecordBacklinks(ctx, domain.CollectionFollow, "subject", "did:plc:bob")
	if err != nil {
		t.Fatalf("backlink lookup failed: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected one backlink for bob, got %d", len(links))
	}

	updated := prepRecord(t, "did:plc:alice", "root", domain.CollectionFollow, "3k1", map[string]any{
		"$type":   domain.CollectionFollow,
		"subject": "did:plc:carol",
	})
	applyOne(t, store, domain.ActionUpdate, updated)

	// The backlink set must equal the freshly extracted set, never a
	// union with the previous subject's.
	links, err = store.GetRecordBacklinks(ctx, domain.CollectionFollow, "subject", "did:plc:bob")
	if err != nil {
		t.Fatalf("backlink lookup failed: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("stale backlink survived update: %d rows", len(links))
	}
	links, err = store.GetRecordBacklinks(ctx, domain.CollectionFollow, "subject", "did:plc:carol")
	if err != nil {
		t.Fatalf("backlink lookup failed: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected one backlink for carol, got %d", len(links))
	}
}

func TestDeleteRemovesIndexRows(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	follow := prepRecord(t, "did:plc:alice", "root", domain.CollectionFollow, "3k1", map[string]any{
		"$type":   domain.CollectionFollow,
		"subject": "did:plc:bob",
	})
	applyOne(t, store, domain.ActionCreate, follow)

	err := store.ApplyWrite(ctx, domain.PreparedWrite{
		Action:     domain.ActionDelete,
		DeleteURIs: []string{follow.URI},
		Rev:        spacehost.NewRev(),
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := store.GetRecord(ctx, follow.URI, "", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted record still readable: %v", err)
	}
	links, err := store.GetRecordBacklinks(ctx, domain.CollectionFollow, "subject", "did:plc:bob")
	if err != nil {
		t.Fatalf("backlink lookup failed: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("backlinks survived delete: %d rows", len(links))
	}
}
