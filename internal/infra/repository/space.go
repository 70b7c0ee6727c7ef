package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	spacehost "github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/domain"
	"github.com/windholt/spacehost/internal/infra/database/models"
)

// RecordCache is the cid-keyed read cache as the store consumes it.
type RecordCache interface {
	Get(cid string) (*domain.Record, bool)
	Set(rec *domain.Record)
	Delete(cid string)
}

// SpaceStore is the gorm-backed record store: reads, key-ordered
// pagination, and the transactional write side the dual-write
// coordinator commits through.
type SpaceStore struct {
	db    *gorm.DB
	cache RecordCache
}

func NewSpaceStore(db *gorm.DB, rc RecordCache) *SpaceStore {
	return &SpaceStore{db: db, cache: rc}
}

func (r *SpaceStore) RecordCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SpaceRecord{}).Count(&count).Error
	return count, err
}

// ListAll enumerates every record via repeated fixed-size pages ordered
// by uri. The page boundary is the last uri seen, so rows inserted
// behind the cursor are never revisited.
func (r *SpaceStore) ListAll(ctx context.Context) ([]domain.RecordDescript, error) {
	var records []domain.RecordDescript
	cursor := ""
	for {
		var rows []models.SpaceRecord
		err := r.db.WithContext(ctx).
			Select("uri", "cid").
			Where("uri > ?", cursor).
			Order("uri asc").
			Limit(domain.ListAllPageSize).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			records = append(records, domain.RecordDescript{URI: row.URI, CID: row.CID})
		}
		if len(rows) < domain.ListAllPageSize {
			return records, nil
		}
		cursor = rows[len(rows)-1].URI
	}
}

func (r *SpaceStore) ListSpaces(ctx context.Context, space string) ([]string, error) {
	return r.listURIsByCollection(ctx, space, domain.CollectionSpace)
}

func (r *SpaceStore) ListGroups(ctx context.Context, space string) ([]string, error) {
	return r.listURIsByCollection(ctx, space, domain.CollectionGroup)
}

func (r *SpaceStore) listURIsByCollection(ctx context.Context, space, collection string) ([]string, error) {
	var uris []string
	err := r.db.WithContext(ctx).Model(&models.SpaceRecord{}).
		Where("space = ?", space).
		Where("collection = ?", collection).
		Pluck("uri", &uris).Error
	return uris, err
}

func (r *SpaceStore) ListCollections(ctx context.Context, space string) ([]string, error) {
	var collections []string
	err := r.db.WithContext(ctx).Model(&models.SpaceRecord{}).
		Where("space = ?", space).
		Distinct("collection").
		Pluck("collection", &collections).Error
	return collections, err
}

// ListRecords returns one page of a container's collection, ordered by
// record key. The cursor pages by strict key comparison and takes
// precedence over the legacy inclusive rkey range.
func (r *SpaceStore) ListRecords(ctx context.Context, q domain.ListQuery) ([]domain.Record, error) {
	tx := r.db.WithContext(ctx).Model(&models.SpaceRecord{}).
		Where("space = ?", q.Space).
		Where("collection = ?", q.Collection)
	if q.Owner != "" {
		tx = tx.Where("uri LIKE ?", "at://"+q.Owner+"/%")
	}
	if !q.IncludeSoftDeleted {
		tx = tx.Where("takedown_ref IS NULL")
	}
	if q.Cursor != "" {
		if q.Reverse {
			tx = tx.Where("rkey > ?", q.Cursor)
		} else {
			tx = tx.Where("rkey < ?", q.Cursor)
		}
	} else {
		if q.RKeyStart != "" {
			tx = tx.Where("rkey > ?", q.RKeyStart)
		}
		if q.RKeyEnd != "" {
			tx = tx.Where("rkey < ?", q.RKeyEnd)
		}
	}
	if q.Reverse {
		tx = tx.Order("rkey asc")
	} else {
		tx = tx.Order("rkey desc")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []models.SpaceRecord
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// GetRecord fetches one record by uri. When cid is non-empty it acts as
// a precondition: a stored record with a different cid reads as absent.
func (r *SpaceStore) GetRecord(ctx context.Context, uri, cid string, includeSoftDeleted bool) (*domain.Record, error) {
	if cid != "" && !includeSoftDeleted {
		if rec, ok := r.cache.Get(cid); ok && rec.URI == uri && rec.TakedownRef == nil {
			return rec, nil
		}
	}

	tx := r.db.WithContext(ctx).Where("uri = ?", uri)
	if !includeSoftDeleted {
		tx = tx.Where("takedown_ref IS NULL")
	}
	if cid != "" {
		tx = tx.Where("cid = ?", cid)
	}
	var row models.SpaceRecord
	err := tx.Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.NotFoundError{Resource: "record"}
		}
		return nil, err
	}
	rec, err := toDomain(row)
	if err != nil {
		return nil, err
	}
	if cid != "" && rec.TakedownRef == nil {
		r.cache.Set(rec)
	}
	return rec, nil
}

// GetSpaceProfile returns the container record of the named space under
// its owner, soft-deleted rows excluded.
func (r *SpaceStore) GetSpaceProfile(ctx context.Context, ownerDID, space string) (*domain.Record, error) {
	uri := spacehost.MakeAtURI(ownerDID, domain.CollectionSpace, space).String()
	return r.GetRecord(ctx, uri, "", false)
}

func (r *SpaceStore) GetTakedownStatus(ctx context.Context, uri string) (*domain.StatusAttr, error) {
	var row models.SpaceRecord
	err := r.db.WithContext(ctx).Select("takedown_ref").Where("uri = ?", uri).Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.NotFoundError{Resource: "record"}
		}
		return nil, err
	}
	if row.TakedownRef == nil {
		return &domain.StatusAttr{Applied: false}, nil
	}
	return &domain.StatusAttr{Applied: true, Ref: *row.TakedownRef}, nil
}

func (r *SpaceStore) GetCurrentCID(ctx context.Context, uri string) (string, error) {
	var row models.SpaceRecord
	err := r.db.WithContext(ctx).Select("cid").Where("uri = ?", uri).Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", domain.NotFoundError{Resource: "record"}
		}
		return "", err
	}
	return row.CID, nil
}

// GetRecordBacklinks finds records of a collection whose backlink set
// contains the given (path, linkTo) pair.
func (r *SpaceStore) GetRecordBacklinks(ctx context.Context, collection, path, linkTo string) ([]domain.Record, error) {
	var rows []models.SpaceRecord
	err := r.db.WithContext(ctx).Model(&models.SpaceRecord{}).
		Joins("INNER JOIN backlinks ON backlinks.uri = space_records.uri").
		Where("backlinks.path = ?", path).
		Where("backlinks.link_to = ?", linkTo).
		Where("space_records.collection = ?", collection).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// FindConflicts returns uris of existing same-collection records whose
// backlinks duplicate the ones the given body would produce. The scan
// reads without a write lock, so two concurrent writers can both pass
// it; duplicate edges surfacing later is accepted, not prevented.
func (r *SpaceStore) FindConflicts(ctx context.Context, uri string, value map[string]any) ([]string, error) {
	parsed, err := spacehost.ParseAtURI(uri)
	if err != nil {
		return nil, err
	}
	var conflicts []string
	for _, link := range domain.ExtractBacklinks(uri, value) {
		records, err := r.GetRecordBacklinks(ctx, parsed.Collection, link.Path, link.LinkTo)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.URI != uri {
				conflicts = append(conflicts, rec.URI)
			}
		}
	}
	return conflicts, nil
}

// ApplyWrite commits one prepared write in a single transaction:
// dedupe/delete targets go first (primary row, then version and
// backlinks), then each prepared record is inserted and indexed.
func (r *SpaceStore) ApplyWrite(ctx context.Context, w domain.PreparedWrite) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, target := range w.DeleteURIs {
			if err := tx.Delete(&models.SpaceRecord{}, "uri = ?", target).Error; err != nil {
				return err
			}
			if err := deleteIndexTx(tx, target); err != nil {
				return err
			}
		}
		for _, rec := range w.Records {
			if err := insertTx(tx, rec, now); err != nil {
				return err
			}
			if err := indexTx(tx, rec, w.Action, w.Rev, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetTakedown flips the moderation marker and evicts the cid-keyed
// cache entry: the cid is unchanged by a takedown, so a stale cached
// copy would otherwise keep serving the hidden record until its TTL.
func (r *SpaceStore) SetTakedown(ctx context.Context, uri string, status domain.StatusAttr) error {
	cid, err := r.GetCurrentCID(ctx, uri)
	if err != nil {
		return err
	}

	var ref any
	if status.Applied {
		if status.Ref != "" {
			ref = status.Ref
		} else {
			ref = time.Now().UTC().Format(time.RFC3339)
		}
	}
	err = r.db.WithContext(ctx).Model(&models.SpaceRecord{}).
		Where("uri = ?", uri).
		Update("takedown_ref", ref).Error
	if err != nil {
		return err
	}
	r.cache.Delete(cid)
	return nil
}

// insertTx upserts the primary row: an existing uri is overwritten in
// place (same logical record, new cid), never duplicated.
func insertTx(tx *gorm.DB, rec domain.PreparedRecord, now time.Time) error {
	raw, err := json.Marshal(rec.Value)
	if err != nil {
		return err
	}
	row := models.SpaceRecord{
		URI:        rec.URI,
		Space:      rec.Space,
		Collection: rec.Collection,
		RKey:       rec.RKey,
		CID:        rec.CID,
		Record:     string(raw),
		IndexedAt:  now,
		DID:        rec.DID,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "uri"}},
		DoUpdates: clause.Assignments(map[string]any{
			"cid":        row.CID,
			"record":     row.Record,
			"indexed_at": row.IndexedAt,
		}),
	}).Create(&row).Error
}

// indexTx maintains the version row and the backlink set. On update the
// prior backlinks are dropped first so a changed subject never leaves a
// stale edge behind.
func indexTx(tx *gorm.DB, rec domain.PreparedRecord, action domain.WriteAction, rev string, now time.Time) error {
	parsed, err := spacehost.ParseAtURI(rec.URI)
	if err != nil {
		return domain.MalformedURIError{URI: rec.URI, Reason: err.Error()}
	}
	if !strings.HasPrefix(parsed.Authority, "did:") {
		return domain.MalformedURIError{URI: rec.URI, Reason: "authority is not a did"}
	}
	if parsed.Collection == "" {
		return domain.MalformedURIError{URI: rec.URI, Reason: "empty collection"}
	}
	if parsed.RecordKey == "" {
		return domain.MalformedURIError{URI: rec.URI, Reason: "empty record key"}
	}

	version := models.RecordVersion{
		URI:        rec.URI,
		CID:        rec.CID,
		Collection: parsed.Collection,
		RKey:       parsed.RecordKey,
		RepoRev:    rev,
		IndexedAt:  now,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "uri"}},
		DoUpdates: clause.Assignments(map[string]any{
			"cid":        version.CID,
			"repo_rev":   version.RepoRev,
			"indexed_at": version.IndexedAt,
		}),
	}).Create(&version).Error
	if err != nil {
		return err
	}

	if rec.Value == nil {
		return nil
	}
	if action == domain.ActionUpdate {
		if err := tx.Delete(&models.Backlink{}, "uri = ?", rec.URI).Error; err != nil {
			return err
		}
	}
	return addBacklinksTx(tx, domain.ExtractBacklinks(rec.URI, rec.Value))
}

func deleteIndexTx(tx *gorm.DB, uri string) error {
	if err := tx.Delete(&models.RecordVersion{}, "uri = ?", uri).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Backlink{}, "uri = ?", uri).Error
}

func addBacklinksTx(tx *gorm.DB, links []domain.Backlink) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([]models.Backlink, 0, len(links))
	for _, link := range links {
		rows = append(rows, models.Backlink{URI: link.URI, Path: link.Path, LinkTo: link.LinkTo})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func toDomain(row models.SpaceRecord) (*domain.Record, error) {
	var value map[string]any
	if row.Record != "" {
		if err := json.Unmarshal([]byte(row.Record), &value); err != nil {
			return nil, err
		}
	}
	return &domain.Record{
		URI:         row.URI,
		Space:       row.Space,
		Collection:  row.Collection,
		RKey:        row.RKey,
		CID:         row.CID,
		Value:       value,
		IndexedAt:   row.IndexedAt,
		DID:         row.DID,
		TakedownRef: row.TakedownRef,
	}, nil
}
