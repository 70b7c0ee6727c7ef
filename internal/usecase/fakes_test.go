package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	spacehost "github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/authz"
	"github.com/windholt/spacehost/internal/domain"
)

// fakeStore is an in-memory SpaceStore mirroring the sql-backed
// pagination and upsert semantics.
type fakeStore struct {
	records  map[string]domain.Record
	applyErr error
	writes   []domain.PreparedWrite
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]domain.Record{}}
}

func (s *fakeStore) put(rec domain.Record) {
	s.records[rec.URI] = rec
}

func (s *fakeStore) GetRecord(ctx context.Context, uri, cid string, includeSoftDeleted bool) (*domain.Record, error) {
	rec, ok := s.records[uri]
	if !ok {
		return nil, domain.NotFoundError{Resource: "record"}
	}
	if !includeSoftDeleted && rec.TakedownRef != nil {
		return nil, domain.NotFoundError{Resource: "record"}
	}
	if cid != "" && rec.CID != cid {
		return nil, domain.NotFoundError{Resource: "record"}
	}
	copied := rec
	return &copied, nil
}

func (s *fakeStore) GetSpaceProfile(ctx context.Context, ownerDID, space string) (*domain.Record, error) {
	uri := spacehost.MakeAtURI(ownerDID, domain.CollectionSpace, space).String()
	return s.GetRecord(ctx, uri, "", false)
}

func (s *fakeStore) ListRecords(ctx context.Context, q domain.ListQuery) ([]domain.Record, error) {
	var matched []domain.Record
	for _, rec := range s.records {
		if rec.Space != q.Space || rec.Collection != q.Collection {
			continue
		}
		if q.Owner != "" && !strings.HasPrefix(rec.URI, "at://"+q.Owner+"/") {
			continue
		}
		if !q.IncludeSoftDeleted && rec.TakedownRef != nil {
			continue
		}
		if q.Cursor != "" {
			if q.Reverse && rec.RKey <= q.Cursor {
				continue
			}
			if !q.Reverse && rec.RKey >= q.Cursor {
				continue
			}
		} else {
			if q.RKeyStart != "" && rec.RKey <= q.RKeyStart {
				continue
			}
			if q.RKeyEnd != "" && rec.RKey >= q.RKeyEnd {
				continue
			}
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if q.Reverse {
			return matched[i].RKey < matched[j].RKey
		}
		return matched[i].RKey > matched[j].RKey
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *fakeStore) ListAll(ctx context.Context) ([]domain.RecordDescript, error) {
	var all []domain.RecordDescript
	for _, rec := range s.records {
		all = append(all, domain.RecordDescript{URI: rec.URI, CID: rec.CID})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].URI < all[j].URI })
	return all, nil
}

func (s *fakeStore) ListSpaces(ctx context.Context, space string) ([]string, error) {
	return s.listByCollection(space, domain.CollectionSpace), nil
}

func (s *fakeStore) ListGroups(ctx context.Context, space string) ([]string, error) {
	return s.listByCollection(space, domain.CollectionGroup), nil
}

func (s *fakeStore) listByCollection(space, collection string) []string {
	var uris []string
	for _, rec := range s.records {
		if rec.Space == space && rec.Collection == collection {
			uris = append(uris, rec.URI)
		}
	}
	sort.Strings(uris)
	return uris
}

func (s *fakeStore) ListCollections(ctx context.Context, space string) ([]string, error) {
	seen := map[string]bool{}
	var collections []string
	for _, rec := range s.records {
		if rec.Space == space && !seen[rec.Collection] {
			seen[rec.Collection] = true
			collections = append(collections, rec.Collection)
		}
	}
	sort.Strings(collections)
	return collections, nil
}

func (s *fakeStore) RecordCount(ctx context.Context) (int64, error) {
	return int64(len(s.records)), nil
}

func (s *fakeStore) GetTakedownStatus(ctx context.Context, uri string) (*domain.StatusAttr, error) {
	rec, ok := s.records[uri]
	if !ok {
		return nil, domain.NotFoundError{Resource: "record"}
	}
	if rec.TakedownRef == nil {
		return &domain.StatusAttr{Applied: false}, nil
	}
	return &domain.StatusAttr{Applied: true, Ref: *rec.TakedownRef}, nil
}

func (s *fakeStore) GetCurrentCID(ctx context.Context, uri string) (string, error) {
	rec, ok := s.records[uri]
	if !ok {
		return "", domain.NotFoundError{Resource: "record"}
	}
	return rec.CID, nil
}

func (s *fakeStore) FindConflicts(ctx context.Context, uri string, value map[string]any) ([]string, error) {
	parsed, err := spacehost.ParseAtURI(uri)
	if err != nil {
		return nil, err
	}
	links := domain.ExtractBacklinks(uri, value)
	var conflicts []string
	for _, rec := range s.records {
		if rec.Collection != parsed.Collection || rec.URI == uri {
			continue
		}
		for _, existing := range domain.ExtractBacklinks(rec.URI, rec.Value) {
			for _, link := range links {
				if existing.Path == link.Path && existing.LinkTo == link.LinkTo {
					conflicts = append(conflicts, rec.URI)
				}
			}
		}
	}
	sort.Strings(conflicts)
	return conflicts, nil
}

func (s *fakeStore) ApplyWrite(ctx context.Context, w domain.PreparedWrite) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.writes = append(s.writes, w)
	for _, target := range w.DeleteURIs {
		delete(s.records, target)
	}
	for _, rec := range w.Records {
		s.records[rec.URI] = domain.Record{
			URI:        rec.URI,
			Space:      rec.Space,
			Collection: rec.Collection,
			RKey:       rec.RKey,
			CID:        rec.CID,
			Value:      rec.Value,
			IndexedAt:  time.Now().UTC(),
			DID:        rec.DID,
		}
	}
	return nil
}

func (s *fakeStore) SetTakedown(ctx context.Context, uri string, status domain.StatusAttr) error {
	rec, ok := s.records[uri]
	if !ok {
		return domain.NotFoundError{Resource: "record"}
	}
	if status.Applied {
		ref := status.Ref
		if ref == "" {
			ref = time.Now().UTC().Format(time.RFC3339)
		}
		rec.TakedownRef = &ref
	} else {
		rec.TakedownRef = nil
	}
	s.records[uri] = rec
	return nil
}

type edgeCall struct {
	resource string
	relation string
	subject  string
}

// fakeEngine scripts the authorization service: check answers, write
// failures, and a recorded call log.
type fakeEngine struct {
	allow      bool
	checkErr   error
	checkCalls int
	lastCheck  authz.CheckRequest

	writeErr error
	zookie   string
	touches  []edgeCall
	deletes  []edgeCall
}

func (e *fakeEngine) Check(ctx context.Context, req authz.CheckRequest) (bool, error) {
	e.checkCalls++
	e.lastCheck = req
	if e.checkErr != nil {
		return false, e.checkErr
	}
	return e.allow, nil
}

func (e *fakeEngine) TouchRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error) {
	if e.writeErr != nil {
		return "", e.writeErr
	}
	e.touches = append(e.touches, edgeCall{resource.String(), relation, subject.String()})
	return e.zookie, nil
}

func (e *fakeEngine) DeleteRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error) {
	if e.writeErr != nil {
		return "", e.writeErr
	}
	e.deletes = append(e.deletes, edgeCall{resource.String(), relation, subject.String()})
	return e.zookie, nil
}

type fakeQueue struct {
	ops        []domain.RelationshipOp
	enqueueErr error
}

func (q *fakeQueue) Enqueue(ctx context.Context, op domain.RelationshipOp) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.ops = append(q.ops, op)
	return nil
}

type fakeDirectory struct {
	dids  map[string]string
	err   error
	calls int
}

func (d *fakeDirectory) ResolveHandle(ctx context.Context, handle string) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	did, ok := d.dids[handle]
	if !ok {
		return "", fmt.Errorf("unknown handle %s", handle)
	}
	return did, nil
}

type fakePublisher struct {
	events []spacehost.Event
}

func (p *fakePublisher) Publish(ctx context.Context, event spacehost.Event) error {
	p.events = append(p.events, event)
	return nil
}

// putContainer seeds the container record for a space under its owner.
func putContainer(s *fakeStore, ownerDID, space string, bubble bool) {
	value := map[string]any{"$type": domain.CollectionSpace}
	if bubble {
		value["bubble"] = true
	}
	uri := spacehost.MakeAtURI(ownerDID, domain.CollectionSpace, space).String()
	s.put(domain.Record{
		URI:        uri,
		Space:      domain.RootSpace,
		Collection: domain.CollectionSpace,
		RKey:       space,
		CID:        "zxcontainer",
		Value:      value,
		DID:        ownerDID,
	})
}

func newTestCoordinator(store *fakeStore, engine *fakeEngine, queue *fakeQueue, pub *fakePublisher, dir *fakeDirectory) *DualWriteCoordinator {
	if dir == nil {
		dir = &fakeDirectory{dids: map[string]string{}}
	}
	resolver := NewIdentityResolver(dir)
	gate := NewPermissionGate(store, engine)
	return NewDualWriteCoordinator(resolver, gate, store, engine, queue, pub)
}
