package usecase

import (
	"context"

	"go.opentelemetry.io/otel"

	spacehost "github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/domain"
)

var readerTracer = otel.Tracer("reader")

const defaultListLimit = 50

// SpaceService is the read surface over the record store, plus the
// moderation takedown toggle. It adds limit clamping and cursor
// derivation on top of the raw store queries.
type SpaceService struct {
	store SpaceStore
}

func NewSpaceService(store SpaceStore) *SpaceService {
	return &SpaceService{store: store}
}

func (s *SpaceService) GetRecord(ctx context.Context, uri, cid string) (*domain.Record, error) {
	ctx, span := readerTracer.Start(ctx, "SpaceService.GetRecord")
	defer span.End()

	if _, err := spacehost.ParseAtURI(uri); err != nil {
		span.RecordError(err)
		return nil, domain.MalformedURIError{URI: uri, Reason: err.Error()}
	}
	record, err := s.store.GetRecord(ctx, uri, cid, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return record, nil
}

// ListRecords returns one page plus the cursor for the next. A full
// page yields the last record key as cursor; a short page means the
// listing is exhausted and the cursor is empty.
func (s *SpaceService) ListRecords(ctx context.Context, q domain.ListQuery) ([]domain.Record, string, error) {
	ctx, span := readerTracer.Start(ctx, "SpaceService.ListRecords")
	defer span.End()

	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > domain.MaxListLimit {
		q.Limit = domain.MaxListLimit
	}

	records, err := s.store.ListRecords(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}

	cursor := ""
	if len(records) == q.Limit {
		cursor = records[len(records)-1].RKey
	}
	return records, cursor, nil
}

func (s *SpaceService) ListAll(ctx context.Context) ([]domain.RecordDescript, error) {
	ctx, span := readerTracer.Start(ctx, "SpaceService.ListAll")
	defer span.End()
	return s.store.ListAll(ctx)
}

func (s *SpaceService) ListSpaces(ctx context.Context, space string) ([]string, error) {
	return s.store.ListSpaces(ctx, space)
}

func (s *SpaceService) ListGroups(ctx context.Context, space string) ([]string, error) {
	return s.store.ListGroups(ctx, space)
}

func (s *SpaceService) ListCollections(ctx context.Context, space string) ([]string, error) {
	return s.store.ListCollections(ctx, space)
}

func (s *SpaceService) RecordCount(ctx context.Context) (int64, error) {
	return s.store.RecordCount(ctx)
}

func (s *SpaceService) GetTakedownStatus(ctx context.Context, uri string) (*domain.StatusAttr, error) {
	return s.store.GetTakedownStatus(ctx, uri)
}

// SetTakedown flips the soft-delete marker without touching the row's
// content or its index entries.
func (s *SpaceService) SetTakedown(ctx context.Context, uri string, status domain.StatusAttr) error {
	ctx, span := readerTracer.Start(ctx, "SpaceService.SetTakedown")
	defer span.End()

	if _, err := spacehost.ParseAtURI(uri); err != nil {
		span.RecordError(err)
		return domain.MalformedURIError{URI: uri, Reason: err.Error()}
	}
	if err := s.store.SetTakedown(ctx, uri, status); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
