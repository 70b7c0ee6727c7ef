package usecase

import (
	"context"
	spacehost "github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/authz"
	"github.com/windholt/spacehost/internal/domain"
)

// SpaceReader is the read side of the record store.
type SpaceReader interface {
	GetRecord(ctx context.Context, uri, cid string, includeSoftDeleted bool) (*domain.Record, error)
	GetSpaceProfile(ctx context.Context, ownerDID, space string) (*domain.Record, error)
	ListRecords(ctx context.Context, q domain.ListQuery) ([]domain.Record, error)
	ListAll(ctx context.Context) ([]domain.RecordDescript, error)
	ListSpaces(ctx context.Context, space string) ([]string, error)
	ListGroups(ctx context.Context, space string) ([]string, error)
	ListCollections(ctx context.Context, space string) ([]string, error)
	RecordCount(ctx context.Context) (int64, error)
	GetTakedownStatus(ctx context.Context, uri string) (*domain.StatusAttr, error)
	GetCurrentCID(ctx context.Context, uri string) (string, error)
	FindConflicts(ctx context.Context, uri string, value map[string]any) ([]string, error)
}

// SpaceStore extends SpaceReader with the transactional write side.
type SpaceStore interface {
	SpaceReader
	ApplyWrite(ctx context.Context, w domain.PreparedWrite) error
	SetTakedown(ctx context.Context, uri string, status domain.StatusAttr) error
}

// AuthzEngine is the check/write relationship protocol of the external
// authorization service.
type AuthzEngine interface {
	Check(ctx context.Context, req authz.CheckRequest) (bool, error)
	TouchRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error)
	DeleteRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error)
}

// ReconcileQueue accepts pending authorization-graph mutations for
// asynchronous repair.
type ReconcileQueue interface {
	Enqueue(ctx context.Context, op domain.RelationshipOp) error
}

// HandleDirectory resolves human-facing handles to DIDs.
type HandleDirectory interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

// EventPublisher fans out commit events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event spacehost.Event) error
}
