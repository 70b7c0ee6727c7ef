package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	spacehost "github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/authz"
	"github.com/windholt/spacehost/internal/domain"
)

var writerTracer = otel.Tracer("writer")

// WriteRequest is one incoming mutation before preflight. Repo may be a
// handle; RKey may be empty on create; ExpectedCID, when set, makes the
// write a compare-and-swap against the current head.
type WriteRequest struct {
	Action      domain.WriteAction
	ActorDID    string
	Repo        string
	Space       string
	Collection  string
	RKey        string
	Value       map[string]any
	ExpectedCID string
	Consistency authz.Consistency
}

// WriteResult reports where in the protocol the operation finished. A
// partial write (record committed, graph mutation queued) carries an
// empty Zookie and a nil error alongside StateAuthzWriteFailed.
type WriteResult struct {
	State  domain.WriteState
	URI    string
	CID    string
	Zookie string
}

// DualWriteCoordinator drives one mutation through the dual-write
// protocol: preflight, permission check, record-store transaction, then
// the authorization-graph edge. The record store is the source of truth
// and is never rolled back once committed; a failed graph write parks
// the edge on the reconcile queue instead.
type DualWriteCoordinator struct {
	resolver *IdentityResolver
	gate     *PermissionGate
	store    SpaceStore
	engine   AuthzEngine
	queue    ReconcileQueue
	events   EventPublisher
}

func NewDualWriteCoordinator(
	resolver *IdentityResolver,
	gate *PermissionGate,
	store SpaceStore,
	engine AuthzEngine,
	queue ReconcileQueue,
	events EventPublisher,
) *DualWriteCoordinator {
	return &DualWriteCoordinator{
		resolver: resolver,
		gate:     gate,
		store:    store,
		engine:   engine,
		queue:    queue,
		events:   events,
	}
}

// ResolveAndCheck runs preflight and the permission check without
// mutating anything. Read paths use it to gate record access with the
// same semantics the write path enforces.
func (c *DualWriteCoordinator) ResolveAndCheck(ctx context.Context, in ResolveInput, permission string, consistency authz.Consistency) (domain.ResolutionContext, authz.Kind, error) {
	rc, err := c.resolver.Resolve(ctx, in)
	if err != nil {
		return domain.ResolutionContext{}, "", err
	}
	kind, err := c.gate.Check(ctx, rc, permission, consistency)
	if err != nil {
		return domain.ResolutionContext{}, "", err
	}
	return rc, kind, nil
}

// Write executes one mutation end to end and reports the terminal
// protocol state. Errors before the record-store commit leave the store
// untouched; after the commit, authorization-graph failures degrade to
// partial success rather than surfacing as errors.
func (c *DualWriteCoordinator) Write(ctx context.Context, in WriteRequest) (WriteResult, error) {
	ctx, span := writerTracer.Start(ctx, "DualWriteCoordinator.Write")
	defer span.End()
	span.SetAttributes(
		attribute.String("action", in.Action.String()),
		attribute.String("collection", in.Collection),
	)

	rc, err := c.resolver.Resolve(ctx, ResolveInput{
		ActorDID:   in.ActorDID,
		Repo:       in.Repo,
		Space:      in.Space,
		Collection: in.Collection,
		RKey:       in.RKey,
	})
	if err != nil {
		span.RecordError(err)
		return WriteResult{State: domain.StatePreflightFailed}, err
	}

	parentKind, err := c.gate.Check(ctx, rc, permissionFor(in.Action, rc.Collection), in.Consistency)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrDenied) {
			return WriteResult{State: domain.StateDenied}, err
		}
		return WriteResult{State: domain.StatePreflightFailed}, err
	}

	prepared, edge, primary, err := c.prepare(ctx, rc, in, parentKind)
	if err != nil {
		span.RecordError(err)
		return WriteResult{State: domain.StatePermissionChecked}, err
	}

	if err := c.store.ApplyWrite(ctx, prepared); err != nil {
		err = domain.RecordWriteFailedError{Err: err}
		span.RecordError(err)
		return WriteResult{State: domain.StateRecordWriteFailed}, err
	}

	result := WriteResult{
		State: domain.StateRecordCommitted,
		URI:   primary.URI,
		CID:   primary.CID,
	}

	// The record is committed; the graph edge must land regardless of
	// whether the caller is still waiting.
	authzCtx := context.WithoutCancel(ctx)
	zookie, err := c.writeEdge(authzCtx, edge)
	if err != nil {
		span.RecordError(err)
		c.parkEdge(authzCtx, edge, primary.URI)
		result.State = domain.StateAuthzWriteFailed
		c.publish(authzCtx, in.Action, rc, primary)
		return result, nil
	}

	result.State = domain.StateAuthzCommitted
	result.Zookie = zookie
	c.publish(authzCtx, in.Action, rc, primary)
	return result, nil
}

type graphEdge struct {
	Resource authz.Ref
	Relation string
	Subject  authz.Subject
	Delete   bool
}

// prepare computes the full record-store mutation and its graph edge in
// memory. Nothing here touches a row; every failure exits before any
// side effect.
func (c *DualWriteCoordinator) prepare(ctx context.Context, rc domain.ResolutionContext, in WriteRequest, parentKind authz.Kind) (domain.PreparedWrite, graphEdge, domain.PreparedRecord, error) {
	uri := spacehost.MakeAtURI(rc.OwnerDID, rc.Collection, rc.RKey).String()
	parent := authz.Subject{Ref: authz.Container(parentKind, rc.OwnerDID, rc.Space)}

	if in.Action == domain.ActionDelete {
		current, err := c.store.GetRecord(ctx, uri, "", false)
		if err != nil {
			return domain.PreparedWrite{}, graphEdge{}, domain.PreparedRecord{}, err
		}
		if in.ExpectedCID != "" && in.ExpectedCID != current.CID {
			return domain.PreparedWrite{}, graphEdge{}, domain.PreparedRecord{}, domain.OptimisticConflictError{
				URI: uri, Expected: in.ExpectedCID, Actual: current.CID,
			}
		}
		edge := graphEdge{
			Resource: resourceRef(rc, current.Value),
			Relation: domain.ParentRelation,
			Subject:  parent,
			Delete:   true,
		}
		deleteURIs := []string{uri}
		if isContainerCollection(rc.Collection) {
			// The container's companion relation record goes with it.
			companions, err := c.relationRecordsFor(ctx, rc.Space, edge.Resource)
			if err != nil {
				return domain.PreparedWrite{}, graphEdge{}, domain.PreparedRecord{}, err
			}
			deleteURIs = append(deleteURIs, companions...)
		}
		prepared := domain.PreparedWrite{
			Action:     domain.ActionDelete,
			DeleteURIs: deleteURIs,
			Rev:        spacehost.NewRev(),
		}
		primary := domain.PreparedRecord{
			URI:        uri,
			Space:      rc.Space,
			Collection: rc.Collection,
			RKey:       rc.RKey,
			CID:        current.CID,
		}
		return prepared, edge, primary, nil
	}

	if in.Action == domain.ActionUpdate {
		currentCID, err := c.store.GetCurrentCID(ctx, uri)
		if err != nil {
			return domain.PreparedWrite{}, graphEdge{}, domain.PreparedRecord{}, err
		}
		if in.ExpectedCID != "" && in.ExpectedCID != currentCID {
			return domain.PreparedWrite{}, graphEdge{}, domain.PreparedRecord{}, domain.OptimisticConflictError{
				URI: uri, Expected: in.ExpectedCID, Actual: currentCID,
			}
		}
	}

	cid, err := spacehost.ComputeCID(in.Value)
	if err != nil {
		return domain.PreparedWrite{}, graphEdge{}, domain.PreparedRecord{}, err
	}
	primary := domain.PreparedRecord{
		URI:        uri,
		Space:      rc.Space,
		Collection: rc.Collection,
		RKey:       rc.RKey,
		CID:        cid,
		Value:      in.Value,
		DID:        rc.OwnerDID,
	}
	prepared := domain.PreparedWrite{
		Action:  in.Action,
		Records: []domain.PreparedRecord{primary},
		Rev:     spacehost.NewRev(),
	}

	if in.Action == domain.ActionCreate {
		// Duplicate relationship records (same subject already linked
		// from this container) are replaced, not stacked.
		conflicts, err := c.store.FindConflicts(ctx, uri, in.Value)
		if err != nil {
			return domain.PreparedWrite{}, graphEdge{}, domain.PreparedRecord{}, err
		}
		prepared.DeleteURIs = conflicts
	}

	edge := graphEdge{
		Resource: resourceRef(rc, in.Value),
		Relation: domain.ParentRelation,
		Subject:  parent,
	}

	if in.Action == domain.ActionCreate && isContainerCollection(rc.Collection) {
		// A new container also materializes its parent edge as a
		// queryable relation record, committed in the same transaction.
		relRKey := spacehost.GenerateRecordKey()
		relValue := map[string]any{
			"$type":     domain.CollectionRelation,
			"resource":  edge.Resource.String(),
			"relation":  edge.Relation,
			"subject":   edge.Subject.String(),
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		}
		relCID, err := spacehost.ComputeCID(relValue)
		if err != nil {
			return domain.PreparedWrite{}, graphEdge{}, domain.PreparedRecord{}, err
		}
		prepared.Records = append(prepared.Records, domain.PreparedRecord{
			URI:        spacehost.MakeAtURI(rc.OwnerDID, domain.CollectionRelation, relRKey).String(),
			Space:      rc.Space,
			Collection: domain.CollectionRelation,
			RKey:       relRKey,
			CID:        relCID,
			Value:      relValue,
			DID:        rc.OwnerDID,
		})
	}

	return prepared, edge, primary, nil
}

// relationRecordsFor finds the relation records in a space whose
// resource field names the given graph object.
func (c *DualWriteCoordinator) relationRecordsFor(ctx context.Context, space string, resource authz.Ref) ([]string, error) {
	records, err := c.store.ListRecords(ctx, domain.ListQuery{
		Space:      space,
		Collection: domain.CollectionRelation,
	})
	if err != nil {
		return nil, err
	}
	target := resource.String()
	var uris []string
	for _, rec := range records {
		if rec.Value["resource"] == target {
			uris = append(uris, rec.URI)
		}
	}
	return uris, nil
}

func (c *DualWriteCoordinator) writeEdge(ctx context.Context, edge graphEdge) (string, error) {
	if edge.Delete {
		return c.engine.DeleteRelationship(ctx, edge.Resource, edge.Relation, edge.Subject)
	}
	return c.engine.TouchRelationship(ctx, edge.Resource, edge.Relation, edge.Subject)
}

// parkEdge records the unapplied graph mutation for asynchronous
// repair. Exactly one op is enqueued per partial write.
func (c *DualWriteCoordinator) parkEdge(ctx context.Context, edge graphEdge, uri string) {
	op := domain.RelationshipOp{
		Resource:   edge.Resource.String(),
		Relation:   edge.Relation,
		Subject:    edge.Subject.String(),
		Delete:     edge.Delete,
		URI:        uri,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := c.queue.Enqueue(ctx, op); err != nil {
		// Both the graph write and the queue are down. The divergence
		// is now only visible here.
		slog.ErrorContext(
			ctx, "failed to enqueue relationship op, graph divergence is unrecorded",
			slog.String("uri", uri),
			slog.String("resource", op.Resource),
			slog.String("error", err.Error()),
			slog.String("module", "writer"),
		)
	}
}

func (c *DualWriteCoordinator) publish(ctx context.Context, action domain.WriteAction, rc domain.ResolutionContext, primary domain.PreparedRecord) {
	if c.events == nil {
		return
	}
	event := spacehost.Event{
		Action:     action.String(),
		URI:        primary.URI,
		CID:        primary.CID,
		Space:      rc.Space,
		Collection: rc.Collection,
		Timestamp:  time.Now().UTC(),
	}
	if err := c.events.Publish(ctx, event); err != nil {
		slog.ErrorContext(
			ctx, "failed to publish commit event",
			slog.String("uri", primary.URI),
			slog.String("error", err.Error()),
			slog.String("module", "writer"),
		)
	}
}

// resourceRef picks the graph object for the written record. Containers
// get their own object kinds; everything else is a plain record nested
// under its container path.
func resourceRef(rc domain.ResolutionContext, value map[string]any) authz.Ref {
	switch rc.Collection {
	case domain.CollectionSpace:
		kind := authz.KindSpace
		if bubble, ok := value["bubble"].(bool); ok && bubble {
			kind = authz.KindBubble
		}
		return authz.Container(kind, rc.OwnerDID, rc.RKey)
	case domain.CollectionGroup:
		return authz.Nested(authz.KindGroup, rc.OwnerDID, rc.Space, rc.Collection, rc.RKey)
	default:
		return authz.Record(rc.OwnerDID, rc.Space, rc.Collection, rc.RKey)
	}
}

func isContainerCollection(collection string) bool {
	return collection == domain.CollectionSpace || collection == domain.CollectionGroup
}

// permissionFor maps an action on a collection to the permission the
// actor must hold on the enclosing container.
func permissionFor(action domain.WriteAction, collection string) string {
	switch action {
	case domain.ActionUpdate:
		return domain.PermissionRecordUpdate
	case domain.ActionDelete:
		return domain.PermissionRecordDelete
	}
	switch collection {
	case domain.CollectionSpace:
		return domain.PermissionSpaceCreate
	case domain.CollectionGroup:
		return domain.PermissionGroupCreate
	default:
		return domain.PermissionRecordCreate
	}
}
