package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"

	"github.com/windholt/spacehost/internal/authz"
	"github.com/windholt/spacehost/internal/domain"
)

var reconcileTracer = otel.Tracer("reconcile")

const (
	dequeueTimeout = 5 * time.Second

	// maxReconcileRounds bounds requeues per op. Past it the divergence
	// is logged for operator attention and the op is dropped.
	maxReconcileRounds = 5
)

// OpQueue is the reconcile queue as the worker sees it.
type OpQueue interface {
	Enqueue(ctx context.Context, op domain.RelationshipOp) error
	Dequeue(ctx context.Context, timeout time.Duration) (*domain.RelationshipOp, error)
}

// GraphWriter is the slice of the authorization engine the worker
// needs to replay parked edges.
type GraphWriter interface {
	TouchRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error)
	DeleteRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error)
}

// ReconcileService drains parked authorization-graph mutations and
// replays them until the graph converges with the record store.
type ReconcileService struct {
	queue  OpQueue
	engine GraphWriter
	policy func() backoff.BackOff
}

func NewReconcileService(queue OpQueue, engine GraphWriter) *ReconcileService {
	return &ReconcileService{
		queue:  queue,
		engine: engine,
		policy: newRetryPolicy,
	}
}

// Run blocks draining the queue until ctx is cancelled.
func (s *ReconcileService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		op, err := s.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(
				ctx, "failed to dequeue relationship op",
				slog.String("error", err.Error()),
				slog.String("module", "reconcile"),
			)
			time.Sleep(dequeueTimeout)
			continue
		}
		if op == nil {
			continue
		}

		s.Process(ctx, *op)
	}
}

// Process replays one op with exponential backoff, then either drops
// it (applied), requeues it, or abandons it past the round bound.
func (s *ReconcileService) Process(ctx context.Context, op domain.RelationshipOp) {
	ctx, span := reconcileTracer.Start(ctx, "ReconcileService.Process")
	defer span.End()

	resource, err := authz.ParseRef(op.Resource)
	if err != nil {
		span.RecordError(err)
		s.dropMalformed(ctx, op, err)
		return
	}
	subject, err := authz.ParseSubject(op.Subject)
	if err != nil {
		span.RecordError(err)
		s.dropMalformed(ctx, op, err)
		return
	}

	// Touch and delete are both idempotent, so a crash after a
	// successful write is repaired by the next replay.
	err = backoff.Retry(func() error {
		var applyErr error
		if op.Delete {
			_, applyErr = s.engine.DeleteRelationship(ctx, resource, op.Relation, subject)
		} else {
			_, applyErr = s.engine.TouchRelationship(ctx, resource, op.Relation, subject)
		}
		return applyErr
	}, backoff.WithContext(s.policy(), ctx))
	if err == nil {
		slog.InfoContext(
			ctx, "reconciled relationship op",
			slog.String("uri", op.URI),
			slog.String("resource", op.Resource),
			slog.String("module", "reconcile"),
		)
		return
	}
	span.RecordError(err)

	op.Attempts++
	if op.Attempts >= maxReconcileRounds {
		slog.ErrorContext(
			ctx, "abandoning relationship op, graph divergence requires manual repair",
			slog.String("uri", op.URI),
			slog.String("resource", op.Resource),
			slog.String("subject", op.Subject),
			slog.String("error", err.Error()),
			slog.String("module", "reconcile"),
		)
		return
	}

	if err := s.queue.Enqueue(ctx, op); err != nil {
		slog.ErrorContext(
			ctx, "failed to requeue relationship op",
			slog.String("uri", op.URI),
			slog.String("error", err.Error()),
			slog.String("module", "reconcile"),
		)
	}
}

// dropMalformed discards an op that can never apply.
func (s *ReconcileService) dropMalformed(ctx context.Context, op domain.RelationshipOp, err error) {
	slog.ErrorContext(
		ctx, "dropping unapplicable relationship op",
		slog.String("uri", op.URI),
		slog.String("resource", op.Resource),
		slog.String("error", err.Error()),
		slog.String("module", "reconcile"),
	)
}

func newRetryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 30 * time.Second
	return policy
}
