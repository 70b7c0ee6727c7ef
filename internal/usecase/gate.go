package usecase

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/windholt/spacehost/internal/authz"
	"github.com/windholt/spacehost/internal/domain"
)

var gateTracer = otel.Tracer("gate")

// checkAttempts bounds fail-closed retries on transport errors during a
// permission check. An explicit denial is terminal on the first answer.
const checkAttempts = 3

// PermissionGate evaluates one permission against the authorization
// graph. It never mutates authorization state, and it answers deny for
// anything short of an explicit allow.
type PermissionGate struct {
	store  SpaceReader
	engine AuthzEngine
}

func NewPermissionGate(store SpaceReader, engine AuthzEngine) *PermissionGate {
	return &PermissionGate{store: store, engine: engine}
}

// Check resolves the target container's kind (a bubble is a space with
// restricted default visibility, and branches the access model), then
// asks the engine whether the actor holds the permission on it. The
// returned kind lets later stages compose references consistently.
func (g *PermissionGate) Check(ctx context.Context, rc domain.ResolutionContext, permission string, consistency authz.Consistency) (authz.Kind, error) {
	ctx, span := gateTracer.Start(ctx, "PermissionGate.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("permission", permission),
		attribute.String("space", rc.Space),
	)

	kind, err := g.containerKind(ctx, rc)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	req := authz.CheckRequest{
		Subject:     authz.Subject{Ref: authz.Account(rc.ActorDID)},
		Permission:  permission,
		Resource:    authz.Container(kind, rc.OwnerDID, rc.Space),
		Consistency: consistency,
	}

	var lastErr error
	for attempt := 0; attempt < checkAttempts; attempt++ {
		allowed, err := g.engine.Check(ctx, req)
		if err != nil {
			// Transport failure: unknown, not denied. Retry, then
			// fail closed.
			lastErr = err
			continue
		}
		if !allowed {
			return "", domain.DeniedError{Permission: permission}
		}
		return kind, nil
	}
	span.RecordError(pkgerrors.Wrap(lastErr, "permission check exhausted retries"))
	return "", domain.DeniedError{Permission: permission, Reason: "authorization service unreachable"}
}

// containerKind reads the current container record to distinguish a
// plain space from a bubble. A missing container is UnknownParent,
// surfaced before any check reaches the authorization service.
func (g *PermissionGate) containerKind(ctx context.Context, rc domain.ResolutionContext) (authz.Kind, error) {
	profile, err := g.store.GetSpaceProfile(ctx, rc.OwnerDID, rc.Space)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Every tenant implicitly owns its root container.
			if rc.Space == domain.RootSpace {
				return authz.KindSpace, nil
			}
			return "", domain.UnknownParentError{Space: rc.Space}
		}
		return "", err
	}
	if bubble, ok := profile.Value["bubble"].(bool); ok && bubble {
		return authz.KindBubble, nil
	}
	return authz.KindSpace, nil
}
