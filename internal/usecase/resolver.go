package usecase

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	spacehost "github.com/windholt/spacehost"
	"github.com/windholt/spacehost/internal/domain"
)

var resolverTracer = otel.Tracer("resolver")

// ResolveInput is the raw reference material of an incoming write: the
// authenticated actor, a repo reference that may still be a handle, the
// enclosing container, and an optional record key.
type ResolveInput struct {
	ActorDID   string
	Repo       string
	Space      string
	Collection string
	RKey       string
}

// IdentityResolver preflights a write into canonical identifiers. It
// performs no permission checks and touches no store; its only lookup
// is handle resolution through the directory, cached with a TTL.
type IdentityResolver struct {
	directory HandleDirectory
	handles   *gocache.Cache
}

func NewIdentityResolver(directory HandleDirectory) *IdentityResolver {
	return &IdentityResolver{
		directory: directory,
		handles:   gocache.New(10*time.Minute, 15*time.Minute),
	}
}

func (r *IdentityResolver) Resolve(ctx context.Context, in ResolveInput) (domain.ResolutionContext, error) {
	ctx, span := resolverTracer.Start(ctx, "IdentityResolver.Resolve")
	defer span.End()

	if !spacehost.IsDID(in.ActorDID) {
		err := domain.InvalidIdentifierError{Ref: in.ActorDID}
		span.RecordError(err)
		return domain.ResolutionContext{}, err
	}

	ownerDID, err := r.resolveRepo(ctx, in.Repo)
	if err != nil {
		span.RecordError(err)
		return domain.ResolutionContext{}, err
	}

	space := in.Space
	if space == "" {
		space = domain.RootSpace
	}
	if err := spacehost.ValidateRecordKey(space); err != nil {
		err := domain.InvalidIdentifierError{Ref: in.Space}
		span.RecordError(err)
		return domain.ResolutionContext{}, err
	}

	if err := spacehost.ValidateNSID(in.Collection); err != nil {
		err := domain.InvalidIdentifierError{Ref: in.Collection}
		span.RecordError(err)
		return domain.ResolutionContext{}, err
	}

	rkey := in.RKey
	if rkey == "" {
		rkey = spacehost.GenerateRecordKey()
	} else if err := spacehost.ValidateRecordKey(rkey); err != nil {
		err := domain.InvalidRecordKeyError{Key: rkey, Reason: err.Error()}
		span.RecordError(err)
		return domain.ResolutionContext{}, err
	}

	return domain.ResolutionContext{
		ActorDID:   in.ActorDID,
		OwnerDID:   ownerDID,
		Space:      space,
		Collection: in.Collection,
		RKey:       rkey,
	}, nil
}

func (r *IdentityResolver) resolveRepo(ctx context.Context, repo string) (string, error) {
	if spacehost.IsDID(repo) {
		return repo, nil
	}
	if !spacehost.IsHandle(repo) {
		return "", domain.InvalidIdentifierError{Ref: repo}
	}

	if cached, ok := r.handles.Get(repo); ok {
		return cached.(string), nil
	}
	did, err := r.directory.ResolveHandle(ctx, repo)
	if err != nil {
		return "", errors.Wrap(domain.InvalidIdentifierError{Ref: repo}, err.Error())
	}
	if !spacehost.IsDID(did) {
		return "", domain.InvalidIdentifierError{Ref: repo}
	}
	r.handles.SetDefault(repo, did)
	return did, nil
}
