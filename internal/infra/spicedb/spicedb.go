// Package spicedb adapts the authorization service's check/write
// relationship protocol. Request construction is split into pure
// builders so the translation from typed references to wire objects can
// be exercised without a connection.
package spicedb

import (
	"context"
	"fmt"

	v1 "github.com/authzed/authzed-go/proto/authzed/api/v1"
	"github.com/authzed/authzed-go/v1"
	"github.com/authzed/grpcutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/windholt/spacehost/internal/authz"
)

type Client struct {
	client *authzed.Client
}

func New(endpoint, token string, plaintext bool) (*Client, error) {
	var opts []grpc.DialOption
	if plaintext {
		opts = append(opts,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpcutil.WithInsecureBearerToken(token),
		)
	} else {
		certs, err := grpcutil.WithSystemCerts(grpcutil.VerifyCA)
		if err != nil {
			return nil, err
		}
		bearer := grpcutil.WithBearerToken(token)
		opts = append(opts, certs, bearer)
	}

	client, err := authzed.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client}, nil
}

// Check runs one permission check. Only an explicit response decides;
// transport errors propagate for the caller's fail-closed handling.
func (c *Client) Check(ctx context.Context, req authz.CheckRequest) (bool, error) {
	wire, err := BuildCheckRequest(req)
	if err != nil {
		return false, err
	}
	resp, err := c.client.CheckPermission(ctx, wire)
	if err != nil {
		return false, err
	}
	return resp.Permissionship == v1.CheckPermissionResponse_PERMISSIONSHIP_HAS_PERMISSION, nil
}

// TouchRelationship idempotently upserts one edge and returns the fresh
// consistency token.
func (c *Client) TouchRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error) {
	return c.writeRelationship(ctx, v1.RelationshipUpdate_OPERATION_TOUCH, resource, relation, subject)
}

// WriteRelationship creates one edge, failing if it already exists.
func (c *Client) WriteRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error) {
	return c.writeRelationship(ctx, v1.RelationshipUpdate_OPERATION_CREATE, resource, relation, subject)
}

// DeleteRelationship removes one edge.
func (c *Client) DeleteRelationship(ctx context.Context, resource authz.Ref, relation string, subject authz.Subject) (string, error) {
	return c.writeRelationship(ctx, v1.RelationshipUpdate_OPERATION_DELETE, resource, relation, subject)
}

func (c *Client) writeRelationship(ctx context.Context, op v1.RelationshipUpdate_Operation, resource authz.Ref, relation string, subject authz.Subject) (string, error) {
	update, err := BuildRelationshipUpdate(op, resource, relation, subject)
	if err != nil {
		return "", err
	}
	resp, err := c.client.WriteRelationships(ctx, &v1.WriteRelationshipsRequest{
		Updates: []*v1.RelationshipUpdate{update},
	})
	if err != nil {
		return "", err
	}
	return resp.WrittenAt.GetToken(), nil
}

// BuildConsistency maps a consistency requirement to its wire object.
func BuildConsistency(c authz.Consistency) (*v1.Consistency, error) {
	switch c.Mode {
	case authz.ConsistencyMinimizeLatency:
		return &v1.Consistency{
			Requirement: &v1.Consistency_MinimizeLatency{MinimizeLatency: true},
		}, nil
	case authz.ConsistencyFull:
		return &v1.Consistency{
			Requirement: &v1.Consistency_FullyConsistent{FullyConsistent: true},
		}, nil
	default:
		if c.Token == "" {
			return nil, fmt.Errorf("consistency token is required and cannot be empty")
		}
		return &v1.Consistency{
			Requirement: &v1.Consistency_AtLeastAsFresh{
				AtLeastAsFresh: &v1.ZedToken{Token: c.Token},
			},
		}, nil
	}
}

func BuildObjectReference(r authz.Ref) (*v1.ObjectReference, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &v1.ObjectReference{
		ObjectType: string(r.Kind),
		ObjectId:   r.ObjectID(),
	}, nil
}

func BuildSubjectReference(s authz.Subject) (*v1.SubjectReference, error) {
	obj, err := BuildObjectReference(s.Ref)
	if err != nil {
		return nil, err
	}
	return &v1.SubjectReference{
		Object:           obj,
		OptionalRelation: s.Relation,
	}, nil
}

func BuildCheckRequest(req authz.CheckRequest) (*v1.CheckPermissionRequest, error) {
	resource, err := BuildObjectReference(req.Resource)
	if err != nil {
		return nil, err
	}
	subject, err := BuildSubjectReference(req.Subject)
	if err != nil {
		return nil, err
	}
	consistency, err := BuildConsistency(req.Consistency)
	if err != nil {
		return nil, err
	}
	return &v1.CheckPermissionRequest{
		Consistency: consistency,
		Resource:    resource,
		Permission:  req.Permission,
		Subject:     subject,
	}, nil
}

func BuildRelationshipUpdate(op v1.RelationshipUpdate_Operation, resource authz.Ref, relation string, subject authz.Subject) (*v1.RelationshipUpdate, error) {
	res, err := BuildObjectReference(resource)
	if err != nil {
		return nil, err
	}
	sub, err := BuildSubjectReference(subject)
	if err != nil {
		return nil, err
	}
	if relation == "" {
		return nil, fmt.Errorf("relation is required")
	}
	return &v1.RelationshipUpdate{
		Operation: op,
		Relationship: &v1.Relationship{
			Resource: res,
			Relation: relation,
			Subject:  sub,
		},
	}, nil
}
