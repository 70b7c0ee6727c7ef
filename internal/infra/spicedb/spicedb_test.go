package spicedb

import (
	"testing"

	v1 "github.com/authzed/authzed-go/proto/authzed/api/v1"

	"github.com/windholt/spacehost/internal/authz"
)

func TestBuildConsistencyModes(t *testing.T) {
	c, err := BuildConsistency(authz.MinimizeLatency())
	if err != nil {
		t.Fatalf("minimize latency failed: %v", err)
	}
	if _, ok := c.Requirement.(*v1.Consistency_MinimizeLatency); !ok {
		t.Fatalf("unexpected requirement: %T", c.Requirement)
	}

	c, err = BuildConsistency(authz.FullyConsistent())
	if err != nil {
		t.Fatalf("fully consistent failed: %v", err)
	}
	if _, ok := c.Requirement.(*v1.Consistency_FullyConsistent); !ok {
		t.Fatalf("unexpected requirement: %T", c.Requirement)
	}

	fresh, err := authz.AtLeastAsFresh("token123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err = BuildConsistency(fresh)
	if err != nil {
		t.Fatalf("at least as fresh failed: %v", err)
	}
	req, ok := c.Requirement.(*v1.Consistency_AtLeastAsFresh)
	if !ok {
		t.Fatalf("unexpected requirement: %T", c.Requirement)
	}
	if req.AtLeastAsFresh.Token != "token123" {
		t.Fatalf("token lost: %+v", req)
	}
}

func TestBuildConsistencyRequiresToken(t *testing.T) {
	if _, err := BuildConsistency(authz.Consistency{}); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestBuildCheckRequest(t *testing.T) {
	fresh, _ := authz.AtLeastAsFresh("zed1")
	req, err := BuildCheckRequest(authz.CheckRequest{
		Subject:     authz.Subject{Ref: authz.Account("did:plc:alice")},
		Permission:  "record_create",
		Resource:    authz.Container(authz.KindSpace, "did:plc:alice", "photos"),
		Consistency: fresh,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if req.Permission != "record_create" {
		t.Fatalf("unexpected permission: %s", req.Permission)
	}
	if req.Resource.ObjectType != "space" {
		t.Fatalf("unexpected resource type: %s", req.Resource.ObjectType)
	}
	if req.Subject.Object.ObjectType != "acct" {
		t.Fatalf("unexpected subject type: %s", req.Subject.Object.ObjectType)
	}
	// Object ids must stay within the service's id alphabet.
	if req.Subject.Object.ObjectId != "did=3aplc=3aalice" {
		t.Fatalf("unexpected subject id: %s", req.Subject.Object.ObjectId)
	}
}

func TestBuildRelationshipUpdate(t *testing.T) {
	update, err := BuildRelationshipUpdate(
		v1.RelationshipUpdate_OPERATION_TOUCH,
		authz.Container(authz.KindSpace, "did:plc:alice", "photos"),
		"parent",
		authz.Subject{Ref: authz.Container(authz.KindSpace, "did:plc:alice", "root")},
	)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if update.Operation != v1.RelationshipUpdate_OPERATION_TOUCH {
		t.Fatalf("unexpected operation: %v", update.Operation)
	}
	if update.Relationship.Relation != "parent" {
		t.Fatalf("unexpected relation: %s", update.Relationship.Relation)
	}

	_, err = BuildRelationshipUpdate(
		v1.RelationshipUpdate_OPERATION_TOUCH,
		authz.Container(authz.KindSpace, "did:plc:alice", "photos"),
		"",
		authz.Subject{Ref: authz.Account("did:plc:alice")},
	)
	if err == nil {
		t.Fatalf("expected error for missing relation")
	}

	_, err = BuildRelationshipUpdate(
		v1.RelationshipUpdate_OPERATION_TOUCH,
		authz.Ref{Kind: "nope", Segments: []string{"x"}},
		"parent",
		authz.Subject{Ref: authz.Account("did:plc:alice")},
	)
	if err == nil {
		t.Fatalf("expected error for invalid resource kind")
	}
}
