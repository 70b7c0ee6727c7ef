package domain

import (
	"time"
)

// Record is a domain-level view of one row in the space store.
type Record struct {
	URI         string         `json:"uri"`
	Space       string         `json:"space"`
	Collection  string         `json:"collection"`
	RKey        string         `json:"rkey"`
	CID         string         `json:"cid"`
	Value       map[string]any `json:"value"`
	IndexedAt   time.Time      `json:"indexedAt"`
	DID         string         `json:"did"`
	TakedownRef *string        `json:"takedownRef,omitempty"`
}

// RecordDescript is the light row shape returned by full enumerations.
type RecordDescript struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Backlink is one extracted outward reference owned by a record.
type Backlink struct {
	URI    string `json:"uri"`
	Path   string `json:"path"`
	LinkTo string `json:"linkTo"`
}

// StatusAttr mirrors the moderation takedown marker on a record.
type StatusAttr struct {
	Applied bool   `json:"applied"`
	Ref     string `json:"ref,omitempty"`
}

// ListQuery selects a page of records within one container.
type ListQuery struct {
	Owner      string
	Space      string
	Collection string
	Limit      int
	Reverse    bool

	// Cursor pages by strict rkey comparison and wins over the legacy
	// inclusive range below when both are set.
	Cursor    string
	RKeyStart string
	RKeyEnd   string

	IncludeSoftDeleted bool
}

// WriteAction tags the logical operation of a dual write.
type WriteAction int

const (
	ActionCreate WriteAction = iota + 1
	ActionUpdate
	ActionDelete
)

func (a WriteAction) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// WriteState is the dual-write state machine position an operation
// finished in.
type WriteState int

const (
	StateNone WriteState = iota
	StatePreflighted
	StatePermissionChecked
	StateRecordCommitted
	StateAuthzCommitted

	StatePreflightFailed
	StateDenied
	StateRecordWriteFailed
	StateAuthzWriteFailed // partial success, reconciliation enqueued
)

// PreparedRecord is one fully-computed record mutation, ready to commit.
type PreparedRecord struct {
	URI        string
	Space      string
	Collection string
	RKey       string
	CID        string
	Value      map[string]any
	DID        string
}

// PreparedWrite is the complete record-store side of a dual write.
// Everything here is computed in memory before any row is touched.
type PreparedWrite struct {
	Action  WriteAction
	Records []PreparedRecord

	// DeleteURIs are removed in the same transaction: the target of a
	// delete op, plus any backlink-duplicate records being deduped.
	DeleteURIs []string

	Rev string
}

// ResolutionContext carries the canonical identifiers produced by
// preflight, threaded immutably through the protocol stages.
type ResolutionContext struct {
	ActorDID   string
	OwnerDID   string
	Space      string
	Collection string
	RKey       string
}

// RelationshipOp describes one pending authorization-graph mutation,
// serialized onto the reconcile queue after a partial write.
type RelationshipOp struct {
	Resource   string    `json:"resource"`
	Relation   string    `json:"relation"`
	Subject    string    `json:"subject"`
	Delete     bool      `json:"delete,omitempty"`
	URI        string    `json:"uri"`
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// Attempts counts completed reconcile rounds. The worker abandons
	// the op once the bound is reached.
	Attempts int `json:"attempts,omitempty"`
}
