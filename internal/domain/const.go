package domain

// Collections with first-class semantics in the write path.
const (
	CollectionSpace    = "com.atproto.space.space"
	CollectionGroup    = "com.atproto.space.group"
	CollectionRelation = "com.atproto.space.relation"

	CollectionFollow = "app.bsky.graph.follow"
	CollectionBlock  = "app.bsky.graph.block"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
)

// Permission names checked against the authorization graph.
const (
	PermissionSpaceCreate  = "space_create"
	PermissionGroupCreate  = "group_create"
	PermissionRecordCreate = "record_create"
	PermissionRecordUpdate = "record_update"
	PermissionRecordDelete = "record_delete"
	PermissionRecordRead   = "record_read"
)

// ParentRelation is the containment edge mirrored into the authz graph.
const ParentRelation = "parent"

// RootSpace is the implicit top-level container every tenant owns.
const RootSpace = "root"

const (
	RequesterDIDCtxKey = "sh-requesterDid"
)

const (
	RequesterDIDHeader = "sh-requester-did"
)

// ListAllPageSize is the fixed page size for full enumerations.
const ListAllPageSize = 1000

// MaxListLimit caps caller-specified listing limits.
const MaxListLimit = 100
