// Package authz holds the typed vocabulary shared between the permission
// gate and the authorization-service client: object kinds, references,
// and consistency requirements. References render as "kind:seg/seg/..."
// strings on the wire and parse back losslessly.
package authz

import (
	"fmt"
	"strings"
)

// Kind enumerates the object kinds known to the authorization schema.
type Kind string

const (
	KindAccount Kind = "acct"
	KindSpace   Kind = "space"
	KindBubble  Kind = "bubble"
	KindGroup   Kind = "group"
	KindRecord  Kind = "record"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAccount, KindSpace, KindBubble, KindGroup, KindRecord:
		return true
	}
	return false
}

// Ref is a typed reference to one object in the authorization graph.
// Segments compose hierarchically (owner, container, ...) so permission
// scopes nest with containment.
type Ref struct {
	Kind     Kind
	Segments []string
}

// ObjectID renders the path portion, with each segment encoded.
func (r Ref) ObjectID() string {
	encoded := make([]string, len(r.Segments))
	for i, seg := range r.Segments {
		encoded[i] = EncodeID(seg)
	}
	return strings.Join(encoded, "/")
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ObjectID()
}

func (r Ref) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown object kind %q", r.Kind)
	}
	if len(r.Segments) == 0 {
		return fmt.Errorf("reference has no path segments")
	}
	for _, seg := range r.Segments {
		if seg == "" {
			return fmt.Errorf("reference has an empty path segment")
		}
	}
	return nil
}

// Account references one authenticated account by DID.
func Account(did string) Ref {
	return Ref{Kind: KindAccount, Segments: []string{did}}
}

// Container references a space, bubble, or group under its owner.
func Container(kind Kind, ownerDID, name string) Ref {
	return Ref{Kind: kind, Segments: []string{ownerDID, name}}
}

// Record references a single record nested under its container.
func Record(ownerDID, space, collection, rkey string) Ref {
	return Ref{Kind: KindRecord, Segments: []string{ownerDID, space, collection, rkey}}
}

// Nested references a group (or other fully-qualified object) by its
// complete containment path.
func Nested(kind Kind, ownerDID, space, collection, rkey string) Ref {
	return Ref{Kind: kind, Segments: []string{ownerDID, space, collection, rkey}}
}

// Subject is a reference acting as the subject of a relationship or
// check, optionally narrowed to a relation ("kind:id#relation").
type Subject struct {
	Ref
	Relation string
}

func (s Subject) String() string {
	if s.Relation == "" {
		return s.Ref.String()
	}
	return s.Ref.String() + "#" + s.Relation
}

// ParseRef parses the wire form produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("reference %q has no kind", s)
	}
	segments := strings.Split(rest, "/")
	for i, seg := range segments {
		segments[i] = DecodeID(seg)
	}
	ref := Ref{Kind: Kind(kind), Segments: segments}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// ParseSubject parses the wire form produced by Subject.String.
func ParseSubject(s string) (Subject, error) {
	base, relation, _ := strings.Cut(s, "#")
	ref, err := ParseRef(base)
	if err != nil {
		return Subject{}, err
	}
	return Subject{Ref: ref, Relation: relation}, nil
}

// EncodeID maps a domain identifier onto the authorization service's id
// alphabet ([a-zA-Z0-9_-=] here). Any other byte becomes "=xx" (lower
// hex), '=' itself included, so the mapping is reversible for every
// legal DID, NSID, and record key.
func EncodeID(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isPlainIDByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "=%02x", c)
	}
	return b.String()
}

// DecodeID reverses EncodeID. Malformed escapes decode to themselves.
func DecodeID(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '=' && i+2 < len(s) {
			var decoded byte
			if _, err := fmt.Sscanf(s[i+1:i+3], "%02x", &decoded); err == nil {
				b.WriteByte(decoded)
				i += 2
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isPlainIDByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '_' || c == '-'
}
