package domain

import (
	spacehost "github.com/windholt/spacehost"
)

// ExtractBacklinks pulls relationship-shaped references out of a record
// body. Only a fixed set of single-subject collections is tracked:
// follows/blocks (subject is a DID), likes/reposts (subject.uri is an
// AT-URI), and space relation records (subject is an authz reference).
// Malformed or missing subjects yield no backlinks rather than an error.
//
// This is a stopgap until per-schema uniqueness constraints exist; it is
// only meant to keep duplicate follows, likes, and parent edges from
// racing into the store.
func ExtractBacklinks(uri string, value map[string]any) []Backlink {
	switch collectionOf(uri) {
	case CollectionFollow, CollectionBlock:
		subject, ok := value["subject"].(string)
		if !ok || !spacehost.IsDID(subject) {
			return nil
		}
		return []Backlink{{URI: uri, Path: "subject", LinkTo: subject}}

	case CollectionLike, CollectionRepost:
		subject, ok := value["subject"].(map[string]any)
		if !ok {
			return nil
		}
		ref, ok := subject["uri"].(string)
		if !ok {
			return nil
		}
		if _, err := spacehost.ParseAtURI(ref); err != nil {
			return nil
		}
		return []Backlink{{URI: uri, Path: "subject.uri", LinkTo: ref}}

	case CollectionRelation:
		subject, ok := value["subject"].(string)
		if !ok || subject == "" {
			return nil
		}
		return []Backlink{{URI: uri, Path: "subject", LinkTo: subject}}
	}
	return nil
}

func collectionOf(uri string) string {
	parsed, err := spacehost.ParseAtURI(uri)
	if err != nil {
		return ""
	}
	return parsed.Collection
}
