package spacehost

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AtURI addresses a single record: at://<authority>/<collection>/<rkey>.
// The authority is always a DID once a write has been preflighted.
type AtURI struct {
	Authority  string
	Collection string
	RecordKey  string
}

func MakeAtURI(authority, collection, rkey string) AtURI {
	return AtURI{
		Authority:  authority,
		Collection: collection,
		RecordKey:  rkey,
	}
}

func (u AtURI) String() string {
	return "at://" + u.Authority + "/" + u.Collection + "/" + u.RecordKey
}

func ParseAtURI(s string) (AtURI, error) {
	rest, ok := strings.CutPrefix(s, "at://")
	if !ok {
		return AtURI{}, fmt.Errorf("unsupported uri scheme: %s", s)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return AtURI{}, fmt.Errorf("invalid uri: %s", s)
	}
	u := AtURI{Authority: parts[0], Collection: parts[1], RecordKey: parts[2]}
	if u.Authority == "" || u.Collection == "" || u.RecordKey == "" {
		return AtURI{}, fmt.Errorf("invalid uri: %s", s)
	}
	return u, nil
}

// IsDID reports whether s looks like a resolved decentralized identifier,
// e.g. did:plc:ewvi7nxzyoun6zhxrhs64oiz.
func IsDID(s string) bool {
	if !strings.HasPrefix(s, "did:") {
		return false
	}
	parts := strings.SplitN(s, ":", 3)
	return len(parts) == 3 && parts[1] != "" && parts[2] != ""
}

// IsHandle reports whether s looks like a hostname-style handle.
func IsHandle(s string) bool {
	if IsDID(s) || len(s) < 3 || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !isAlphaNum(c) && c != '-' {
				return false
			}
		}
	}
	return true
}

// ValidateNSID checks a collection tag like com.atproto.space.group.
func ValidateNSID(s string) error {
	segments := strings.Split(s, ".")
	if len(segments) < 3 {
		return fmt.Errorf("nsid needs at least three segments: %s", s)
	}
	for _, seg := range segments {
		if seg == "" || len(seg) > 63 {
			return fmt.Errorf("invalid nsid segment in %s", s)
		}
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			if !isAlphaNum(c) && c != '-' {
				return fmt.Errorf("invalid nsid segment in %s", s)
			}
		}
	}
	return nil
}

// ValidateRecordKey checks record-key syntax: 1-512 chars drawn from
// [A-Za-z0-9._~:-], and not the reserved "." or "..".
func ValidateRecordKey(s string) error {
	if len(s) == 0 || len(s) > 512 {
		return fmt.Errorf("record key must be 1-512 characters")
	}
	if s == "." || s == ".." {
		return fmt.Errorf("record key cannot be %q", s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlphaNum(c) || c == '.' || c == '_' || c == '~' || c == ':' || c == '-' {
			continue
		}
		return fmt.Errorf("record key contains invalid character %q", c)
	}
	return nil
}

// GenerateRecordKey returns a fresh collision-resistant short key for
// writes that did not supply one.
func GenerateRecordKey() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
