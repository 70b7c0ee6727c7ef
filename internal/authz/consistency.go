package authz

import "fmt"

// ConsistencyMode selects how fresh the authorization graph must be for
// a check.
type ConsistencyMode int

const (
	// ConsistencyAtLeastAsFresh bounds the check to a prior write's
	// causal horizon via its token.
	ConsistencyAtLeastAsFresh ConsistencyMode = iota
	// ConsistencyMinimizeLatency lets the service answer from any
	// replica.
	ConsistencyMinimizeLatency
	// ConsistencyFull forces a fully consistent read.
	ConsistencyFull
)

// Consistency is the causal-consistency requirement attached to a check.
type Consistency struct {
	Mode  ConsistencyMode
	Token string
}

func MinimizeLatency() Consistency {
	return Consistency{Mode: ConsistencyMinimizeLatency}
}

func FullyConsistent() Consistency {
	return Consistency{Mode: ConsistencyFull}
}

// AtLeastAsFresh binds a check to the given token. The token is
// required: callers without one must choose a mode explicitly.
func AtLeastAsFresh(token string) (Consistency, error) {
	if token == "" {
		return Consistency{}, fmt.Errorf("consistency token is required and cannot be empty")
	}
	return Consistency{Mode: ConsistencyAtLeastAsFresh, Token: token}, nil
}

// FromToken maps the wire-level token parameter onto a requirement,
// honoring the two reserved mode names.
func FromToken(token string) (Consistency, error) {
	switch token {
	case "minimizeLatency":
		return MinimizeLatency(), nil
	case "fullyConsistent":
		return FullyConsistent(), nil
	default:
		return AtLeastAsFresh(token)
	}
}

// CheckRequest is one permission check against the authorization graph.
type CheckRequest struct {
	Subject     Subject
	Permission  string
	Resource    Ref
	Consistency Consistency
}
