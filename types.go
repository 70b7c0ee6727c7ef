package spacehost

import (
	"time"
)

// Event is published to the commit channel after a record-store commit.
type Event struct {
	Action     string    `json:"action"` // create, update, delete
	URI        string    `json:"uri"`
	CID        string    `json:"cid,omitempty"`
	Space      string    `json:"space"`
	Collection string    `json:"collection"`
	Timestamp  time.Time `json:"timestamp"`
}

type Endpoint struct {
	Template string    `json:"template"`
	Method   string    `json:"method"`
	Query    *[]string `json:"query,omitempty"`
}

type WellKnownSpacehost struct {
	Version   string              `json:"version"`
	Domain    string              `json:"domain"`
	Endpoints map[string]Endpoint `json:"endpoints"`
}
