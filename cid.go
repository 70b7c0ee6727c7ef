package spacehost

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
)

// ComputeCID returns the content hash for a record body. Bodies are
// map-shaped, so encoding/json gives a canonical (key-sorted) byte form.
func ComputeCID(value map[string]any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return ComputeCIDBytes(raw), nil
}

// ComputeCIDBytes hashes an already-serialized body.
func ComputeCIDBytes(raw []byte) string {
	sum := xxh3.Hash128(raw)
	return fmt.Sprintf("zx%016x%016x", sum.Hi, sum.Lo)
}

var revCounter atomic.Uint64

// NewRev returns a monotonic revision marker for the version table.
// Lexicographic order follows wall-clock order; the counter breaks ties
// within one process.
func NewRev() string {
	return fmt.Sprintf("%013x%04x", time.Now().UnixMicro(), revCounter.Add(1)&0xffff)
}
