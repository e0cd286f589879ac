package testutil

import (
	"fmt"
	"sync"
)

// SequentialOwners generates owner ids "<prefix>-1", "<prefix>-2", ...
//
// Used where a worker id would otherwise be a random UUIDv7, so traces and
// golden files stay byte-identical across runs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialOwners struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialOwners creates a generator. If prefix is empty, "worker" is used.
func NewSequentialOwners(prefix string) *SequentialOwners {
	if prefix == "" {
		prefix = "worker"
	}
	return &SequentialOwners{prefix: prefix}
}

// Generate returns the next owner id.
//
// Implements engine.OwnerGenerator interface.
func (g *SequentialOwners) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
