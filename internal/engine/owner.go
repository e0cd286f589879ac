package engine

import (
	"github.com/google/uuid"
)

// OwnerGenerator produces worker identities for claims that arrive without
// one. Implemented by UUIDv7Owners (production) and
// testutil.SequentialOwners (tests).
type OwnerGenerator interface {
	Generate() string
}

// UUIDv7Owners generates time-sortable owner ids of the form
// "worker-<uuidv7>".
//
// UUIDv7 embeds a timestamp in the most significant bits, so owners sort by
// when they first claimed. This is helpful when reading show output.
//
// Thread-safety: UUIDv7Owners is stateless and safe for concurrent use.
type UUIDv7Owners struct{}

// Generate creates a new owner id.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Owners) Generate() string {
	return "worker-" + uuid.Must(uuid.NewV7()).String()
}
