package engine

import (
	"github.com/google/uuid"
)

// IDGenerator names dispatched node instances. The node name is passed so
// deterministic generators can embed it.
type IDGenerator interface {
	Generate(nodeName string) string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids. The node name is
// ignored.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate(string) string {
	return uuid.Must(uuid.NewV7()).String()
}
