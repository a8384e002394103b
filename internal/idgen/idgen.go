// Package idgen generates the short message identifiers carried in every
// JSON message header. Built on github.com/google/uuid, the same
// identifier source client/transport.go uses for its own session and
// request IDs, truncated to the protocol's 8-character form.
package idgen

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Len is the fixed length of a generated message ID.
const Len = 8

// New returns a fresh 8-character lowercase hex message ID, derived from
// the first 4 bytes of a random UUIDv4.
func New() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}
