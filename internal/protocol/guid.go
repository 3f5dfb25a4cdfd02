// Package protocol implements the fixed binary wire protocol exchanged
// between a client and the relay: the 20-octet packet header, the per-tag
// body layouts, and the framing codec used by the stream and datagram
// connections.
package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// GUID is the 128-bit opaque player identifier carried in every packet
// header. It renders as grouped lowercase hex (8-4-4-4-12), matching the
// original server's Display impl byte-for-byte.
type GUID = uuid.UUID

// Zero is the reserved all-zero GUID meaning "server-originated". It is
// never stored as a player in the lobby (invariant 3, §3).
var Zero GUID

// ParseGUID parses a grouped-hex or bare-hex GUID string. Separators are
// stripped before parsing, so "aaaa-bbbb-..." and "aaaabbbb..." both work.
func ParseGUID(s string) (GUID, error) {
	return uuid.Parse(strings.ReplaceAll(s, "-", ""))
}

// NewGUID returns a fresh random GUID, used when the relay itself must mint
// an identifier (e.g. a synthetic test client).
func NewGUID() GUID {
	return uuid.New()
}
