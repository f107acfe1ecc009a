// Package isn generates the sender's random initial sequence number. The
// teacher module keeps this as an internal, non-importable subpackage
// (core/crypto/rand) that itself wraps crypto/rand; since that package
// cannot be imported across module boundaries, this package reproduces the
// same wrapper shape directly over the standard library.
package isn

import (
	"crypto/rand"
	"encoding/binary"
)

// Generate samples a uniformly random 32-bit initial sequence number from a
// cryptographically seeded source, precluding trivial off-path spoofing of
// the handshake.
func Generate() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
