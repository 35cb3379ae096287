package store

import (
	"crypto/rand"
	"encoding/hex"
)

// newToken returns numBytes of random data, hex-encoded. Seat and socket
// tokens use 16 bytes, i.e. 128 bits of entropy (spec.md §3.1 invariant);
// session ids use 6 bytes. It follows the teacher's
// crypto/rand.Read + hex.EncodeToString id-generation idiom.
func newToken(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func newSessionID() string  { return newToken(6) }
func newSeatToken() string  { return newToken(16) }
func newSocketToken() string { return newToken(16) }
