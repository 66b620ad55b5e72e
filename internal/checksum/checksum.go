// Package checksum provides content digests used for change detection and cache keys.
package checksum

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumParts digests several byte strings with length prefixes, so that
// ("ab", "c") and ("a", "bc") never collide.
func SumParts(parts ...[]byte) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
