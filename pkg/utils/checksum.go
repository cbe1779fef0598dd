package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum returns the hex-encoded sha256 digest of the input.
// Used to fingerprint migration scripts so a changed script is detected
// before it is re-applied.
func Checksum(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
