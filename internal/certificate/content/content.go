// Package content stores certificate artifacts under their sha256 so the
// retrieval key is derived from the bytes themselves.
package content

import (
	"crypto/sha256"
	"encoding/hex"
)

// Object locates an uploaded artifact.
type Object struct {
	ContentHash string
	URI         string
}

// Hash is the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey is the storage key for an artifact with the given hash.
func ObjectKey(contentHash string) string {
	return "certificates/" + contentHash + ".png"
}
