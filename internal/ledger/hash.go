package ledger

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/sha3"
)

// ContentHash is the 0x-prefixed Keccak-256 of v's JSON encoding. Struct
// fields encode in declaration order, so equal values hash equally.
func ContentHash(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return Keccak256Hex(payload), nil
}

func Keccak256Hex(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
