package types

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// CalculateID derives a compact, stable storage key from a document id.
// Cache ids are URIs of arbitrary length; backends with key limits store
// the hash and keep the original id alongside.
func CalculateID(id string) string {
	hash := blake3.Sum256([]byte(id))
	return hex.EncodeToString(hash[:16])
}

