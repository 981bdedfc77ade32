package testutil

import (
	"encoding/hex"

	"github.com/minio/sha256-simd"
)

// SHA256Hex returns the SHA-256 of data as a lowercase hex string, the
// format used for content hashes throughout the engine.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
