package engine

import (
	"encoding/hex"
	"hash"
	"io"

	sha256 "github.com/minio/sha256-simd"
)

// hashingReader computes the SHA-256 of everything read through it.
type hashingReader struct {
	r io.Reader
	h hash.Hash
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: sha256.New()}
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the hex digest of the bytes read so far.
func (hr *hashingReader) Sum() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}
