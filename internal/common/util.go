package common

import (
	"crypto/rand"
	"fmt"
	"io"
)

// RandomSource is the secure random source used when none is injected.
var RandomSource io.Reader = rand.Reader

// ReadRandom returns size bytes read from r. A nil r falls back to RandomSource.
// Short reads are reported as errors rather than returning a partially filled buffer.
func ReadRandom(r io.Reader, size int) ([]byte, error) {
	if r == nil {
		r = RandomSource
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("random source: %w", err)
	}
	return b, nil
}

// WipeByteArray overwrites the contents of the provided byte slice with zeros.
// If the slice is nil, the function does nothing.
func WipeByteArray(b []byte) {
	if b == nil {
		return
	}
	for i := range b {
		b[i] = 0
	}
}
