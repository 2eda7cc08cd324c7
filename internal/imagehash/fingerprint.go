// Package imagehash computes perceptual-hash fingerprints of card images and
// ranks them by Hamming distance against a fixed reference index.
package imagehash

import (
	"encoding/hex"
	"fmt"
	"math/bits"
)

// Fingerprint is a fixed-width packed bit string, MSB first.
type Fingerprint []byte

// Bits returns the fingerprint width in bits.
func (f Fingerprint) Bits() int { return len(f) * 8 }

// Hamming returns the number of differing bits between two fingerprints.
func (f Fingerprint) Hamming(other Fingerprint) (int, error) {
	if len(f) != len(other) {
		return 0, fmt.Errorf("imagehash: fingerprint width mismatch: %d vs %d bits",
			f.Bits(), other.Bits())
	}
	dist := 0
	for i := range f {
		dist += bits.OnesCount8(f[i] ^ other[i])
	}
	return dist, nil
}

// Hex returns the fingerprint as a lowercase hex string.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f)
}

// FromHex parses a hex-encoded fingerprint.
func FromHex(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("imagehash: decode fingerprint: %w", err)
	}
	return Fingerprint(b), nil
}

// packBits packs a row-major bit slice MSB-first. The bit count must be a
// multiple of 8.
func packBits(in []bool) Fingerprint {
	out := make(Fingerprint, len(in)/8)
	for i, set := range in {
		if set {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return out
}
