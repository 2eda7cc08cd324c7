// Package pair groups an ordered scan batch into front/back pairs.
// Identification runs on the front image only; the back is carried along as
// metadata for export.
package pair

import (
	"errors"
	"fmt"
)

// ErrOddBatch reports a paired-mode batch with an odd number of scans.
var ErrOddBatch = errors.New("paired batch requires an even number of scans")

// ScanPair is one card: a front scan and, in paired mode, its back scan.
type ScanPair struct {
	Front string
	Back  string
}

// Group arranges paths into pairs by positional convention: first scan is a
// front, second is its back, repeating. With paired false every scan is its
// own front.
func Group(paths []string, paired bool) ([]ScanPair, error) {
	if !paired {
		pairs := make([]ScanPair, len(paths))
		for i, p := range paths {
			pairs[i] = ScanPair{Front: p}
		}
		return pairs, nil
	}

	if len(paths)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrOddBatch, len(paths))
	}

	pairs := make([]ScanPair, 0, len(paths)/2)
	for i := 0; i < len(paths); i += 2 {
		pairs = append(pairs, ScanPair{Front: paths[i], Back: paths[i+1]})
	}
	return pairs, nil
}
