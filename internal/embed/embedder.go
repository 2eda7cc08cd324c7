// Package embed computes and ranks deep-embedding vectors for card images.
// The embedding model is a foreign dependency hidden behind the Embedder
// interface so ranking logic stays testable with deterministic stubs.
package embed

import (
	"errors"
	"image"
)

// ErrUnavailable is returned when no embedding model is configured or the
// model failed to load. The matcher degrades to hash-only results.
var ErrUnavailable = errors.New("embed: model unavailable")

// Embedder turns a normalized card image into a fixed-length vector.
// Implementations must be safe for concurrent use or document otherwise.
type Embedder interface {
	// Embed returns the L2-normalized embedding of img.
	Embed(img image.Image) ([]float32, error)

	// Dim returns the model's output dimensionality.
	Dim() int
}
