package imagehash

import (
	"fmt"
	"image"
	"sort"

	"github.com/nfnt/resize"
)

// Algorithm kinds. The names double as storage keys in the reference store.
const (
	KindAHash = "ahash"
	KindDHash = "dhash"
	KindPHash = "phash"
	KindWHash = "whash"
)

// Kinds lists the full-card fingerprint kinds in canonical order.
var Kinds = []string{KindAHash, KindDHash, KindPHash, KindWHash}

// ArtKind maps a full-card kind to its art-zone counterpart.
func ArtKind(kind string) string { return kind + "_art" }

// Hasher computes the four perceptual-hash fingerprints at a fixed bit
// length. A Hasher with size n produces n*n-bit fingerprints; n must be a
// positive multiple of 8 so fingerprints pack evenly into bytes.
type Hasher struct {
	size int
}

// NewHasher returns a Hasher producing size*size-bit fingerprints.
func NewHasher(size int) (*Hasher, error) {
	if size <= 0 || size%8 != 0 {
		return nil, fmt.Errorf("imagehash: hash size must be a positive multiple of 8, got %d", size)
	}
	return &Hasher{size: size}, nil
}

// Size returns the configured bits per fingerprint side.
func (h *Hasher) Size() int { return h.size }

// FingerprintBytes returns the packed byte width of one fingerprint.
func (h *Hasher) FingerprintBytes() int { return h.size * h.size / 8 }

// All computes every algorithm's fingerprint for one image, keyed by kind.
func (h *Hasher) All(img image.Image) map[string]Fingerprint {
	return map[string]Fingerprint{
		KindAHash: h.AHash(img),
		KindDHash: h.DHash(img),
		KindPHash: h.PHash(img),
		KindWHash: h.WHash(img),
	}
}

// AHash is the average hash: each bit records whether the pixel exceeds the
// mean luminance of the downscaled image.
func (h *Hasher) AHash(img image.Image) Fingerprint {
	px := grayPixels(img, h.size, h.size)

	var sum float64
	for _, v := range px {
		sum += v
	}
	mean := sum / float64(len(px))

	bits := make([]bool, len(px))
	for i, v := range px {
		bits[i] = v > mean
	}
	return packBits(bits)
}

// DHash is the difference hash: each bit records the sign of the horizontal
// gradient between adjacent pixels.
func (h *Hasher) DHash(img image.Image) Fingerprint {
	w := h.size + 1
	px := grayPixels(img, w, h.size)

	bits := make([]bool, h.size*h.size)
	for y := 0; y < h.size; y++ {
		for x := 0; x < h.size; x++ {
			bits[y*h.size+x] = px[y*w+x+1] > px[y*w+x]
		}
	}
	return packBits(bits)
}

// grayPixels downscales img to w x h and returns row-major BT.601 luma
// values in [0,255].
func grayPixels(img image.Image, w, h int) []float64 {
	scaled := resize.Resize(uint(w), uint(h), img, resize.Bicubic)
	bounds := scaled.Bounds()

	px := make([]float64, w*h)
	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+h; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+w; x++ {
			r, g, b, _ := scaled.At(x, y).RGBA()
			// 16-bit channels scaled to 8-bit luma.
			px[i] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			i++
		}
	}
	return px
}

// median returns the median of values. The input slice is not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
