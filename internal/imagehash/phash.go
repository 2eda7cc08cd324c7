package imagehash

import (
	"image"

	"gonum.org/v1/gonum/dsp/fourier"
)

// highFreqFactor sets how much larger the DCT input grid is than the hash
// grid; only the lowest-frequency size x size block contributes bits.
const highFreqFactor = 4

// PHash is the perceptual hash: a 2D DCT of a 4x-oversampled grayscale,
// keeping the top-left (low-frequency) block and thresholding each
// coefficient against the block median. The DC term is excluded from the
// median so a global brightness shift cannot flip half the bits.
func (h *Hasher) PHash(img image.Image) Fingerprint {
	grid := h.size * highFreqFactor
	px := grayPixels(img, grid, grid)

	coefs := dct2D(px, grid)

	// Low-frequency block, row-major.
	low := make([]float64, 0, h.size*h.size)
	for y := 0; y < h.size; y++ {
		for x := 0; x < h.size; x++ {
			low = append(low, coefs[y*grid+x])
		}
	}

	med := median(low[1:]) // exclude DC

	bits := make([]bool, len(low))
	for i, v := range low {
		bits[i] = v > med
	}
	return packBits(bits)
}

// dct2D applies a DCT-II to every row and then every column of a square
// row-major grid, in place on a copy.
func dct2D(px []float64, n int) []float64 {
	dct := fourier.NewDCT(n)

	out := make([]float64, len(px))
	row := make([]float64, n)
	col := make([]float64, n)
	colT := make([]float64, n)

	for y := 0; y < n; y++ {
		copy(row, px[y*n:(y+1)*n])
		dct.Transform(out[y*n:(y+1)*n], row)
	}
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = out[y*n+x]
		}
		dct.Transform(colT, col)
		for y := 0; y < n; y++ {
			out[y*n+x] = colT[y]
		}
	}
	return out
}
