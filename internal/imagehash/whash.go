package imagehash

import (
	"image"
)

// WHash is the wavelet hash: a 2D Haar decomposition of a 4x-oversampled
// grayscale down to a size x size low-frequency band, with each band
// coefficient thresholded against the band median.
func (h *Hasher) WHash(img image.Image) Fingerprint {
	grid := h.size * highFreqFactor
	px := grayPixels(img, grid, grid)

	// Decompose until the LL band is size x size. With the 4x grid this is
	// exactly two levels.
	for band := grid; band > h.size; band /= 2 {
		haarStep(px, grid, band)
	}

	low := make([]float64, 0, h.size*h.size)
	for y := 0; y < h.size; y++ {
		for x := 0; x < h.size; x++ {
			low = append(low, px[y*grid+x])
		}
	}

	med := median(low)

	bits := make([]bool, len(low))
	for i, v := range low {
		bits[i] = v > med
	}
	return packBits(bits)
}

// haarStep performs one level of the 2D Haar transform on the band x band
// top-left region of a stride-wide row-major grid. Averages land in the
// first half of each axis, details in the second.
func haarStep(px []float64, stride, band int) {
	half := band / 2
	tmp := make([]float64, band)

	// Rows.
	for y := 0; y < band; y++ {
		row := px[y*stride : y*stride+band]
		for i := 0; i < half; i++ {
			a, b := row[2*i], row[2*i+1]
			tmp[i] = (a + b) / 2
			tmp[half+i] = (a - b) / 2
		}
		copy(row, tmp)
	}

	// Columns.
	for x := 0; x < band; x++ {
		for i := 0; i < half; i++ {
			a, b := px[(2*i)*stride+x], px[(2*i+1)*stride+x]
			tmp[i] = (a + b) / 2
			tmp[half+i] = (a - b) / 2
		}
		for y := 0; y < band; y++ {
			px[y*stride+x] = tmp[y]
		}
	}
}
