package preprocess

import (
	"image"
	"math"
	"sort"

	"card-scanner/pkg/geometry"

	"gocv.io/x/gocv"
)

// Polygon-approximation tolerances tried in order, as fractions of the
// contour perimeter. Scans with soft shadows need the looser values.
var approxEpsilons = [...]float64{0.01, 0.02, 0.04, 0.06}

// detectCardQuad searches the grayscale scan for a card-shaped
// quadrilateral. It tries Canny edges, an adaptive threshold, and an Otsu
// threshold in turn and keeps the largest plausible quad across all three.
func detectCardQuad(gray gocv.Mat, imgW, imgH int) (geometry.Quad, bool) {
	var best geometry.Quad
	var bestArea float64
	found := false

	collect := func(binary gocv.Mat) {
		for _, cand := range quadCandidates(binary, imgW, imgH) {
			if cand.area > bestArea {
				bestArea = cand.area
				best = cand.quad
				found = true
			}
		}
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{3, 3})
	defer kernel.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{5, 5}, 0, 0, gocv.BorderDefault)

	// Method 1: Canny edges.
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 30, 120)
	gocv.Dilate(edges, &edges, kernel)
	collect(edges)

	// Method 2: adaptive threshold, inverted so the card body is foreground.
	blurred7 := gocv.NewMat()
	defer blurred7.Close()
	gocv.GaussianBlur(gray, &blurred7, image.Point{7, 7}, 0, 0, gocv.BorderDefault)
	adaptive := gocv.NewMat()
	defer adaptive.Close()
	gocv.AdaptiveThreshold(blurred7, &adaptive, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 11, 2)
	gocv.BitwiseNot(adaptive, &adaptive)
	gocv.Dilate(adaptive, &adaptive, kernel)
	gocv.Dilate(adaptive, &adaptive, kernel)
	collect(adaptive)

	// Method 3: Otsu threshold, inverted.
	otsu := gocv.NewMat()
	defer otsu.Close()
	gocv.Threshold(blurred, &otsu, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
	gocv.BitwiseNot(otsu, &otsu)
	gocv.Dilate(otsu, &otsu, kernel)
	collect(otsu)

	return best, found
}

type quadCandidate struct {
	area float64
	quad geometry.Quad
}

// quadCandidates extracts card-shaped quads from a binary edge image,
// checking the ten largest external contours.
func quadCandidates(binary gocv.Mat, imgW, imgH int) []quadCandidate {
	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type ref struct {
		idx  int
		area float64
	}
	refs := make([]ref, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		refs = append(refs, ref{idx: i, area: gocv.ContourArea(contours.At(i))})
	}
	sort.Slice(refs, func(a, b int) bool { return refs[a].area > refs[b].area })
	if len(refs) > 10 {
		refs = refs[:10]
	}

	var out []quadCandidate
	for _, r := range refs {
		contour := contours.At(r.idx)
		peri := gocv.ArcLength(contour, true)
		for _, eps := range approxEpsilons {
			approx := gocv.ApproxPolyDP(contour, eps*peri, true)
			if approx.Size() != 4 {
				approx.Close()
				continue
			}
			var pts [4]geometry.Point2D
			for j := 0; j < 4; j++ {
				p := approx.At(j)
				pts[j] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
			}
			approx.Close()
			quad := geometry.OrderQuad(pts)
			if cardShaped(quad, imgW, imgH) {
				out = append(out, quadCandidate{area: r.area, quad: quad})
			}
			// Once the contour approximates to four points, looser
			// tolerances would only find the same quad again.
			break
		}
	}
	return out
}

// cardShaped reports whether the quad plausibly outlines a card: the aspect
// ratio is within 30% of the standard card ratio in either orientation, and
// the quad covers at least 5% of the scan.
func cardShaped(q geometry.Quad, imgW, imgH int) bool {
	w := q.Width()
	h := q.Height()
	if w < 20 || h < 20 {
		return false
	}

	aspect := h / w
	invAspect := 1.0 / cardAspect
	portrait := math.Abs(aspect-cardAspect)/cardAspect < 0.30
	landscape := math.Abs(aspect-invAspect)/invAspect < 0.30
	if !portrait && !landscape {
		return false
	}

	imgArea := float64(imgW * imgH)
	return imgArea > 0 && q.Area()/imgArea >= 0.05
}
