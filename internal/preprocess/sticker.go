package preprocess

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// stickerRegion resolves the region to inpaint. A caller-supplied mask
// replaces automatic detection entirely: it is clamped to the card bounds
// and, if the clamp leaves nothing, no inpainting happens at all. The third
// return reports whether any region was found.
func (p *Preprocessor) stickerRegion(card gocv.Mat, mask *image.Rectangle) (image.Rectangle, bool, bool) {
	if mask != nil {
		bounds := image.Rect(0, 0, card.Cols(), card.Rows())
		clamped := mask.Intersect(bounds)
		return clamped, true, !clamped.Empty()
	}
	if p.sticker.AutoDetect {
		if rect, ok := p.detectSticker(card); ok {
			return rect, false, true
		}
	}
	return image.Rectangle{}, false, false
}

// detectSticker looks for a price sticker on the extracted card: a mostly
// solid rectangular region covering between 1% and the configured maximum
// fraction of card area, with low colour variance inside its bounding box.
// The variance ceiling is set high enough to catch white labels carrying
// printed text, which score well below colourful card art.
func (p *Preprocessor) detectSticker(card gocv.Mat) (image.Rectangle, bool) {
	cardArea := float64(card.Cols() * card.Rows())
	if cardArea == 0 {
		return image.Rectangle{}, false
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(card, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{5, 5}, 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 30, 100)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{3, 3})
	defer kernel.Close()
	gocv.Dilate(edges, &edges, kernel)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var best image.Rectangle
	var bestScore float64
	found := false

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < cardArea*0.01 || area > cardArea*p.sticker.MaxAreaFrac {
			continue
		}

		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, 0.04*peri, true)
		vertices := approx.Size()
		approx.Close()
		if vertices != 4 {
			continue
		}

		rect := gocv.BoundingRect(contour)
		boxArea := float64(rect.Dx() * rect.Dy())
		if boxArea == 0 {
			continue
		}
		fill := area / boxArea
		if fill < 0.70 {
			continue
		}

		std, ok := regionColorStd(card, rect)
		if !ok || std > p.sticker.MaxColorStd {
			continue
		}

		score := fill / (std + 1.0)
		if score > bestScore {
			bestScore = score
			best = rect
			found = true
		}
	}

	if !found {
		return image.Rectangle{}, false
	}
	bounds := image.Rect(0, 0, card.Cols(), card.Rows())
	return expandRect(best, bounds), true
}

// regionColorStd returns the mean per-channel standard deviation of the
// pixels inside rect. A solid sticker scores near zero, a white label with
// text somewhere around 60-90, and card art well above 100.
func regionColorStd(card gocv.Mat, rect image.Rectangle) (float64, bool) {
	roi := card.Region(rect)
	defer roi.Close()
	if roi.Empty() {
		return 0, false
	}

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(roi, &mean, &stddev)
	if stddev.Empty() || stddev.Rows() < 3 {
		return 0, false
	}

	sum := stddev.GetDoubleAt(0, 0) + stddev.GetDoubleAt(1, 0) + stddev.GetDoubleAt(2, 0)
	return sum / 3, true
}

// expandRect grows rect by a small margin so the sticker edges are fully
// covered, clamped to bounds.
func expandRect(rect, bounds image.Rectangle) image.Rectangle {
	margin := min(rect.Dx(), rect.Dy()) * 5 / 100
	if margin < 2 {
		margin = 2
	}
	return rect.Inset(-margin).Intersect(bounds)
}

// inpaint fills the sticker region in place using the Telea algorithm.
func (p *Preprocessor) inpaint(card *gocv.Mat, rect image.Rectangle) error {
	mask := gocv.NewMatWithSize(card.Rows(), card.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()
	gocv.Rectangle(&mask, rect, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	cleaned := gocv.NewMat()
	defer cleaned.Close()
	gocv.Inpaint(*card, mask, &cleaned, float32(p.sticker.InpaintRadius), gocv.Telea)
	if cleaned.Empty() {
		return fmt.Errorf("inpaint produced empty image")
	}
	cleaned.CopyTo(card)
	return nil
}
