// Package preprocess extracts clean card images from raw scans.
//
// The hashing path runs the full card-detection pipeline: edge-based quad
// detection, a perspective warp when a plausible card boundary is found,
// and a centre-crop fallback when it is not. The embedding path only
// centre-crops, since the downstream network tolerates mild perspective
// variation better than a bad warp. Both paths share price-sticker
// compensation and CLAHE contrast normalization.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"card-scanner/internal/config"
	"card-scanner/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrUnreadable reports a scan file that could not be decoded.
var ErrUnreadable = errors.New("unreadable image")

// Standard card aspect ratio, height over width (88 mm / 63 mm).
const cardAspect = 88.0 / 63.0

// Result is a preprocessed scan.
type Result struct {
	// Hash is the extracted card at the configured hash dimensions.
	Hash image.Image
	// Embed is the centre-cropped square input for the embedding stage.
	Embed image.Image
	// QuadFound reports whether a card boundary was detected and warped,
	// as opposed to the centre-crop fallback.
	QuadFound bool
	// StickerRemoved reports whether a price sticker was inpainted.
	StickerRemoved bool
}

// Preprocessor turns scan files into card images.
type Preprocessor struct {
	hashWidth  int
	hashHeight int
	embedSize  int
	sticker    config.Sticker
	clahe      config.CLAHE
	log        *slog.Logger
}

// New builds a Preprocessor from configuration.
func New(cfg config.Config, log *slog.Logger) *Preprocessor {
	return &Preprocessor{
		hashWidth:  cfg.Hash.ImageWidth,
		hashHeight: cfg.Hash.ImageHeight,
		embedSize:  cfg.Embedding.InputSize,
		sticker:    cfg.Sticker,
		clahe:      cfg.CLAHE,
		log:        log,
	}
}

// Process reads the scan at path and extracts the card region.
func (p *Preprocessor) Process(path string) (*Result, error) {
	return p.process(path, nil)
}

// ProcessWithMask is Process with a caller-supplied sticker region instead of
// automatic detection. The mask is given in normalized card coordinates
// (hash width x hash height), is clamped to the card bounds, and is rescaled
// into the embedding crop so both stages see the same compensation. Automatic
// detection is disabled for the scan, even when the clamp leaves nothing.
func (p *Preprocessor) ProcessWithMask(path string, mask image.Rectangle) (*Result, error) {
	return p.process(path, &mask)
}

func (p *Preprocessor) process(path string, mask *image.Rectangle) (*Result, error) {
	src := gocv.IMRead(path, gocv.IMReadColor)
	if src.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrUnreadable, path)
	}
	defer src.Close()

	res := &Result{}

	card, quadFound := p.extractCard(src)
	defer card.Close()
	res.QuadFound = quadFound

	if region, manual, ok := p.stickerRegion(card, mask); ok {
		if err := p.inpaint(&card, region); err != nil {
			return nil, err
		}
		res.StickerRemoved = true
		p.log.Debug("inpainted sticker", "path", path, "region", region, "manual", manual)
	}
	if err := p.applyCLAHE(&card); err != nil {
		return nil, err
	}

	hashImg, err := card.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert card image: %w", err)
	}
	res.Hash = hashImg

	embed, err := p.embedCrop(src, mask)
	if err != nil {
		return nil, err
	}
	res.Embed = embed

	if !quadFound {
		p.log.Debug("no card boundary found, using centre crop", "path", path)
	}
	return res, nil
}

// extractCard returns the card region at hash dimensions. The boolean
// reports whether a detected quad was warped rather than falling back to
// the centre crop.
func (p *Preprocessor) extractCard(src gocv.Mat) (gocv.Mat, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	quad, found := detectCardQuad(gray, src.Cols(), src.Rows())
	if found {
		warped, ok := warpQuad(src, quad)
		if ok {
			defer warped.Close()
			card := gocv.NewMat()
			gocv.Resize(warped, &card, image.Point{p.hashWidth, p.hashHeight}, 0, 0, gocv.InterpolationArea)
			return card, true
		}
	}
	return centerCropToCard(src, p.hashWidth, p.hashHeight), false
}

// embedCrop prepares the embedding-stage input from the full scan. A manual
// sticker mask arrives in card coordinates and is rescaled into the crop.
func (p *Preprocessor) embedCrop(src gocv.Mat, mask *image.Rectangle) (image.Image, error) {
	crop := centerCropToCard(src, p.embedSize, p.embedSize)
	defer crop.Close()

	var cropMask *image.Rectangle
	if mask != nil {
		scaled := scaleRect(*mask, p.hashWidth, p.hashHeight, p.embedSize, p.embedSize)
		cropMask = &scaled
	}
	if region, _, ok := p.stickerRegion(crop, cropMask); ok {
		if err := p.inpaint(&crop, region); err != nil {
			return nil, err
		}
	}
	if err := p.applyCLAHE(&crop); err != nil {
		return nil, err
	}

	img, err := crop.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert embedding crop: %w", err)
	}
	return img, nil
}

// warpQuad applies a perspective warp that maps the quad onto an axis-aligned
// rectangle at its natural dimensions. Returns false for degenerate quads.
func warpQuad(src gocv.Mat, q geometry.Quad) (gocv.Mat, bool) {
	maxW := int(q.Width())
	maxH := int(q.Height())
	if maxW < 10 || maxH < 10 {
		return gocv.Mat{}, false
	}

	srcPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(q[0].X), Y: float32(q[0].Y)},
		{X: float32(q[1].X), Y: float32(q[1].Y)},
		{X: float32(q[2].X), Y: float32(q[2].Y)},
		{X: float32(q[3].X), Y: float32(q[3].Y)},
	})
	defer srcPts.Close()
	dstPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: float32(maxW - 1), Y: 0},
		{X: float32(maxW - 1), Y: float32(maxH - 1)},
		{X: 0, Y: float32(maxH - 1)},
	})
	defer dstPts.Close()

	m := gocv.GetPerspectiveTransform2f(srcPts, dstPts)
	defer m.Close()

	warped := gocv.NewMat()
	gocv.WarpPerspective(src, &warped, m, image.Point{maxW, maxH})
	return warped, true
}

// centerCropToCard crops src to card aspect ratio around the centre and
// resizes to outW x outH.
func centerCropToCard(src gocv.Mat, outW, outH int) gocv.Mat {
	rect := cropRectForAspect(src.Cols(), src.Rows())
	region := src.Region(rect)
	defer region.Close()

	out := gocv.NewMat()
	gocv.Resize(region, &out, image.Point{outW, outH}, 0, 0, gocv.InterpolationArea)
	return out
}

// scaleRect maps rect from a srcW x srcH frame into a dstW x dstH frame.
func scaleRect(rect image.Rectangle, srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 {
		return image.Rectangle{}
	}
	sx := float64(dstW) / float64(srcW)
	sy := float64(dstH) / float64(srcH)
	return image.Rect(
		int(float64(rect.Min.X)*sx),
		int(float64(rect.Min.Y)*sy),
		int(float64(rect.Max.X)*sx+0.5),
		int(float64(rect.Max.Y)*sy+0.5),
	)
}

// cropRectForAspect returns the centred crop of a w x h image that matches
// the card aspect ratio.
func cropRectForAspect(w, h int) image.Rectangle {
	if float64(h)/float64(w) > cardAspect {
		// Taller than a card: trim top and bottom.
		cropH := int(float64(w) * cardAspect)
		y0 := (h - cropH) / 2
		return image.Rect(0, y0, w, y0+cropH)
	}
	// Wider than a card: trim left and right.
	cropW := int(float64(h) / cardAspect)
	x0 := (w - cropW) / 2
	return image.Rect(x0, 0, x0+cropW, h)
}

// applyCLAHE equalizes local contrast on the L channel in LAB space, which
// steadies hashes of aged or yellowed cards without shifting hue.
func (p *Preprocessor) applyCLAHE(card *gocv.Mat) error {
	if !p.clahe.Enabled {
		return nil
	}

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(*card, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()
	if len(channels) != 3 {
		return fmt.Errorf("clahe: expected 3 LAB channels, got %d", len(channels))
	}

	clahe := gocv.NewCLAHEWithParams(p.clahe.ClipLimit, image.Point{p.clahe.TileSize, p.clahe.TileSize})
	defer clahe.Close()

	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(channels[0], &equalized)
	equalized.CopyTo(&channels[0])

	gocv.Merge(channels, &lab)
	gocv.CvtColor(lab, card, gocv.ColorLabToBGR)
	return nil
}

// CropArtZone returns the horizontal band of img between the top and bottom
// height fractions, used for the illustration-only fingerprint family.
func CropArtZone(img image.Image, top, bottom float64) image.Image {
	b := img.Bounds()
	h := b.Dy()
	y0 := b.Min.Y + int(float64(h)*top)
	y1 := b.Min.Y + int(float64(h)*bottom)
	if y1 <= y0 {
		return img
	}

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	zone := image.Rect(b.Min.X, y0, b.Max.X, y1)
	if si, ok := img.(subImager); ok {
		return si.SubImage(zone)
	}

	out := image.NewRGBA(image.Rect(0, 0, zone.Dx(), zone.Dy()))
	for y := zone.Min.Y; y < zone.Max.Y; y++ {
		for x := zone.Min.X; x < zone.Max.X; x++ {
			out.Set(x-zone.Min.X, y-zone.Min.Y, img.At(x, y))
		}
	}
	return out
}
