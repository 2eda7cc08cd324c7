// Package ocr reads the collector number printed near the bottom edge of a
// card. The reading is advisory: identification works without it, and a
// recognized "12/102" style number only annotates candidates whose catalog
// number agrees. It never changes their order.
package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"regexp"
	"strconv"
	"strings"

	"github.com/nfnt/resize"
	"github.com/otiai10/gosseract/v2"
)

// numberChars restricts recognition to collector-number glyphs. The slash
// separates the card number from the set total.
const numberChars = "0123456789/"

// bottomStripFrac is the fraction of card height scanned for the number.
const bottomStripFrac = 0.12

var numberPattern = regexp.MustCompile(`(\d{1,3})\s*/\s*(\d{1,3})`)

// CollectorNumber is a parsed card number such as 12/102.
type CollectorNumber struct {
	Number   int
	SetTotal int
}

func (n CollectorNumber) String() string {
	return fmt.Sprintf("%d/%d", n.Number, n.SetTotal)
}

// Engine wraps a Tesseract client configured for digit recognition.
type Engine struct {
	client *gosseract.Client
}

// NewEngine creates the OCR engine. Callers must Close it.
func NewEngine() (*Engine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("set OCR language: %w", err)
	}

	// Collector numbers are not words; dictionary correction only hurts.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	if err := client.SetWhitelist(numberChars); err != nil {
		client.Close()
		return nil, fmt.Errorf("set OCR whitelist: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("set OCR segmentation mode: %w", err)
	}

	return &Engine{client: client}, nil
}

// Close releases Tesseract resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// ReadCollectorNumber scans the bottom strip of an extracted card image for
// a number/total pair. Returns false when nothing parseable was found.
func (e *Engine) ReadCollectorNumber(card image.Image) (CollectorNumber, bool, error) {
	strip := bottomStrip(card)

	// Upscale; the printed number is small at hash resolution.
	w := uint(strip.Bounds().Dx() * 3)
	scaled := resize.Resize(w, 0, strip, resize.Bicubic)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return CollectorNumber{}, false, fmt.Errorf("encode OCR strip: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return CollectorNumber{}, false, fmt.Errorf("set OCR image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return CollectorNumber{}, false, fmt.Errorf("recognize collector number: %w", err)
	}

	num, ok := parseCollectorNumber(text)
	return num, ok, nil
}

// bottomStrip crops the band of img where the collector number is printed.
func bottomStrip(img image.Image) image.Image {
	b := img.Bounds()
	y0 := b.Max.Y - int(float64(b.Dy())*bottomStripFrac)
	strip := image.Rect(b.Min.X, y0, b.Max.X, b.Max.Y)

	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(strip)
	}

	out := image.NewRGBA(image.Rect(0, 0, strip.Dx(), strip.Dy()))
	for y := strip.Min.Y; y < strip.Max.Y; y++ {
		for x := strip.Min.X; x < strip.Max.X; x++ {
			out.Set(x-strip.Min.X, y-strip.Min.Y, img.At(x, y))
		}
	}
	return out
}

// parseCollectorNumber extracts the first number/total pair from OCR text.
// Zero values are treated as misreads. Numbers above the set total are kept
// since secret rares legitimately exceed it.
func parseCollectorNumber(text string) (CollectorNumber, bool) {
	m := numberPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return CollectorNumber{}, false
	}
	num, err := strconv.Atoi(m[1])
	if err != nil {
		return CollectorNumber{}, false
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return CollectorNumber{}, false
	}
	if num == 0 || total == 0 {
		return CollectorNumber{}, false
	}
	return CollectorNumber{Number: num, SetTotal: total}, true
}
