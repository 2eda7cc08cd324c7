package embed

import (
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"
	"golang.org/x/image/draw"
)

// TFLiteEmbedder runs a TensorFlow Lite image feature-vector model. The
// output dimensionality is read from the model's output tensor, never
// assumed. Invoke is serialized; the interpreter is not reentrant.
type TFLiteEmbedder struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	inputSize   int
	dim         int
}

// NewTFLiteEmbedder loads the model at modelPath. An empty path returns
// ErrUnavailable so callers can degrade to hash-only matching.
func NewTFLiteEmbedder(modelPath string, logger *slog.Logger) (*TFLiteEmbedder, error) {
	if modelPath == "" {
		return nil, ErrUnavailable
	}

	model := tflite.NewModelFromFile(modelPath)
	if model == nil {
		return nil, fmt.Errorf("embed: cannot load model %s: %w", modelPath, ErrUnavailable)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(runtime.NumCPU())

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, fmt.Errorf("embed: cannot create interpreter for %s: %w", modelPath, ErrUnavailable)
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("embed: tensor allocation failed for %s: %w", modelPath, ErrUnavailable)
	}

	input := interpreter.GetInputTensor(0)
	if input.NumDims() != 4 || input.Dim(3) != 3 {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("embed: model %s input is not NHWC RGB", modelPath)
	}
	inputSize := input.Dim(1)

	output := interpreter.GetOutputTensor(0)
	dim := output.Dim(output.NumDims() - 1)
	if dim <= 0 {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("embed: model %s has empty output", modelPath)
	}

	logger.Info("embedding model loaded",
		"path", modelPath, "input_size", inputSize, "dim", dim)

	return &TFLiteEmbedder{
		model:       model,
		interpreter: interpreter,
		inputSize:   inputSize,
		dim:         dim,
	}, nil
}

// Dim returns the model's output dimensionality.
func (e *TFLiteEmbedder) Dim() int { return e.dim }

// InputSize returns the model's expected input side length in pixels.
func (e *TFLiteEmbedder) InputSize() int { return e.inputSize }

// Embed resizes img to the model input, runs inference and returns the
// L2-normalized output vector.
func (e *TFLiteEmbedder) Embed(img image.Image) ([]float32, error) {
	scaled := image.NewRGBA(image.Rect(0, 0, e.inputSize, e.inputSize))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	e.mu.Lock()
	defer e.mu.Unlock()

	input := e.interpreter.GetInputTensor(0)
	buf := input.Float32s()
	i := 0
	for y := 0; y < e.inputSize; y++ {
		for x := 0; x < e.inputSize; x++ {
			off := scaled.PixOffset(x, y)
			buf[i] = float32(scaled.Pix[off]) / 255.0
			buf[i+1] = float32(scaled.Pix[off+1]) / 255.0
			buf[i+2] = float32(scaled.Pix[off+2]) / 255.0
			i += 3
		}
	}

	if status := e.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("embed: inference failed: %w", ErrUnavailable)
	}

	out := e.interpreter.GetOutputTensor(0)
	vec := make([]float32, e.dim)
	copy(vec, out.Float32s())
	return Normalize(vec), nil
}

// Close releases the interpreter and model.
func (e *TFLiteEmbedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
}
