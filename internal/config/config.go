// Package config loads and validates the scanner configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains data directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	ImagesDir string `toml:"images_dir"`
	DBPath    string `toml:"db_path"`
}

// Hash configures the perceptual-hash index.
type Hash struct {
	// Size is the number of bits per fingerprint side; each fingerprint
	// holds Size*Size bits. 16 gives 256-bit fingerprints.
	Size        int     `toml:"size"`
	ImageWidth  int     `toml:"image_width"`
	ImageHeight int     `toml:"image_height"`
	AHashWeight float64 `toml:"ahash_weight"`
	DHashWeight float64 `toml:"dhash_weight"`
	PHashWeight float64 `toml:"phash_weight"`
	WHashWeight float64 `toml:"whash_weight"`
	// ArtZoneTop and ArtZoneBottom bound the illustration box as fractions
	// of card height, used for the art-zone fingerprint family.
	ArtZoneTop    float64 `toml:"art_zone_top"`
	ArtZoneBottom float64 `toml:"art_zone_bottom"`
}

// Embedding configures the deep-embedding stage.
type Embedding struct {
	ModelPath      string  `toml:"model_path"`
	InputSize      int     `toml:"input_size"`
	HighSimilarity float64 `toml:"high_similarity"`
	MedSimilarity  float64 `toml:"med_similarity"`
}

// Matcher configures ranking thresholds and result shaping.
type Matcher struct {
	TopK int `toml:"top_k"`
	// ShortlistSize bounds the embedding re-rank to the best hash candidates.
	ShortlistSize int `toml:"shortlist_size"`
	// HighConfidence and MedConfidence are weighted Hamming distance
	// thresholds, scaled for 256-bit fingerprints.
	HighConfidence float64 `toml:"high_confidence"`
	MedConfidence  float64 `toml:"med_confidence"`
	// MinMargin is the distance separation to the next-best distinct card
	// required before a high-confidence hash match skips the embedding stage.
	MinMargin float64 `toml:"min_margin"`
	// ExcludedSetPrefixes drops cards whose set id starts with any prefix.
	ExcludedSetPrefixes []string `toml:"excluded_set_prefixes"`
}

// Sticker configures price-sticker compensation.
type Sticker struct {
	AutoDetect    bool    `toml:"auto_detect"`
	InpaintRadius int     `toml:"inpaint_radius"`
	MaxAreaFrac   float64 `toml:"max_area_frac"`
	MaxColorStd   float64 `toml:"max_color_std"`
}

// CLAHE configures contrast normalization of scans.
type CLAHE struct {
	Enabled   bool    `toml:"enabled"`
	ClipLimit float64 `toml:"clip_limit"`
	TileSize  int     `toml:"tile_size"`
}

// Enrichment configures the lazy catalog detail lookups.
type Enrichment struct {
	BaseURL        string `toml:"base_url"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Batch configures concurrent batch identification.
type Batch struct {
	// Workers is the number of concurrent identification workers;
	// 0 means one per CPU core.
	Workers int `toml:"workers"`
}

// OCR configures optional collector-number recognition.
type OCR struct {
	Enabled bool `toml:"enabled"`
}

// Logging configures log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration object.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Hash       Hash       `toml:"hash"`
	Embedding  Embedding  `toml:"embedding"`
	Matcher    Matcher    `toml:"matcher"`
	Sticker    Sticker    `toml:"sticker"`
	CLAHE      CLAHE      `toml:"clahe"`
	Enrichment Enrichment `toml:"enrichment"`
	Batch      Batch      `toml:"batch"`
	OCR        OCR        `toml:"ocr"`
	Logging    Logging    `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		Paths: Paths{
			DataDir:   dataDir,
			ImagesDir: filepath.Join(dataDir, "images"),
			DBPath:    filepath.Join(dataDir, "cards.db"),
		},
		Hash: Hash{
			Size:          16,
			ImageWidth:    300,
			ImageHeight:   420,
			AHashWeight:   1.0,
			DHashWeight:   1.0,
			PHashWeight:   2.0,
			WHashWeight:   1.0,
			ArtZoneTop:    0.13,
			ArtZoneBottom: 0.53,
		},
		Embedding: Embedding{
			InputSize:      224,
			HighSimilarity: 0.90,
			MedSimilarity:  0.75,
		},
		Matcher: Matcher{
			TopK:                5,
			ShortlistSize:       50,
			HighConfidence:      15,
			MedConfidence:       40,
			MinMargin:           5,
			ExcludedSetPrefixes: []string{"A", "B", "P-A"},
		},
		Sticker: Sticker{
			AutoDetect:    true,
			InpaintRadius: 5,
			MaxAreaFrac:   0.30,
			MaxColorStd:   90,
		},
		CLAHE: CLAHE{
			Enabled:   true,
			ClipLimit: 2.0,
			TileSize:  8,
		},
		Enrichment: Enrichment{
			BaseURL:        "https://api.tcgdex.net/v2",
			Language:       "en",
			TimeoutSeconds: 8,
		},
		Batch:   Batch{Workers: 0},
		OCR:     OCR{Enabled: false},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".card-scanner")
}

// Load reads the configuration from path, falling back to defaults when the
// file does not exist. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := toml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Hash.Size <= 0 || c.Hash.Size%8 != 0 {
		return fmt.Errorf("hash.size must be a positive multiple of 8, got %d", c.Hash.Size)
	}
	if c.Hash.ImageWidth <= 0 || c.Hash.ImageHeight <= 0 {
		return fmt.Errorf("hash image dimensions must be positive, got %dx%d",
			c.Hash.ImageWidth, c.Hash.ImageHeight)
	}
	if c.Hash.ArtZoneTop < 0 || c.Hash.ArtZoneBottom <= c.Hash.ArtZoneTop || c.Hash.ArtZoneBottom > 1 {
		return fmt.Errorf("art zone bounds invalid: top=%v bottom=%v",
			c.Hash.ArtZoneTop, c.Hash.ArtZoneBottom)
	}
	if c.Matcher.TopK <= 0 {
		return fmt.Errorf("matcher.top_k must be positive, got %d", c.Matcher.TopK)
	}
	if c.Matcher.ShortlistSize <= 0 {
		return fmt.Errorf("matcher.shortlist_size must be positive, got %d", c.Matcher.ShortlistSize)
	}
	if c.Matcher.HighConfidence < 0 || c.Matcher.MedConfidence < c.Matcher.HighConfidence {
		return fmt.Errorf("matcher confidence thresholds invalid: high=%v med=%v",
			c.Matcher.HighConfidence, c.Matcher.MedConfidence)
	}
	if c.Matcher.MinMargin < 0 {
		return fmt.Errorf("matcher.min_margin must be non-negative, got %v", c.Matcher.MinMargin)
	}
	for _, prefix := range c.Matcher.ExcludedSetPrefixes {
		if strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("matcher.excluded_set_prefixes contains an empty prefix")
		}
	}
	if c.Embedding.HighSimilarity < c.Embedding.MedSimilarity {
		return fmt.Errorf("embedding similarity thresholds invalid: high=%v med=%v",
			c.Embedding.HighSimilarity, c.Embedding.MedSimilarity)
	}
	if c.Batch.Workers < 0 {
		return fmt.Errorf("batch.workers must be non-negative, got %d", c.Batch.Workers)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// WorkerCount resolves the configured batch worker count.
func (c *Config) WorkerCount() int {
	if c.Batch.Workers > 0 {
		return c.Batch.Workers
	}
	return runtime.NumCPU()
}

// EnsureDirectories creates the data directories if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ImagesDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the annotated sample configuration to path.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
