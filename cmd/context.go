package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"card-scanner/internal/catalog"
	"card-scanner/internal/config"
	"card-scanner/internal/embed"
	"card-scanner/internal/imagehash"
	"card-scanner/internal/logging"
	"card-scanner/internal/match"
	"card-scanner/internal/ocr"
	"card-scanner/internal/preprocess"
)

// appContext lazily loads configuration and wires the identification
// pipeline for the commands that need it.
type appContext struct {
	configPath string

	once    sync.Once
	cfg     config.Config
	log     *slog.Logger
	loadErr error
}

// defaultConfigPath is where the config file lives unless --config is given.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".card-scanner", "config.toml")
}

func (a *appContext) setup() error {
	a.once.Do(func() {
		path := a.configPath
		if path == "" {
			path = defaultConfigPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			a.loadErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			a.loadErr = err
			return
		}
		a.cfg = cfg
		a.log = logging.New(cfg.Logging)
	})
	return a.loadErr
}

func (a *appContext) openStore() (*catalog.Store, error) {
	if err := a.setup(); err != nil {
		return nil, err
	}
	return catalog.Open(a.cfg.Paths.DBPath)
}

// pipeline bundles the matcher with the resources it must release.
type pipeline struct {
	matcher  *match.Matcher
	embedder *embed.TFLiteEmbedder
	reader   *ocr.Engine
}

func (p *pipeline) Close() {
	if p.embedder != nil {
		p.embedder.Close()
	}
	if p.reader != nil {
		p.reader.Close()
	}
}

// buildPipeline loads the indexes and optional model resources. A missing
// embedding model or OCR engine degrades with a warning; a missing
// fingerprint index is an error since nothing can be identified without it.
func (a *appContext) buildPipeline(ctx context.Context, store *catalog.Store) (*pipeline, error) {
	hasher, err := imagehash.NewHasher(a.cfg.Hash.Size)
	if err != nil {
		return nil, err
	}
	fpBytes := hasher.FingerprintBytes()
	weights := imagehash.Weights{
		imagehash.KindAHash: a.cfg.Hash.AHashWeight,
		imagehash.KindDHash: a.cfg.Hash.DHashWeight,
		imagehash.KindPHash: a.cfg.Hash.PHashWeight,
		imagehash.KindWHash: a.cfg.Hash.WHashWeight,
	}

	full, err := match.LoadFingerprintIndex(ctx, store, fpBytes, weights, imagehash.Kinds)
	if err != nil {
		return nil, fmt.Errorf("load fingerprint index: %w", err)
	}
	art, err := match.LoadFingerprintIndex(ctx, store, fpBytes, weights, match.ArtKinds())
	if err != nil {
		return nil, fmt.Errorf("load art-zone index: %w", err)
	}
	vectors, err := match.LoadEmbeddingIndex(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load embedding index: %w", err)
	}
	cards, err := store.AllCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}

	p := &pipeline{}
	deps := match.Deps{
		Preprocessor: preprocess.New(a.cfg, a.log),
		Hasher:       hasher,
		Full:         full,
		Art:          art,
		Vectors:      vectors,
		Cards:        cards,
		Logger:       a.log,
	}

	embedder, err := embed.NewTFLiteEmbedder(a.cfg.Embedding.ModelPath, a.log)
	if err != nil {
		a.log.Warn("embedding model unavailable, identification is hash-only", "error", err)
	} else {
		p.embedder = embedder
		deps.Embedder = embedder
	}

	if a.cfg.OCR.Enabled {
		reader, err := ocr.NewEngine()
		if err != nil {
			a.log.Warn("collector-number OCR unavailable", "error", err)
		} else {
			p.reader = reader
			deps.Reader = reader
		}
	}

	matcher, err := match.New(a.cfg, deps)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.matcher = matcher
	return p, nil
}
