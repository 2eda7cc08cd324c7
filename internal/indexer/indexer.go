// Package indexer computes reference fingerprints and embeddings for every
// catalog card with a downloaded image. It is incremental: only cards
// missing data are processed, so re-running after an interrupted build picks
// up where it stopped.
package indexer

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"card-scanner/internal/catalog"
	"card-scanner/internal/config"
	"card-scanner/internal/embed"
	"card-scanner/internal/imagehash"
	"card-scanner/internal/preprocess"

	"github.com/nfnt/resize"
)

// flushSize bounds the number of fingerprint rows held before a store write.
const flushSize = 1000

// Stats summarizes one build pass.
type Stats struct {
	Done   int
	Failed int
}

// Indexer builds reference data in the store.
type Indexer struct {
	store    *catalog.Store
	hasher   *imagehash.Hasher
	hashCfg  config.Hash
	embedder embed.Embedder
	log      *slog.Logger
}

// New builds an Indexer. The embedder may be nil; BuildEmbeddings then
// reports an error while fingerprint builds still work.
func New(store *catalog.Store, hasher *imagehash.Hasher, cfg config.Config, embedder embed.Embedder, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		store:    store,
		hasher:   hasher,
		hashCfg:  cfg.Hash,
		embedder: embedder,
		log:      log,
	}
}

// BuildFingerprints computes the full-card and art-zone fingerprint families
// for every card missing them. A card whose image fails to load is logged
// and skipped; the build continues.
func (ix *Indexer) BuildFingerprints(ctx context.Context) (Stats, error) {
	pending, err := ix.store.CardsWithoutHashes(ctx, imagehash.KindPHash)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	var rows []catalog.FingerprintRow

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := ix.store.PutFingerprints(ctx, rows); err != nil {
			return fmt.Errorf("store fingerprints: %w", err)
		}
		rows = rows[:0]
		return nil
	}

	for _, card := range pending {
		if err := ctx.Err(); err != nil {
			if ferr := flush(); ferr != nil {
				return stats, ferr
			}
			return stats, err
		}
		if card.LocalImagePath == "" {
			continue
		}

		img, err := loadImage(card.LocalImagePath)
		if err != nil {
			stats.Failed++
			ix.log.Warn("skipping card image", "card", card.ID, "error", err)
			continue
		}
		resized := resize.Resize(uint(ix.hashCfg.ImageWidth), uint(ix.hashCfg.ImageHeight), img, resize.Bicubic)

		for kind, fp := range ix.hasher.All(resized) {
			rows = append(rows, catalog.FingerprintRow{CardID: card.ID, Kind: kind, Fingerprint: fp})
		}
		artCrop := preprocess.CropArtZone(resized, ix.hashCfg.ArtZoneTop, ix.hashCfg.ArtZoneBottom)
		for kind, fp := range ix.hasher.All(artCrop) {
			rows = append(rows, catalog.FingerprintRow{
				CardID:      card.ID,
				Kind:        imagehash.ArtKind(kind),
				Fingerprint: fp,
			})
		}
		stats.Done++

		if len(rows) >= flushSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}
	ix.log.Info("fingerprint build complete", "done", stats.Done, "failed", stats.Failed)
	return stats, nil
}

// BuildEmbeddings computes and stores an embedding for every card missing
// one. Requires an embedder.
func (ix *Indexer) BuildEmbeddings(ctx context.Context) (Stats, error) {
	if ix.embedder == nil {
		return Stats{}, fmt.Errorf("build embeddings: %w", embed.ErrUnavailable)
	}

	pending, err := ix.store.CardsWithoutEmbedding(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, card := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if card.LocalImagePath == "" {
			continue
		}

		img, err := loadImage(card.LocalImagePath)
		if err != nil {
			stats.Failed++
			ix.log.Warn("skipping card image", "card", card.ID, "error", err)
			continue
		}

		vec, err := ix.embedder.Embed(img)
		if err != nil {
			stats.Failed++
			ix.log.Warn("embedding failed", "card", card.ID, "error", err)
			continue
		}
		if err := ix.store.PutEmbedding(ctx, card.ID, embed.EncodeVector(vec)); err != nil {
			return stats, fmt.Errorf("store embedding %s: %w", card.ID, err)
		}
		stats.Done++
	}

	ix.log.Info("embedding build complete", "done", stats.Done, "failed", stats.Failed)
	return stats, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
