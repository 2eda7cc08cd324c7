package match

import (
	"context"
	"fmt"

	"card-scanner/internal/catalog"
	"card-scanner/internal/embed"
	"card-scanner/internal/imagehash"
)

// LoadFingerprintIndex reads all stored fingerprints of the given kinds and
// assembles the immutable in-memory index. Rows with the wrong width are
// dropped by the index itself.
func LoadFingerprintIndex(ctx context.Context, store *catalog.Store, fpBytes int, weights imagehash.Weights, kinds []string) (*imagehash.Index, error) {
	var entries []imagehash.Entry
	for _, kind := range kinds {
		rows, err := store.AllFingerprints(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("load %s fingerprints: %w", kind, err)
		}
		for _, row := range rows {
			entries = append(entries, imagehash.Entry{
				CardID:      row.CardID,
				Kind:        row.Kind,
				Fingerprint: imagehash.Fingerprint(row.Fingerprint),
			})
		}
	}
	return imagehash.NewIndex(fpBytes, weights, entries)
}

// ArtKinds returns the art-zone variants of the base algorithm kinds.
func ArtKinds() []string {
	out := make([]string, len(imagehash.Kinds))
	for i, kind := range imagehash.Kinds {
		out[i] = imagehash.ArtKind(kind)
	}
	return out
}

// LoadEmbeddingIndex reads all stored embedding BLOBs into an index.
// Undecodable rows are skipped; a missing or partial embedding table is a
// coverage gap, not an error.
func LoadEmbeddingIndex(ctx context.Context, store *catalog.Store) (*embed.Index, error) {
	rows, err := store.AllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	indexRows := make([]embed.Row, 0, len(rows))
	for _, row := range rows {
		vec, err := embed.DecodeVector(row.Embedding)
		if err != nil {
			continue
		}
		indexRows = append(indexRows, embed.Row{CardID: row.CardID, Vector: vec})
	}
	return embed.NewIndex(indexRows)
}
