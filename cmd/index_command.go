package cmd

import (
	"fmt"

	"card-scanner/internal/embed"
	"card-scanner/internal/imagehash"
	"card-scanner/internal/indexer"

	"github.com/spf13/cobra"
)

func newIndexCommand(a *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the reference fingerprint and embedding indexes",
	}
	cmd.AddCommand(newIndexBuildCommand(a))
	return cmd
}

func newIndexBuildCommand(a *appContext) *cobra.Command {
	var hashesOnly bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compute missing fingerprints and embeddings for catalog images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			hasher, err := imagehash.NewHasher(a.cfg.Hash.Size)
			if err != nil {
				return err
			}

			var embedder embed.Embedder
			var tfl *embed.TFLiteEmbedder
			if !hashesOnly {
				tfl, err = embed.NewTFLiteEmbedder(a.cfg.Embedding.ModelPath, a.log)
				if err != nil {
					a.log.Warn("embedding model unavailable, building fingerprints only", "error", err)
				} else {
					embedder = tfl
					defer tfl.Close()
				}
			}

			ix := indexer.New(store, hasher, a.cfg, embedder, a.log)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			stats, err := ix.BuildFingerprints(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Fingerprints: %d cards hashed, %d failed.\n", stats.Done, stats.Failed)

			if embedder == nil {
				return nil
			}
			stats, err = ix.BuildEmbeddings(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Embeddings: %d cards embedded, %d failed.\n", stats.Done, stats.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&hashesOnly, "hashes-only", false, "skip embedding computation")
	return cmd
}
