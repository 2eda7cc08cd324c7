package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newCatalogCommand(a *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the local card catalog",
	}
	cmd.AddCommand(newCatalogStatsCommand(a))
	return cmd
}

func newCatalogStatsCommand(a *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog, fingerprint and embedding coverage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			cards, err := store.CardCount(ctx)
			if err != nil {
				return err
			}
			hashed, err := store.HashedCardCount(ctx)
			if err != nil {
				return err
			}
			embedded, err := store.EmbeddedCardCount(ctx)
			if err != nil {
				return err
			}

			rows := [][]string{
				{"Cards", strconv.Itoa(cards)},
				{"With fingerprints", strconv.Itoa(hashed)},
				{"With embeddings", strconv.Itoa(embedded)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Count"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}
