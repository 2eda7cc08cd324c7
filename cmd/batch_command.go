package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"card-scanner/internal/batch"
	"card-scanner/internal/pair"

	"github.com/spf13/cobra"
)

func newBatchCommand(a *appContext) *cobra.Command {
	var paired bool

	cmd := &cobra.Command{
		Use:   "batch <dir|scans...>",
		Short: "Identify a batch of scans concurrently",
		Long: `Identify every scan in a directory or argument list. With --paired,
scans alternate front/back: the odd positions are card fronts and the even
positions their backs; identification runs on fronts only.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			paths, err := collectScans(args)
			if err != nil {
				return err
			}
			pairs, err := pair.Group(paths, paired)
			if err != nil {
				return err
			}
			if len(pairs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scans found.")
				return nil
			}

			ctx := cmd.Context()
			p, err := a.buildPipeline(ctx, store)
			if err != nil {
				return err
			}
			defer p.Close()

			runner := batch.NewRunner(p.matcher, a.cfg.WorkerCount(), a.log)
			items := runner.Run(ctx, pairs)

			printBatchResults(cmd, items)
			return nil
		},
	}
	cmd.Flags().BoolVar(&paired, "paired", false, "treat scans as alternating front/back pairs")
	return cmd
}

// collectScans expands a single directory argument into its image files, or
// passes an explicit file list through unchanged.
func collectScans(args []string) ([]string, error) {
	if len(args) != 1 {
		return args, nil
	}
	info, err := os.Stat(args[0])
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return args, nil
	}

	entries, err := os.ReadDir(args[0])
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff":
			paths = append(paths, filepath.Join(args[0], entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func printBatchResults(cmd *cobra.Command, items []batch.Item) {
	headers := []string{"Scan", "Back", "Best match", "Distance", "Similarity", "Tier", "Error"}
	aligns := []columnAlignment{
		alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft,
	}

	identified := 0
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		row := []string{filepath.Base(item.Scan.Front), filepath.Base(item.Scan.Back), "", "", "", "", ""}
		switch {
		case item.Err != nil:
			row[6] = item.Err.Error()
		case len(item.Result.Candidates) == 0:
			row[6] = "no candidates"
		default:
			best := item.Result.Candidates[0]
			row[2] = fmt.Sprintf("%s (%s)", best.Card.Name, best.Card.ID)
			row[3] = strconv.FormatFloat(best.HashDistance, 'f', 2, 64)
			if best.Embedded {
				row[4] = strconv.FormatFloat(best.Similarity, 'f', 4, 64)
			}
			row[5] = string(best.Tier)
			identified++
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable(headers, rows, aligns))
	fmt.Fprintf(out, "Identified %d of %d scans.\n", identified, len(items))
}
