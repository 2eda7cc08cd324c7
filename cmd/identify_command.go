package cmd

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"

	"card-scanner/internal/enrich"
	"card-scanner/internal/match"

	"github.com/spf13/cobra"
)

func newIdentifyCommand(a *appContext) *cobra.Command {
	var noEnrich bool
	var stickerRect string

	cmd := &cobra.Command{
		Use:   "identify <scan>",
		Short: "Identify a single scanned card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mask *image.Rectangle
			if stickerRect != "" {
				r, err := parseRect(stickerRect)
				if err != nil {
					return err
				}
				mask = &r
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			p, err := a.buildPipeline(ctx, store)
			if err != nil {
				return err
			}
			defer p.Close()

			var res *match.Result
			if mask != nil {
				res, err = p.matcher.IdentifyWithMask(ctx, args[0], *mask)
			} else {
				res, err = p.matcher.Identify(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if len(res.Candidates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No candidates: the catalog index is empty or every match was excluded.")
				return nil
			}

			var enricher *enrich.Enricher
			if !noEnrich {
				enricher = enrich.New(enrich.NewClient(a.cfg.Enrichment), store, a.log)
			}
			printScanNotes(cmd, res)
			fmt.Fprintln(cmd.OutOrStdout(), candidateTable(ctx, res.Candidates, enricher))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "skip the external variant/set-total lookup")
	cmd.Flags().StringVar(&stickerRect, "sticker-rect", "",
		"inpaint this region instead of auto-detecting a sticker, as x,y,w,h in card coordinates")
	return cmd
}

// parseRect parses an "x,y,w,h" flag value into a rectangle.
func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("sticker-rect: want x,y,w,h, got %q", s)
	}
	vals := make([]int, 4)
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("sticker-rect: %w", err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("sticker-rect: width and height must be positive")
	}
	return image.Rect(vals[0], vals[1], vals[0]+vals[2], vals[1]+vals[3]), nil
}

func printScanNotes(cmd *cobra.Command, res *match.Result) {
	out := cmd.OutOrStdout()
	if !res.QuadFound {
		fmt.Fprintln(out, "Note: no card boundary detected; used centre crop.")
	}
	if res.StickerRemoved {
		fmt.Fprintln(out, "Note: a price sticker was detected and compensated.")
	}
	if res.CollectorNumber != nil {
		fmt.Fprintf(out, "Collector number read from scan: %s\n", res.CollectorNumber)
	}
}

func candidateTable(ctx context.Context, candidates []match.Candidate, enricher *enrich.Enricher) string {
	headers := []string{"#", "Card", "Name", "Set", "No.", "Distance", "Similarity", "Tier", "Variants"}
	aligns := []columnAlignment{
		alignRight, alignLeft, alignLeft, alignLeft, alignRight,
		alignRight, alignRight, alignLeft, alignLeft,
	}

	rows := make([][]string, 0, len(candidates))
	for i, c := range candidates {
		similarity := ""
		if c.Embedded {
			similarity = strconv.FormatFloat(c.Similarity, 'f', 4, 64)
		}
		number := c.Card.Number
		if c.NumberMatch {
			number += " *"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			c.Card.ID,
			c.Card.Name,
			c.Card.SetName,
			number,
			strconv.FormatFloat(c.HashDistance, 'f', 2, 64),
			similarity,
			string(c.Tier),
			variantSummary(ctx, c, enricher),
		})
	}
	return renderTable(headers, rows, aligns)
}

// variantSummary resolves the lazy enrichment for a displayed row. Failures
// leave the column blank; display never fails because the catalog source is
// down.
func variantSummary(ctx context.Context, c match.Candidate, enricher *enrich.Enricher) string {
	if enricher == nil {
		return ""
	}
	details, err := enricher.Enrich(ctx, &c.Card)
	if err != nil || details == nil || details.Variants == nil {
		return ""
	}

	v := details.Variants
	out := ""
	add := func(label string, on bool) {
		if !on {
			return
		}
		if out != "" {
			out += ","
		}
		out += label
	}
	add("normal", v.Normal)
	add("reverse", v.Reverse)
	add("holo", v.Holo)
	add("1st", v.FirstEdition)
	add("promo", v.WPromo)
	if details.SetTotal != "" {
		out += " /" + details.SetTotal
	}
	return out
}
