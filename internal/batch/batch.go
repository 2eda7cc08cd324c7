// Package batch runs identification over many scans concurrently. Results
// are correlated to their originating scan by an explicit scan id, never by
// completion order.
package batch

import (
	"context"
	"log/slog"
	"sync"

	"card-scanner/internal/match"
	"card-scanner/internal/pair"

	"github.com/google/uuid"
)

// Identifier identifies one scan file.
type Identifier interface {
	Identify(ctx context.Context, path string) (*match.Result, error)
}

// Item is one scan's outcome within a batch.
type Item struct {
	// ScanID is assigned at intake and correlates the result with its
	// originating scan across concurrent workers.
	ScanID string
	Scan   pair.ScanPair
	Result *match.Result
	Err    error
}

// Runner processes batches with a fixed worker pool.
type Runner struct {
	identifier Identifier
	workers    int
	log        *slog.Logger
}

// NewRunner builds a Runner with the given concurrency.
func NewRunner(identifier Identifier, workers int, log *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{identifier: identifier, workers: workers, log: log}
}

// Run identifies every pair's front scan and returns items in input order.
// Cancellation is cooperative between items: in-flight identifications
// finish, remaining items carry the context error. Per-item failures never
// abort the batch.
func (r *Runner) Run(ctx context.Context, pairs []pair.ScanPair) []Item {
	items := make([]Item, len(pairs))
	position := make(map[string]int, len(pairs))
	jobs := make(chan Item)
	results := make(chan Item)

	for i, p := range pairs {
		id := uuid.NewString()
		items[i] = Item{ScanID: id, Scan: p}
		position[id] = i
	}

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if err := ctx.Err(); err != nil {
					item.Err = err
					results <- item
					continue
				}
				item.Result, item.Err = r.identifier.Identify(ctx, item.Scan.Front)
				if item.Err != nil {
					r.log.Warn("scan identification failed",
						"scan_id", item.ScanID, "path", item.Scan.Front, "error", item.Err)
				}
				results <- item
			}
		}()
	}

	go func() {
		for _, item := range items {
			jobs <- item
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	for item := range results {
		items[position[item.ScanID]] = item
	}
	return items
}
