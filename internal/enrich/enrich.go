// Package enrich lazily fetches supplementary card attributes from the
// external catalog source. Variant flags and the set total are not part of
// the ingestion listing; fetching them for all ~22k cards up front would
// cost as many API calls, so they are resolved on first display of a match
// and cached in the store.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"card-scanner/internal/catalog"
	"card-scanner/internal/config"
)

// ErrUnavailable reports that the catalog source could not supply details
// for a card. Endpoint failures are remembered for the process lifetime;
// a fetch that only died with the caller's context may be retried.
var ErrUnavailable = errors.New("enrichment unavailable")

// Details are the lazily fetched attributes.
type Details struct {
	Variants *catalog.VariantSet
	SetTotal string
}

// Source fetches details for one card from the external catalog.
type Source interface {
	Fetch(ctx context.Context, cardID string) (*Details, error)
}

// Client is the TCGdex REST source.
type Client struct {
	baseURL  string
	language string
	http     *http.Client
}

// NewClient builds a TCGdex client from configuration.
func NewClient(cfg config.Enrichment) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		language: cfg.Language,
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

// cardResponse is the subset of the TCGdex card object the enricher needs.
type cardResponse struct {
	Variants *catalog.VariantSet `json:"variants"`
	Set      struct {
		CardCount struct {
			Total int `json:"total"`
		} `json:"cardCount"`
	} `json:"set"`
}

// Fetch retrieves the full card object and extracts variants and set total.
func (c *Client) Fetch(ctx context.Context, cardID string) (*Details, error) {
	endpoint := fmt.Sprintf("%s/%s/cards/%s", c.baseURL, c.language, url.PathEscape(cardID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build enrichment request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch card %s: %w", cardID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch card %s: status %s", cardID, resp.Status)
	}

	var body cardResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode card %s: %w", cardID, err)
	}

	details := &Details{Variants: body.Variants}
	if body.Set.CardCount.Total > 0 {
		details.SetTotal = strconv.Itoa(body.Set.CardCount.Total)
	}
	return details, nil
}

// call tracks one in-flight or completed fetch.
type call struct {
	done    chan struct{}
	details *Details
	failed  bool
}

// Enricher resolves details at most once per card id, writing successes
// through to the store. It is safe for concurrent use: the first caller for
// an id performs the fetch, later callers wait for its outcome.
type Enricher struct {
	source Source
	store  *catalog.Store
	log    *slog.Logger

	mu    sync.Mutex
	calls map[string]*call
}

// New builds an Enricher over source with store write-through.
func New(source Source, store *catalog.Store, log *slog.Logger) *Enricher {
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{
		source: source,
		store:  store,
		log:    log,
		calls:  make(map[string]*call),
	}
}

// Enrich returns the details for card, using in order: the card's own cached
// columns, the process cache, and finally the external source. A failed
// fetch is remembered so repeated identifies of the same card do not hammer
// the endpoint.
func (e *Enricher) Enrich(ctx context.Context, card *catalog.Card) (*Details, error) {
	if card.Variants != "" || card.SetTotal != "" {
		return &Details{Variants: card.DecodeVariants(), SetTotal: card.SetTotal}, nil
	}

	e.mu.Lock()
	c, ok := e.calls[card.ID]
	if ok {
		e.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if c.failed {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, card.ID)
		}
		return c.details, nil
	}
	c = &call{done: make(chan struct{})}
	e.calls[card.ID] = c
	e.mu.Unlock()

	details, err := e.source.Fetch(ctx, card.ID)
	if err != nil {
		c.failed = true
		close(c.done)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller gave up, which says nothing about the endpoint;
			// forget the attempt so a later identify can retry.
			e.mu.Lock()
			delete(e.calls, card.ID)
			e.mu.Unlock()
		} else {
			e.log.Warn("enrichment fetch failed", "card", card.ID, "error", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, card.ID)
	}

	c.details = details
	close(c.done)

	if e.store != nil {
		variantsJSON := ""
		if details.Variants != nil {
			if data, err := json.Marshal(details.Variants); err == nil {
				variantsJSON = string(data)
			}
		}
		if err := e.store.UpdateEnrichment(ctx, card.ID, variantsJSON, details.SetTotal); err != nil {
			e.log.Warn("enrichment write-through failed", "card", card.ID, "error", err)
		}
	}
	return details, nil
}
