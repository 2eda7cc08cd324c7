package embed

import (
	"fmt"
	"sort"
)

// Row is one stored card embedding feeding the index.
type Row struct {
	CardID string
	Vector []float32
}

// Match is one ranked card with its cosine similarity. Higher is closer.
type Match struct {
	CardID     string
	Similarity float64
}

// Index is an immutable in-memory embedding index over the reference set.
// Vectors are held L2-normalized in ascending card-id order, so cosine
// similarity reduces to a dot product.
type Index struct {
	dim     int
	cardIDs []string
	vectors [][]float32
	rowByID map[string]int
}

// NewIndex builds an index over rows. The dimensionality is taken from the
// first row; rows with a different length are excluded rather than failing
// the index (a corrupted or old-format row must not take the stage down).
func NewIndex(rows []Row) (*Index, error) {
	dim := 0
	for _, r := range rows {
		if len(r.Vector) > 0 {
			dim = len(r.Vector)
			break
		}
	}

	kept := make([]Row, 0, len(rows))
	for _, r := range rows {
		if len(r.Vector) != dim || dim == 0 {
			continue
		}
		kept = append(kept, r)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].CardID < kept[j].CardID })

	ix := &Index{
		dim:     dim,
		cardIDs: make([]string, 0, len(kept)),
		vectors: make([][]float32, 0, len(kept)),
		rowByID: make(map[string]int, len(kept)),
	}
	for _, r := range kept {
		if _, dup := ix.rowByID[r.CardID]; dup {
			return nil, fmt.Errorf("embed: duplicate embedding for card %s", r.CardID)
		}
		vec := make([]float32, dim)
		copy(vec, r.Vector)
		ix.rowByID[r.CardID] = len(ix.cardIDs)
		ix.cardIDs = append(ix.cardIDs, r.CardID)
		ix.vectors = append(ix.vectors, Normalize(vec))
	}

	return ix, nil
}

// Empty reports whether the index holds no vectors.
func (ix *Index) Empty() bool { return len(ix.cardIDs) == 0 }

// Len returns the number of indexed cards.
func (ix *Index) Len() int { return len(ix.cardIDs) }

// Dim returns the vector dimensionality, 0 when empty.
func (ix *Index) Dim() int { return ix.dim }

// Has reports whether the card has a stored vector.
func (ix *Index) Has(cardID string) bool {
	_, ok := ix.rowByID[cardID]
	return ok
}

// Rank scores the query against the given shortlist of card ids and returns
// matches ordered by descending similarity, ties broken by card id
// ascending. Shortlist entries without a stored vector are excluded.
// A nil shortlist ranks the full index.
func (ix *Index) Rank(query []float32, shortlist []string) ([]Match, error) {
	if ix.Empty() {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("embed: query dimension %d, index holds %d", len(query), ix.dim)
	}

	q := make([]float32, ix.dim)
	copy(q, query)
	Normalize(q)

	if shortlist == nil {
		shortlist = ix.cardIDs
	}

	matches := make([]Match, 0, len(shortlist))
	for _, id := range shortlist {
		row, ok := ix.rowByID[id]
		if !ok {
			continue
		}
		matches = append(matches, Match{CardID: id, Similarity: dot(q, ix.vectors[row])})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].CardID < matches[j].CardID
	})
	return matches, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
