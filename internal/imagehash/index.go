package imagehash

import (
	"fmt"
	"math/bits"
	"sort"
)

// Weights maps an algorithm kind to its contribution in the combined score.
// Art-zone kinds share the weight of their base kind.
type Weights map[string]float64

// DefaultWeights double-weights phash, the algorithm most robust to lighting
// and compression artifacts.
func DefaultWeights() Weights {
	return Weights{KindAHash: 1, KindDHash: 1, KindPHash: 2, KindWHash: 1}
}

func (w Weights) lookup(kind string) float64 {
	base := kind
	if len(kind) > 4 && kind[len(kind)-4:] == "_art" {
		base = kind[:len(kind)-4]
	}
	if weight, ok := w[base]; ok {
		return weight
	}
	return 1
}

// Entry is one (card, algorithm) fingerprint feeding the index.
type Entry struct {
	CardID      string
	Kind        string
	Fingerprint Fingerprint
}

// Match is one ranked card with its distance score. Lower is closer.
type Match struct {
	CardID   string
	Distance float64
}

// Index is an immutable in-memory fingerprint index over the reference set.
// Fingerprints are stored as dense per-kind byte matrices in ascending
// card-id order, so a lookup is a single exhaustive XOR/popcount scan.
type Index struct {
	fpBytes int
	weights Weights
	cardIDs []string
	rowByID map[string]int

	// matrix[kind] holds len(cardIDs) fingerprints of fpBytes each;
	// present[kind][row] marks rows that actually hold data.
	matrix  map[string][]byte
	present map[string][]bool
}

// NewIndex builds an index over entries. Fingerprints whose width does not
// match fpBytes are excluded (a corrupted row must not fail the whole
// index); every retained card keeps its rows in ascending card-id order.
func NewIndex(fpBytes int, weights Weights, entries []Entry) (*Index, error) {
	if fpBytes <= 0 {
		return nil, fmt.Errorf("imagehash: fingerprint byte width must be positive, got %d", fpBytes)
	}
	if weights == nil {
		weights = DefaultWeights()
	}

	idSet := make(map[string]struct{})
	for _, e := range entries {
		if len(e.Fingerprint) != fpBytes {
			continue
		}
		idSet[e.CardID] = struct{}{}
	}

	cardIDs := make([]string, 0, len(idSet))
	for id := range idSet {
		cardIDs = append(cardIDs, id)
	}
	sort.Strings(cardIDs)

	rowByID := make(map[string]int, len(cardIDs))
	for i, id := range cardIDs {
		rowByID[id] = i
	}

	ix := &Index{
		fpBytes: fpBytes,
		weights: weights,
		cardIDs: cardIDs,
		rowByID: rowByID,
		matrix:  make(map[string][]byte),
		present: make(map[string][]bool),
	}

	for _, e := range entries {
		if len(e.Fingerprint) != fpBytes {
			continue
		}
		row := rowByID[e.CardID]
		mat, ok := ix.matrix[e.Kind]
		if !ok {
			mat = make([]byte, len(cardIDs)*fpBytes)
			ix.matrix[e.Kind] = mat
			ix.present[e.Kind] = make([]bool, len(cardIDs))
		}
		if ix.present[e.Kind][row] {
			return nil, fmt.Errorf("imagehash: duplicate fingerprint for card %s kind %s", e.CardID, e.Kind)
		}
		copy(mat[row*fpBytes:(row+1)*fpBytes], e.Fingerprint)
		ix.present[e.Kind][row] = true
	}

	return ix, nil
}

// Empty reports whether the index holds no cards.
func (ix *Index) Empty() bool { return len(ix.cardIDs) == 0 }

// Len returns the number of indexed cards.
func (ix *Index) Len() int { return len(ix.cardIDs) }

// CardIDs returns the indexed card ids in ascending order.
func (ix *Index) CardIDs() []string {
	out := make([]string, len(ix.cardIDs))
	copy(out, ix.cardIDs)
	return out
}

// RankKind scans one algorithm's matrix and returns every stored card
// ordered by ascending Hamming distance to the query, ties broken by card
// id ascending. Cards without a fingerprint of this kind are excluded.
func (ix *Index) RankKind(kind string, query Fingerprint) ([]Match, error) {
	if len(query) != ix.fpBytes {
		return nil, fmt.Errorf("imagehash: query width %d bytes, index holds %d", len(query), ix.fpBytes)
	}

	mat, ok := ix.matrix[kind]
	if !ok {
		return nil, nil
	}
	present := ix.present[kind]

	matches := make([]Match, 0, len(ix.cardIDs))
	for row, id := range ix.cardIDs {
		if !present[row] {
			continue
		}
		matches = append(matches, Match{
			CardID:   id,
			Distance: float64(hamming(mat[row*ix.fpBytes:(row+1)*ix.fpBytes], query)),
		})
	}
	sortMatches(matches)
	return matches, nil
}

// Distances computes the combined weighted distance of the query against
// every indexed card: the weighted mean of per-kind Hamming distances over
// the kinds both sides have. Cards with no usable kind are omitted.
func (ix *Index) Distances(queries map[string]Fingerprint) map[string]float64 {
	accumulated := make([]float64, len(ix.cardIDs))
	weightUsed := make([]float64, len(ix.cardIDs))

	for kind, query := range queries {
		if len(query) != ix.fpBytes {
			continue
		}
		mat, ok := ix.matrix[kind]
		if !ok {
			continue
		}
		present := ix.present[kind]
		weight := ix.weights.lookup(kind)

		for row := range ix.cardIDs {
			if !present[row] {
				continue
			}
			d := hamming(mat[row*ix.fpBytes:(row+1)*ix.fpBytes], query)
			accumulated[row] += float64(d) * weight
			weightUsed[row] += weight
		}
	}

	out := make(map[string]float64, len(ix.cardIDs))
	for row, id := range ix.cardIDs {
		if weightUsed[row] > 0 {
			out[id] = accumulated[row] / weightUsed[row]
		}
	}
	return out
}

// Rank orders a card->distance map ascending, ties broken by card id
// ascending, so equal inputs always produce identical output.
func Rank(distances map[string]float64) []Match {
	matches := make([]Match, 0, len(distances))
	for id, d := range distances {
		matches = append(matches, Match{CardID: id, Distance: d})
	}
	sortMatches(matches)
	return matches
}

func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].CardID < matches[j].CardID
	})
}

func hamming(a, b []byte) int {
	dist := 0
	for i := range a {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}
