// Package match ranks catalog cards against a preprocessed scan. It combines
// the fingerprint index with an optional deep-embedding re-rank: when the
// best fingerprint distance is unambiguous the embedding model is skipped,
// since the exhaustive Hamming scan costs a fraction of one inference call.
package match

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"

	"card-scanner/internal/catalog"
	"card-scanner/internal/config"
	"card-scanner/internal/embed"
	"card-scanner/internal/imagehash"
	"card-scanner/internal/ocr"
	"card-scanner/internal/preprocess"
)

// Tier labels how trustworthy a candidate is.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Candidate is one ranked catalog card.
type Candidate struct {
	Card         catalog.Card
	HashDistance float64
	// Similarity is the cosine similarity from the embedding re-rank;
	// only meaningful when Embedded is true.
	Similarity float64
	Embedded   bool
	Tier       Tier
	// NumberMatch marks candidates whose catalog number agrees with a
	// collector number read off the scan.
	NumberMatch bool
}

// Result is the outcome of identifying one scan.
type Result struct {
	Candidates []Candidate
	// QuadFound reports whether a card boundary was detected during
	// preprocessing; false means the centre-crop fallback was used.
	QuadFound      bool
	StickerRemoved bool
	// EmbeddingUsed reports whether the embedding stage ran for this scan.
	EmbeddingUsed bool
	// CollectorNumber holds the OCR reading when one was recognized.
	CollectorNumber *ocr.CollectorNumber
}

// Matcher identifies scans against immutable in-memory indexes. All fields
// are read-only after construction, so one Matcher serves concurrent
// workers without locking.
type Matcher struct {
	cfg     config.Matcher
	embCfg  config.Embedding
	hashCfg config.Hash

	pre      *preprocess.Preprocessor
	hasher   *imagehash.Hasher
	full     *imagehash.Index
	art      *imagehash.Index
	vectors  *embed.Index
	embedder embed.Embedder
	reader   *ocr.Engine
	cards    map[string]catalog.Card
	log      *slog.Logger
}

// Deps carries the collaborators a Matcher needs. Art, Vectors, Embedder and
// Reader are optional; the matcher degrades to the signals it has.
type Deps struct {
	Preprocessor *preprocess.Preprocessor
	Hasher       *imagehash.Hasher
	Full         *imagehash.Index
	Art          *imagehash.Index
	Vectors      *embed.Index
	Embedder     embed.Embedder
	Reader       *ocr.Engine
	Cards        []catalog.Card
	Logger       *slog.Logger
}

// New builds a Matcher.
func New(cfg config.Config, deps Deps) (*Matcher, error) {
	if deps.Preprocessor == nil || deps.Hasher == nil || deps.Full == nil {
		return nil, fmt.Errorf("match: preprocessor, hasher and fingerprint index are required")
	}
	cards := make(map[string]catalog.Card, len(deps.Cards))
	for _, c := range deps.Cards {
		cards[c.ID] = c
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{
		cfg:      cfg.Matcher,
		embCfg:   cfg.Embedding,
		hashCfg:  cfg.Hash,
		pre:      deps.Preprocessor,
		hasher:   deps.Hasher,
		full:     deps.Full,
		art:      deps.Art,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		reader:   deps.Reader,
		cards:    cards,
		log:      log,
	}, nil
}

// Identify preprocesses the scan at path and ranks catalog candidates.
func (m *Matcher) Identify(ctx context.Context, path string) (*Result, error) {
	scan, err := m.pre.Process(path)
	if err != nil {
		return nil, err
	}
	return m.IdentifyScan(ctx, scan)
}

// IdentifyWithMask is Identify with a caller-supplied sticker region, in
// normalized card coordinates, replacing automatic sticker detection.
func (m *Matcher) IdentifyWithMask(ctx context.Context, path string, mask image.Rectangle) (*Result, error) {
	scan, err := m.pre.ProcessWithMask(path, mask)
	if err != nil {
		return nil, err
	}
	return m.IdentifyScan(ctx, scan)
}

// IdentifyScan ranks candidates for an already-preprocessed scan.
func (m *Matcher) IdentifyScan(ctx context.Context, scan *preprocess.Result) (*Result, error) {
	res := &Result{
		QuadFound:      scan.QuadFound,
		StickerRemoved: scan.StickerRemoved,
	}
	if m.full.Empty() {
		return res, nil
	}

	distances := m.hashDistances(scan)
	m.applyExclusions(distances)
	ranked := imagehash.Rank(distances)
	if len(ranked) == 0 {
		return res, nil
	}

	if m.acceptHashOnly(ranked) {
		res.Candidates = m.hashCandidates(ranked, true)
	} else {
		candidates, used := m.rerankByEmbedding(ctx, scan, ranked)
		res.Candidates = candidates
		res.EmbeddingUsed = used
	}

	m.applyCollectorNumber(res, scan)
	return res, nil
}

// hashDistances combines the full-card fingerprints with the art-zone
// family. The art zone sits away from typical sticker placement, so when a
// sticker was compensated each card keeps the better of its two scores: a
// card with a clean illustration still wins when the sticker corrupts the
// full-card fingerprint. The minimum only runs when every indexed card has
// art-zone rows; a partially built art index would hand its covered cards a
// systematic advantage.
func (m *Matcher) hashDistances(scan *preprocess.Result) map[string]float64 {
	queries := m.hasher.All(scan.Hash)
	distances := m.full.Distances(queries)

	if !scan.StickerRemoved || m.art == nil || m.art.Len() != m.full.Len() {
		return distances
	}

	artCrop := preprocess.CropArtZone(scan.Hash, m.hashCfg.ArtZoneTop, m.hashCfg.ArtZoneBottom)
	artQueries := make(map[string]imagehash.Fingerprint, len(imagehash.Kinds))
	for kind, fp := range m.hasher.All(artCrop) {
		artQueries[imagehash.ArtKind(kind)] = fp
	}

	for id, d := range m.art.Distances(artQueries) {
		if fullD, ok := distances[id]; !ok || d < fullD {
			distances[id] = d
		}
	}
	return distances
}

// applyExclusions drops excluded sub-product lines and cards the catalog no
// longer knows. Running before truncation means excluded cards never occupy
// a results slot.
func (m *Matcher) applyExclusions(distances map[string]float64) {
	for id := range distances {
		card, ok := m.cards[id]
		if !ok || card.HasSetPrefix(m.cfg.ExcludedSetPrefixes) {
			delete(distances, id)
		}
	}
}

// acceptHashOnly reports whether the best fingerprint match is strong and
// separated enough to skip the embedding stage.
func (m *Matcher) acceptHashOnly(ranked []imagehash.Match) bool {
	if ranked[0].Distance > m.cfg.HighConfidence {
		return false
	}
	if len(ranked) == 1 {
		return true
	}
	return ranked[1].Distance-ranked[0].Distance >= m.cfg.MinMargin
}

// hashCandidates shapes the top-K hash ranking into candidates. gated marks
// rankings that passed the high-confidence margin check; without it the
// hash signal alone never claims a high tier.
func (m *Matcher) hashCandidates(ranked []imagehash.Match, gated bool) []Candidate {
	k := min(m.cfg.TopK, len(ranked))
	out := make([]Candidate, 0, k)
	for _, match := range ranked[:k] {
		tier := m.hashTier(match.Distance)
		if !gated && tier == TierHigh {
			tier = TierMedium
		}
		out = append(out, Candidate{
			Card:         m.cards[match.CardID],
			HashDistance: match.Distance,
			Tier:         tier,
		})
	}
	return out
}

// rerankByEmbedding re-ranks the hash shortlist by cosine similarity. Any
// failure along the way degrades to the hash-only ranking; identification
// never aborts because the model is missing or slow.
func (m *Matcher) rerankByEmbedding(ctx context.Context, scan *preprocess.Result, ranked []imagehash.Match) ([]Candidate, bool) {
	if m.embedder == nil || m.vectors == nil || m.vectors.Empty() {
		return m.hashCandidates(ranked, false), false
	}
	if err := ctx.Err(); err != nil {
		return m.hashCandidates(ranked, false), false
	}

	query, err := m.embedder.Embed(scan.Embed)
	if err != nil {
		m.log.Warn("embedding unavailable, falling back to hash ranking", "error", err)
		return m.hashCandidates(ranked, false), false
	}

	shortlist := ranked[:min(m.cfg.ShortlistSize, len(ranked))]
	ids := make([]string, len(shortlist))
	hashDist := make(map[string]float64, len(shortlist))
	for i, match := range shortlist {
		ids[i] = match.CardID
		hashDist[match.CardID] = match.Distance
	}

	sims, err := m.vectors.Rank(query, ids)
	if err != nil {
		m.log.Warn("embedding rank failed, falling back to hash ranking", "error", err)
		return m.hashCandidates(ranked, false), false
	}

	// Similarity-ranked cards first; shortlist cards without a stored
	// embedding follow in hash order so a coverage gap costs rank, not
	// presence.
	out := make([]Candidate, 0, m.cfg.TopK)
	seen := make(map[string]bool, len(sims))
	for _, s := range sims {
		if len(out) == m.cfg.TopK {
			break
		}
		seen[s.CardID] = true
		out = append(out, Candidate{
			Card:         m.cards[s.CardID],
			HashDistance: hashDist[s.CardID],
			Similarity:   s.Similarity,
			Embedded:     true,
			Tier:         m.similarityTier(s.Similarity),
		})
	}
	for _, match := range shortlist {
		if len(out) == m.cfg.TopK {
			break
		}
		if seen[match.CardID] {
			continue
		}
		tier := m.hashTier(match.Distance)
		if tier == TierHigh {
			tier = TierMedium
		}
		out = append(out, Candidate{
			Card:         m.cards[match.CardID],
			HashDistance: match.Distance,
			Tier:         tier,
		})
	}
	return out, true
}

// applyCollectorNumber reads the number strip and flags candidates whose
// catalog number agrees. The flag is an annotation only; ranking is never
// changed by an OCR reading.
func (m *Matcher) applyCollectorNumber(res *Result, scan *preprocess.Result) {
	if m.reader == nil || len(res.Candidates) == 0 {
		return
	}
	num, ok, err := m.reader.ReadCollectorNumber(scan.Hash)
	if err != nil {
		m.log.Debug("collector number OCR failed", "error", err)
		return
	}
	if !ok {
		return
	}
	res.CollectorNumber = &num

	want := strconv.Itoa(num.Number)
	for i := range res.Candidates {
		if res.Candidates[i].Card.Number == want {
			res.Candidates[i].NumberMatch = true
		}
	}
}

func (m *Matcher) hashTier(distance float64) Tier {
	switch {
	case distance <= m.cfg.HighConfidence:
		return TierHigh
	case distance <= m.cfg.MedConfidence:
		return TierMedium
	default:
		return TierLow
	}
}

func (m *Matcher) similarityTier(similarity float64) Tier {
	switch {
	case similarity >= m.embCfg.HighSimilarity:
		return TierHigh
	case similarity >= m.embCfg.MedSimilarity:
		return TierMedium
	default:
		return TierLow
	}
}
