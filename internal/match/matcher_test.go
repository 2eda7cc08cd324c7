package match

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"card-scanner/internal/catalog"
	"card-scanner/internal/config"
	"card-scanner/internal/embed"
	"card-scanner/internal/imagehash"
	"card-scanner/internal/logging"
	"card-scanner/internal/preprocess"
)

func gradientImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / w)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func checkerImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if (x/8+y/8)%2 == 0 {
				v = 255
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(image.Image) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]float32, len(s.vec))
	copy(out, s.vec)
	return out, nil
}

func (s *stubEmbedder) Dim() int { return len(s.vec) }

// fingerprintEntries hashes img with all four algorithms for one card.
func fingerprintEntries(t *testing.T, hasher *imagehash.Hasher, cardID string, img image.Image) []imagehash.Entry {
	t.Helper()
	var entries []imagehash.Entry
	for kind, fp := range hasher.All(img) {
		entries = append(entries, imagehash.Entry{CardID: cardID, Kind: kind, Fingerprint: fp})
	}
	return entries
}

type fixture struct {
	cfg    config.Config
	hasher *imagehash.Hasher
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	hasher, err := imagehash.NewHasher(cfg.Hash.Size)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return &fixture{
		cfg:    cfg,
		hasher: hasher,
		deps: Deps{
			Preprocessor: preprocess.New(cfg, logging.Nop()),
			Hasher:       hasher,
			Logger:       logging.Nop(),
		},
	}
}

func (f *fixture) matcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := New(f.cfg, f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func (f *fixture) withCards(t *testing.T, cards ...catalog.Card) {
	t.Helper()
	f.deps.Cards = cards
}

func (f *fixture) withFullIndex(t *testing.T, entries []imagehash.Entry) {
	t.Helper()
	ix, err := imagehash.NewIndex(f.hasher.FingerprintBytes(), imagehash.DefaultWeights(), entries)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	f.deps.Full = ix
}

func scanOf(img image.Image) *preprocess.Result {
	return &preprocess.Result{Hash: img, Embed: img}
}

func stickeredScanOf(img image.Image) *preprocess.Result {
	return &preprocess.Result{Hash: img, Embed: img, StickerRemoved: true}
}

// artEntriesOf hashes the illustration band of img for one card.
func artEntriesOf(t *testing.T, f *fixture, cardID string, img image.Image) []imagehash.Entry {
	t.Helper()
	crop := preprocess.CropArtZone(img, f.cfg.Hash.ArtZoneTop, f.cfg.Hash.ArtZoneBottom)
	var entries []imagehash.Entry
	for kind, fp := range f.hasher.All(crop) {
		entries = append(entries, imagehash.Entry{
			CardID:      cardID,
			Kind:        imagehash.ArtKind(kind),
			Fingerprint: fp,
		})
	}
	return entries
}

func (f *fixture) withArtIndex(t *testing.T, entries []imagehash.Entry) {
	t.Helper()
	ix, err := imagehash.NewIndex(f.hasher.FingerprintBytes(), imagehash.DefaultWeights(), entries)
	if err != nil {
		t.Fatalf("art NewIndex: %v", err)
	}
	f.deps.Art = ix
}

func TestIdentifyScanEmptyIndexYieldsNoCandidates(t *testing.T) {
	f := newFixture(t)
	f.withFullIndex(t, nil)
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), scanOf(gradientImage(300, 420)))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if len(res.Candidates) != 0 {
		t.Fatalf("empty index returned %d candidates", len(res.Candidates))
	}
}

func TestIdentifyScanHashOnlySkipsEmbedding(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)
	check := checkerImage(300, 420)

	entries := fingerprintEntries(t, f.hasher, "swsh1-1", grad)
	entries = append(entries, fingerprintEntries(t, f.hasher, "swsh1-2", check)...)
	f.withFullIndex(t, entries)
	f.withCards(t,
		catalog.Card{ID: "swsh1-1", SetID: "swsh1", Name: "Grad"},
		catalog.Card{ID: "swsh1-2", SetID: "swsh1", Name: "Check"},
	)

	stub := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	f.deps.Embedder = stub
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), scanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if res.EmbeddingUsed {
		t.Errorf("embedding ran despite an exact hash match")
	}
	if stub.calls != 0 {
		t.Errorf("embedder called %d times, want 0", stub.calls)
	}
	if len(res.Candidates) == 0 {
		t.Fatal("no candidates")
	}
	best := res.Candidates[0]
	if best.Card.ID != "swsh1-1" {
		t.Errorf("best candidate = %s, want swsh1-1", best.Card.ID)
	}
	if best.HashDistance != 0 {
		t.Errorf("best distance = %v, want 0", best.HashDistance)
	}
	if best.Tier != TierHigh {
		t.Errorf("best tier = %s, want high", best.Tier)
	}
}

func TestIdentifyScanAmbiguousHashTriggersEmbedding(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)

	// Two cards sharing the same fingerprints: zero margin forces the
	// embedding stage.
	entries := fingerprintEntries(t, f.hasher, "base1-4", grad)
	entries = append(entries, fingerprintEntries(t, f.hasher, "base1-9", grad)...)
	f.withFullIndex(t, entries)
	f.withCards(t,
		catalog.Card{ID: "base1-4", SetID: "base1", Number: "4"},
		catalog.Card{ID: "base1-9", SetID: "base1", Number: "9"},
	)

	vectors, err := embed.NewIndex([]embed.Row{
		{CardID: "base1-4", Vector: []float32{0, 1, 0, 0}},
		{CardID: "base1-9", Vector: []float32{1, 0, 0, 0}},
	})
	if err != nil {
		t.Fatalf("embed.NewIndex: %v", err)
	}
	f.deps.Vectors = vectors
	stub := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	f.deps.Embedder = stub
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), scanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if !res.EmbeddingUsed {
		t.Fatal("embedding stage did not run")
	}
	if stub.calls != 1 {
		t.Errorf("embedder called %d times, want 1", stub.calls)
	}
	best := res.Candidates[0]
	if best.Card.ID != "base1-9" {
		t.Errorf("best candidate = %s, want base1-9", best.Card.ID)
	}
	if !best.Embedded {
		t.Errorf("best candidate missing embedding signal")
	}
	if best.Similarity < 0.99 {
		t.Errorf("best similarity = %v, want ~1", best.Similarity)
	}
	if best.Tier != TierHigh {
		t.Errorf("best tier = %s, want high", best.Tier)
	}
}

func TestIdentifyScanDegradesWithoutEmbedder(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)

	entries := fingerprintEntries(t, f.hasher, "base1-4", grad)
	entries = append(entries, fingerprintEntries(t, f.hasher, "base1-9", grad)...)
	f.withFullIndex(t, entries)
	f.withCards(t,
		catalog.Card{ID: "base1-4", SetID: "base1"},
		catalog.Card{ID: "base1-9", SetID: "base1"},
	)
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), scanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if res.EmbeddingUsed {
		t.Errorf("embedding marked used without an embedder")
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(res.Candidates))
	}
	// A zero distance would rank high, but an ambiguous hash ranking
	// without the embedding signal must not claim the top tier.
	if res.Candidates[0].Tier != TierMedium {
		t.Errorf("tier = %s, want medium", res.Candidates[0].Tier)
	}
	// Equal distances break ties by card id.
	if res.Candidates[0].Card.ID != "base1-4" {
		t.Errorf("tie-break order wrong: %s first", res.Candidates[0].Card.ID)
	}
}

func TestIdentifyScanEmbedderFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)

	entries := fingerprintEntries(t, f.hasher, "base1-4", grad)
	entries = append(entries, fingerprintEntries(t, f.hasher, "base1-9", grad)...)
	f.withFullIndex(t, entries)
	f.withCards(t,
		catalog.Card{ID: "base1-4", SetID: "base1"},
		catalog.Card{ID: "base1-9", SetID: "base1"},
	)
	vectors, err := embed.NewIndex([]embed.Row{
		{CardID: "base1-4", Vector: []float32{0, 1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("embed.NewIndex: %v", err)
	}
	f.deps.Vectors = vectors
	f.deps.Embedder = &stubEmbedder{vec: []float32{1, 0, 0, 0}, err: errors.New("model load failed")}
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), scanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if res.EmbeddingUsed {
		t.Errorf("embedding marked used after a failed inference")
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(res.Candidates))
	}
}

func TestIdentifyScanExcludesConfiguredSetPrefixes(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)
	check := checkerImage(300, 420)

	// The excluded card is the perfect match; it must still never appear.
	entries := fingerprintEntries(t, f.hasher, "P-A-7", grad)
	entries = append(entries, fingerprintEntries(t, f.hasher, "swsh1-1", check)...)
	f.withFullIndex(t, entries)
	f.withCards(t,
		catalog.Card{ID: "P-A-7", SetID: "P-A"},
		catalog.Card{ID: "swsh1-1", SetID: "swsh1"},
	)
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), scanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	for _, c := range res.Candidates {
		if c.Card.ID == "P-A-7" {
			t.Fatalf("excluded card surfaced in results")
		}
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Card.ID != "swsh1-1" {
		t.Errorf("remaining candidates wrong: %+v", res.Candidates)
	}
}

func TestIdentifyScanTruncatesToTopK(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)

	var entries []imagehash.Entry
	var cards []catalog.Card
	ids := []string{"s1-1", "s1-2", "s1-3", "s1-4", "s1-5", "s1-6", "s1-7"}
	for _, id := range ids {
		entries = append(entries, fingerprintEntries(t, f.hasher, id, grad)...)
		cards = append(cards, catalog.Card{ID: id, SetID: "s1"})
	}
	f.withFullIndex(t, entries)
	f.withCards(t, cards...)
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), scanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if len(res.Candidates) != f.cfg.Matcher.TopK {
		t.Errorf("got %d candidates, want %d", len(res.Candidates), f.cfg.Matcher.TopK)
	}
}

func TestIdentifyScanArtZoneRescuesStickeredCard(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)
	check := checkerImage(300, 420)

	// Full-card fingerprints come from a completely different image, as if
	// a sticker corrupted the scan; the art-zone fingerprints match.
	f.withFullIndex(t, fingerprintEntries(t, f.hasher, "swsh1-1", check))
	f.withArtIndex(t, artEntriesOf(t, f, "swsh1-1", grad))
	f.withCards(t, catalog.Card{ID: "swsh1-1", SetID: "swsh1"})
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), stickeredScanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if len(res.Candidates) == 0 {
		t.Fatal("no candidates")
	}
	if res.Candidates[0].HashDistance != 0 {
		t.Errorf("art-zone minimum not applied: distance = %v", res.Candidates[0].HashDistance)
	}
}

func TestIdentifyScanArtZoneIgnoredWithoutSticker(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)
	check := checkerImage(300, 420)

	f.withFullIndex(t, fingerprintEntries(t, f.hasher, "swsh1-1", check))
	f.withArtIndex(t, artEntriesOf(t, f, "swsh1-1", grad))
	f.withCards(t, catalog.Card{ID: "swsh1-1", SetID: "swsh1"})
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), scanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if len(res.Candidates) == 0 {
		t.Fatal("no candidates")
	}
	if res.Candidates[0].HashDistance == 0 {
		t.Error("art-zone minimum applied to a scan without sticker compensation")
	}
}

func TestIdentifyScanPartialArtIndexIsIgnored(t *testing.T) {
	f := newFixture(t)
	grad := gradientImage(300, 420)
	check := checkerImage(300, 420)

	// Both cards carry the same full-card fingerprints; only s1-1 has
	// art-zone rows. An incomplete art index must not hand s1-1 a lower
	// distance than its uncovered twin.
	entries := fingerprintEntries(t, f.hasher, "s1-1", check)
	entries = append(entries, fingerprintEntries(t, f.hasher, "s1-2", check)...)
	f.withFullIndex(t, entries)
	f.withArtIndex(t, artEntriesOf(t, f, "s1-1", grad))
	f.withCards(t,
		catalog.Card{ID: "s1-1", SetID: "s1"},
		catalog.Card{ID: "s1-2", SetID: "s1"},
	)
	m := f.matcher(t)

	res, err := m.IdentifyScan(context.Background(), stickeredScanOf(grad))
	if err != nil {
		t.Fatalf("IdentifyScan: %v", err)
	}
	if len(res.Candidates) < 2 {
		t.Fatalf("got %d candidates, want 2", len(res.Candidates))
	}
	if res.Candidates[0].HashDistance != res.Candidates[1].HashDistance {
		t.Errorf("partial art index skewed distances: %v vs %v",
			res.Candidates[0].HashDistance, res.Candidates[1].HashDistance)
	}
	if res.Candidates[0].Card.ID != "s1-1" {
		t.Errorf("tie-break order wrong: %s first", res.Candidates[0].Card.ID)
	}
}
