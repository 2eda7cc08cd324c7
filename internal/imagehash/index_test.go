package imagehash

import (
	"reflect"
	"testing"
)

// mustFP parses a hex fingerprint or fails the test.
func mustFP(t *testing.T, s string) Fingerprint {
	t.Helper()
	fp, err := FromHex(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return fp
}

func TestRankKindConcreteScenario(t *testing.T) {
	// Reference scenario: A=0000, B=0003, C=00FF over 16-bit fingerprints.
	ix, err := NewIndex(2, nil, []Entry{
		{CardID: "A", Kind: KindPHash, Fingerprint: mustFP(t, "0000")},
		{CardID: "B", Kind: KindPHash, Fingerprint: mustFP(t, "0003")},
		{CardID: "C", Kind: KindPHash, Fingerprint: mustFP(t, "00ff")},
	})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	matches, err := ix.RankKind(KindPHash, mustFP(t, "0000"))
	if err != nil {
		t.Fatalf("rank: %v", err)
	}

	want := []Match{{"A", 0}, {"B", 2}, {"C", 8}}
	if !reflect.DeepEqual(matches, want) {
		t.Fatalf("ranking = %+v, want %+v", matches, want)
	}
}

func TestRankKindTieBreakByCardID(t *testing.T) {
	ix, err := NewIndex(1, nil, []Entry{
		{CardID: "zz", Kind: KindAHash, Fingerprint: Fingerprint{0x01}},
		{CardID: "aa", Kind: KindAHash, Fingerprint: Fingerprint{0x02}},
		{CardID: "mm", Kind: KindAHash, Fingerprint: Fingerprint{0x04}},
	})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	// Every stored fingerprint is one bit away from the query.
	matches, err := ix.RankKind(KindAHash, Fingerprint{0x00})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}

	got := []string{matches[0].CardID, matches[1].CardID, matches[2].CardID}
	want := []string{"aa", "mm", "zz"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tie order = %v, want %v", got, want)
	}
}

func TestRankingIsIdempotent(t *testing.T) {
	entries := []Entry{
		{CardID: "a", Kind: KindPHash, Fingerprint: Fingerprint{0x0F}},
		{CardID: "b", Kind: KindPHash, Fingerprint: Fingerprint{0xF0}},
		{CardID: "c", Kind: KindPHash, Fingerprint: Fingerprint{0x0F}},
		{CardID: "a", Kind: KindAHash, Fingerprint: Fingerprint{0x00}},
		{CardID: "b", Kind: KindAHash, Fingerprint: Fingerprint{0xFF}},
	}
	ix, err := NewIndex(1, nil, entries)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	queries := map[string]Fingerprint{
		KindPHash: {0x0F},
		KindAHash: {0x00},
	}

	first := Rank(ix.Distances(queries))
	for run := 0; run < 5; run++ {
		again := Rank(ix.Distances(queries))
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d: ranking changed: %+v vs %+v", run, first, again)
		}
	}
}

func TestDistancesWeightedCombination(t *testing.T) {
	// One card, distances: phash=4 bits, ahash=0 bits.
	// Weighted mean = (4*2 + 0*1) / 3.
	ix, err := NewIndex(1, DefaultWeights(), []Entry{
		{CardID: "x", Kind: KindPHash, Fingerprint: Fingerprint{0x0F}},
		{CardID: "x", Kind: KindAHash, Fingerprint: Fingerprint{0x00}},
	})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	distances := ix.Distances(map[string]Fingerprint{
		KindPHash: {0x00},
		KindAHash: {0x00},
	})

	want := (4.0*2 + 0.0*1) / 3.0
	if got := distances["x"]; got != want {
		t.Fatalf("combined distance = %v, want %v", got, want)
	}
}

func TestDistancesSkipsMissingKinds(t *testing.T) {
	// Card "partial" has no phash row; its score uses ahash only.
	ix, err := NewIndex(1, DefaultWeights(), []Entry{
		{CardID: "full", Kind: KindPHash, Fingerprint: Fingerprint{0xFF}},
		{CardID: "full", Kind: KindAHash, Fingerprint: Fingerprint{0xFF}},
		{CardID: "partial", Kind: KindAHash, Fingerprint: Fingerprint{0x00}},
	})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	distances := ix.Distances(map[string]Fingerprint{
		KindPHash: {0x00},
		KindAHash: {0x00},
	})

	if got := distances["partial"]; got != 0 {
		t.Fatalf("partial distance = %v, want 0 (ahash only)", got)
	}
	if got := distances["full"]; got != 8 {
		t.Fatalf("full distance = %v, want 8", got)
	}
}

func TestNewIndexRejectsDuplicates(t *testing.T) {
	_, err := NewIndex(1, nil, []Entry{
		{CardID: "a", Kind: KindPHash, Fingerprint: Fingerprint{0x00}},
		{CardID: "a", Kind: KindPHash, Fingerprint: Fingerprint{0x01}},
	})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestNewIndexExcludesCorruptWidths(t *testing.T) {
	ix, err := NewIndex(2, nil, []Entry{
		{CardID: "good", Kind: KindPHash, Fingerprint: Fingerprint{0x00, 0x00}},
		{CardID: "bad", Kind: KindPHash, Fingerprint: Fingerprint{0x00}},
	})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if ix.Len() != 1 {
		t.Fatalf("len = %d, want 1 (corrupt row excluded)", ix.Len())
	}
}

func TestEmptyIndex(t *testing.T) {
	ix, err := NewIndex(2, nil, nil)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if !ix.Empty() {
		t.Fatal("expected empty index")
	}
	matches, err := ix.RankKind(KindPHash, Fingerprint{0x00, 0x00})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}
