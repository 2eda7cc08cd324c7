package embed

import (
	"math"
	"testing"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{1.5, -0.25, 0, 3.125e-7}
	decoded, err := DecodeVector(EncodeVector(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("length = %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Fatalf("element %d = %v, want %v", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeVectorRejectsBadLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for non-multiple-of-4 blob")
	}
}

func TestDecodeVectorEmpty(t *testing.T) {
	vec, err := DecodeVector(nil)
	if err != nil || vec != nil {
		t.Fatalf("decode nil = %v, %v", vec, err)
	}
}

func TestNormalize(t *testing.T) {
	vec := Normalize([]float32{3, 4})
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Fatalf("norm^2 = %v, want 1", norm)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector changed: %v", zero)
	}
}

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	if err != nil {
		t.Fatalf("cosine: %v", err)
	}
	if math.Abs(sim-1) > 1e-9 {
		t.Fatalf("identical vectors similarity = %v, want 1", sim)
	}

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("cosine: %v", err)
	}
	if math.Abs(sim) > 1e-9 {
		t.Fatalf("orthogonal vectors similarity = %v, want 0", sim)
	}

	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if _, err := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); err == nil {
		t.Fatal("expected zero-magnitude error")
	}
}
