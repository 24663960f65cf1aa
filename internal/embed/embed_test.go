package embed

import (
	"context"
	"math"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"a b c", nil},
		{"snake_case and kebab-case", []string{"snake_case", "and", "kebab-case"}},
		{"", nil},
		{"version 2.0 release", []string{"version", "release"}},
	}
	for _, tt := range tests {
		got := Tokenize(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHashEmbedder(64)

	a, err := h.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := h.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same text produced different embeddings")
	}
	if len(a) != 64 {
		t.Errorf("dims = %d, want 64", len(a))
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("embedding not normalized, norm² = %v", norm)
	}
}

func TestHashEmbedderSimilarity(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()

	base, _ := h.Embed(ctx, "the user prefers dark roast coffee")
	close_, _ := h.Embed(ctx, "the user prefers light roast coffee")
	far, _ := h.Embed(ctx, "quarterly revenue exceeded projections")

	if CosineSimilarity(base, close_) <= CosineSimilarity(base, far) {
		t.Errorf("overlapping text should score above unrelated text")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("identical vectors sim = %v, want 1", sim)
	}
	if sim := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); sim != 0 {
		t.Errorf("orthogonal vectors sim = %v, want 0", sim)
	}
	if sim := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); sim != 0 {
		t.Errorf("mismatched dims sim = %v, want 0", sim)
	}
	if sim := CosineSimilarity([]float32{0, 0}, []float32{0, 0}); sim != 0 {
		t.Errorf("zero vectors sim = %v, want 0", sim)
	}
}
