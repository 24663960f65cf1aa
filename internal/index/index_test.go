package index

import (
	"context"
	"testing"

	"github.com/lazypower/recall/internal/embed"
)

func TestLexicalRanking(t *testing.T) {
	l := NewLexical()
	l.Add("c1", "the cache stores responses")
	l.Add("c2", "cache cache cache eviction policy for the cache")
	l.Add("c3", "graph traversal with hop limits")

	hits, err := l.Search(context.Background(), "cache", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ChunkID != "c2" {
		t.Errorf("top hit = %s, want c2 (higher term frequency)", hits[0].ChunkID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not sorted by score at %d", i)
		}
	}
}

func TestLexicalReplaceAndRemove(t *testing.T) {
	l := NewLexical()
	l.Add("c1", "alpha beta")
	l.Add("c1", "gamma delta")

	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after re-add", l.Len())
	}

	hits, _ := l.Search(context.Background(), "alpha", 10)
	if len(hits) != 0 {
		t.Errorf("old terms still searchable after re-add")
	}
	hits, _ = l.Search(context.Background(), "gamma", 10)
	if len(hits) != 1 {
		t.Errorf("new terms not searchable after re-add")
	}

	l.Remove("c1")
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0 after remove", l.Len())
	}
}

func TestLexicalEmptyQuery(t *testing.T) {
	l := NewLexical()
	l.Add("c1", "some text")

	hits, err := l.Search(context.Background(), "!!!", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits != nil {
		t.Errorf("punctuation-only query returned hits")
	}
}

func TestVectorSearch(t *testing.T) {
	v, err := NewVector()
	if err != nil {
		t.Fatalf("NewVector: %v", err)
	}
	ctx := context.Background()
	h := embed.NewHashEmbedder(64)

	texts := map[string]string{
		"c1": "coffee brewing methods and grind size",
		"c2": "espresso extraction pressure profiles",
		"c3": "kubernetes cluster autoscaling limits",
	}
	for id, text := range texts {
		vec, _ := h.Embed(ctx, text)
		if err := v.Add(ctx, id, vec); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	if v.Len() != 3 {
		t.Fatalf("Len = %d, want 3", v.Len())
	}

	query, _ := h.Embed(ctx, "coffee grind size for brewing")
	hits, err := v.Search(ctx, query, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ChunkID != "c1" {
		t.Errorf("top hit = %s, want c1", hits[0].ChunkID)
	}
}

func TestVectorSearchClampsN(t *testing.T) {
	v, err := NewVector()
	if err != nil {
		t.Fatalf("NewVector: %v", err)
	}
	ctx := context.Background()
	h := embed.NewHashEmbedder(64)

	vec, _ := h.Embed(ctx, "only one document here")
	if err := v.Add(ctx, "c1", vec); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Asking for more results than documents must not error.
	hits, err := v.Search(ctx, vec, 50)
	if err != nil {
		t.Fatalf("Search with n > len: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}

func TestVectorSearchEmpty(t *testing.T) {
	v, err := NewVector()
	if err != nil {
		t.Fatalf("NewVector: %v", err)
	}
	hits, err := v.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty index: %v", err)
	}
	if hits != nil {
		t.Errorf("empty index returned hits")
	}
}
