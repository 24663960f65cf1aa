package index

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Vector is an approximate-nearest-neighbor index over chunk embeddings,
// backed by an in-process chromem-go collection. SQLite remains the durable
// copy; this index is rebuilt from store.AllChunks at startup.
type Vector struct {
	mu  sync.RWMutex
	col *chromem.Collection
	n   int
}

// NewVector creates an empty vector index.
func NewVector() (*Vector, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection("chunks", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create chunk collection: %w", err)
	}
	return &Vector{col: col}, nil
}

// Add indexes a chunk embedding under its id.
func (v *Vector) Add(ctx context.Context, chunkID string, embedding []float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	doc := chromem.Document{
		ID:        chunkID,
		Content:   chunkID, // content is unused; chunks live in the store
		Embedding: embedding,
	}
	if err := v.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	v.n++
	return nil
}

// Len returns the number of indexed embeddings.
func (v *Vector) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.n
}

// Search returns up to n chunks ranked by cosine similarity to the query
// embedding. chromem requires nResults <= collection size, so n is clamped.
func (v *Vector) Search(ctx context.Context, embedding []float32, n int) ([]Hit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if n > v.n {
		n = v.n
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := v.col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ChunkID: r.ID, Score: float64(r.Similarity)})
	}
	return hits, nil
}
