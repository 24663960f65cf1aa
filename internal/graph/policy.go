package graph

import "github.com/lazypower/recall/internal/store"

// NodeInput is a fact candidate arriving from extraction.
type NodeInput struct {
	Kind       string
	Content    string
	Summary    string
	Embedding  []float32
	Confidence float64
	Importance float64
	Source     string
}

// MergeDecision is a MergePolicy's verdict for one existing node.
type MergeDecision struct {
	Merge      bool
	Confidence float64 // blended confidence to apply when merging
}

// MergePolicy decides whether an incoming fact reinforces an existing node
// instead of inserting a duplicate. It is a tagged decision point: swap the
// policy without touching storage logic.
type MergePolicy func(existing store.MemNode, incoming NodeInput, similarity float64) MergeDecision

// SimilarityMerge is the default policy: same kind and cosine similarity at
// or above threshold reinforces, blending confidence as max(old, new).
func SimilarityMerge(threshold float64) MergePolicy {
	return func(existing store.MemNode, incoming NodeInput, similarity float64) MergeDecision {
		if existing.Kind != incoming.Kind || similarity < threshold {
			return MergeDecision{}
		}
		conf := existing.Confidence
		if incoming.Confidence > conf {
			conf = incoming.Confidence
		}
		return MergeDecision{Merge: true, Confidence: conf}
	}
}
