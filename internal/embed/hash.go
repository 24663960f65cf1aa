package embed

import (
	"context"
	"hash/fnv"
	"strings"
)

// HashEmbedder generates deterministic bag-of-words embeddings by hashing
// tokens into a fixed number of buckets. It needs no model, no corpus, and no
// network, which makes it the fallback when Ollama is unreachable and the
// embedder of choice in tests. Similar texts share tokens and therefore
// buckets, so cosine similarity behaves sensibly for overlap-based matching.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder with the given dimension count.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Model() string   { return "hash" }
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed hashes each token into a bucket and L2-normalizes the counts.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[int(f.Sum32())%h.dims]++
	}
	Normalize(vec)
	return vec, nil
}

// Tokenize splits text into lowercase tokens, stripping punctuation.
// Single-character tokens are dropped.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 {
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
