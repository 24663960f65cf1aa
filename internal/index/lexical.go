// Package index holds the two chunk indexes the fusion engine searches:
// a BM25 inverted index over chunk text and a chromem-backed ANN index over
// chunk embeddings. Both are read-mostly and safe for concurrent use.
package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/lazypower/recall/internal/embed"
)

// Hit is one ranked result from a sub-index.
type Hit struct {
	ChunkID string
	Score   float64
}

// Lexical is a BM25 inverted index over chunk text.
type Lexical struct {
	mu        sync.RWMutex
	postings  map[string]map[string]int // term -> chunk id -> term frequency
	docLens   map[string]int            // chunk id -> token count
	totalLen  int
	k1, b     float64
}

// NewLexical creates an empty BM25 index with standard parameters
// (k1=1.2, b=0.75).
func NewLexical() *Lexical {
	return &Lexical{
		postings: make(map[string]map[string]int),
		docLens:  make(map[string]int),
		k1:       1.2,
		b:        0.75,
	}
}

// Add indexes a chunk's text under its id. Re-adding an id replaces it.
func (l *Lexical) Add(chunkID, text string) {
	tokens := embed.Tokenize(text)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.docLens[chunkID]; exists {
		l.removeLocked(chunkID)
	}

	for _, tok := range tokens {
		if l.postings[tok] == nil {
			l.postings[tok] = make(map[string]int)
		}
		l.postings[tok][chunkID]++
	}
	l.docLens[chunkID] = len(tokens)
	l.totalLen += len(tokens)
}

// Remove drops a chunk from the index.
func (l *Lexical) Remove(chunkID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(chunkID)
}

func (l *Lexical) removeLocked(chunkID string) {
	n, ok := l.docLens[chunkID]
	if !ok {
		return
	}
	for term, docs := range l.postings {
		if _, ok := docs[chunkID]; ok {
			delete(docs, chunkID)
			if len(docs) == 0 {
				delete(l.postings, term)
			}
		}
	}
	delete(l.docLens, chunkID)
	l.totalLen -= n
}

// Len returns the number of indexed chunks.
func (l *Lexical) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.docLens)
}

// Search returns up to n chunks ranked by BM25 score against the query.
// Chunks sharing no query terms are not returned.
func (l *Lexical) Search(ctx context.Context, query string, n int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := embed.Tokenize(query)
	if len(terms) == 0 || n <= 0 {
		return nil, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	numDocs := len(l.docLens)
	if numDocs == 0 {
		return nil, nil
	}
	avgLen := float64(l.totalLen) / float64(numDocs)

	scores := make(map[string]float64)
	for _, term := range terms {
		docs := l.postings[term]
		if len(docs) == 0 {
			continue
		}
		df := float64(len(docs))
		// Standard BM25 IDF with +1 smoothing to keep it positive.
		idf := math.Log((float64(numDocs)-df+0.5)/(df+0.5) + 1)

		for id, tf := range docs {
			docLen := float64(l.docLens[id])
			norm := l.k1 * (1 - l.b + l.b*docLen/avgLen)
			scores[id] += idf * float64(tf) * (l.k1 + 1) / (float64(tf) + norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ChunkID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}
