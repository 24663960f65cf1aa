// Package search implements the fusion and rerank engine: concurrent lexical
// and vector sub-searches merged with weighted reciprocal-rank fusion, an
// optional fail-open reranking pass, and context expansion of the survivors.
package search

import (
	"context"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/index"
	"github.com/lazypower/recall/internal/metrics"
	"github.com/lazypower/recall/internal/store"
)

// Candidate is one fused, ranked result.
type Candidate struct {
	ChunkID string
	Score   float64
}

// Engine fuses the lexical and vector indexes over the chunk store.
type Engine struct {
	DB       *store.DB
	Lexical  *index.Lexical
	Vector   *index.Vector
	Reranker Reranker // optional; nil disables reranking
	Config   config.SearchConfig
}

// NewEngine creates a fusion engine over the given indexes.
func NewEngine(db *store.DB, lex *index.Lexical, vec *index.Vector, cfg config.SearchConfig) *Engine {
	return &Engine{DB: db, Lexical: lex, Vector: vec, Config: cfg}
}

// Search returns up to k chunks ranked by weighted reciprocal-rank fusion of
// the two sub-indexes, reranked when a reranker is configured. A sub-index
// timeout or error degrades that list to empty; both lists empty yields an
// empty result, not an error.
func (e *Engine) Search(ctx context.Context, queryText string, queryEmbedding []float32, k int) ([]Candidate, error) {
	if k < 1 {
		k = 1
	}
	fetch := 4 * k
	if fetch < 20 {
		fetch = 20
	}

	var lexHits, vecHits []index.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.subSearch(gctx, "lexical", func(c context.Context) ([]index.Hit, error) {
			return e.Lexical.Search(c, queryText, fetch)
		})
		lexHits = hits
		return err
	})
	g.Go(func() error {
		hits, err := e.subSearch(gctx, "vector", func(c context.Context) ([]index.Hit, error) {
			return e.Vector.Search(c, queryEmbedding, fetch)
		})
		vecHits = hits
		return err
	})
	g.Wait() // sub-search errors degrade, never propagate

	if len(lexHits) == 0 && len(vecHits) == 0 {
		return nil, nil
	}

	lexWeight, vecWeight := 1.0, 1.0
	switch Classify(queryText) {
	case KeywordHeavy:
		lexWeight *= e.Config.LexicalBoost
	case Semantic:
		vecWeight *= e.Config.SemanticBoost
	}

	fused := e.fuse(lexHits, vecHits, lexWeight, vecWeight)
	fused = e.rerank(ctx, queryText, fused, k)

	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// subSearch runs one sub-index query under its own deadline. Any failure is
// logged and degraded to an empty list.
func (e *Engine) subSearch(ctx context.Context, name string, fn func(context.Context) ([]index.Hit, error)) ([]index.Hit, error) {
	subCtx, cancel := context.WithTimeout(ctx, time.Duration(e.Config.SubTimeout))
	defer cancel()

	hits, err := fn(subCtx)
	if err != nil {
		log.Printf("search: %s sub-search degraded: %v", name, err)
		metrics.DegradedSubSearches.WithLabelValues(name).Inc()
		return nil, nil
	}
	return hits, nil
}

// fuse merges the ranked lists with weighted reciprocal-rank fusion:
// score = Σ weight / (rank + C) over the lists containing the candidate,
// with 1-based ranks. Ties break by document recency, then chunk id.
func (e *Engine) fuse(lexHits, vecHits []index.Hit, lexWeight, vecWeight float64) []Candidate {
	c := e.Config.RRFConstant
	scores := make(map[string]float64)
	for rank, h := range lexHits {
		scores[h.ChunkID] += lexWeight / (float64(rank+1) + c)
	}
	for rank, h := range vecHits {
		scores[h.ChunkID] += vecWeight / (float64(rank+1) + c)
	}

	recency := e.chunkRecency(scores)

	fused := make([]Candidate, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, Candidate{ChunkID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if recency[a.ChunkID] != recency[b.ChunkID] {
			return recency[a.ChunkID] > recency[b.ChunkID]
		}
		return a.ChunkID < b.ChunkID
	})
	return fused
}

// chunkRecency maps candidate ids to their chunk created_at for tie-breaking.
func (e *Engine) chunkRecency(scores map[string]float64) map[string]int64 {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	recency := make(map[string]int64, len(ids))
	chunks, err := e.DB.GetChunks(ids)
	if err != nil {
		log.Printf("search: recency lookup failed: %v", err)
		return recency
	}
	for _, c := range chunks {
		recency[c.ID] = c.CreatedAt
	}
	return recency
}

// rerank passes the top min(50, 4k) fused candidates through the configured
// reranker and reorders them by its scores. Any reranker failure keeps the
// fusion order (fail-open).
func (e *Engine) rerank(ctx context.Context, queryText string, fused []Candidate, k int) []Candidate {
	if e.Reranker == nil || len(fused) == 0 {
		return fused
	}

	top := 4 * k
	if top > 50 {
		top = 50
	}
	if top > len(fused) {
		top = len(fused)
	}
	head, tail := fused[:top], fused[top:]

	ids := make([]string, len(head))
	for i, c := range head {
		ids[i] = c.ChunkID
	}
	chunks, err := e.DB.GetChunks(ids)
	if err != nil {
		log.Printf("search: rerank text fetch failed, keeping fusion order: %v", err)
		return fused
	}
	texts := make(map[string]string, len(chunks))
	for _, c := range chunks {
		texts[c.ID] = c.Text
	}

	docs := make([]RerankDoc, 0, len(head))
	for _, c := range head {
		docs = append(docs, RerankDoc{ChunkID: c.ChunkID, Text: texts[c.ChunkID]})
	}

	start := time.Now()
	rescored, err := e.Reranker.Rerank(ctx, queryText, docs)
	if err != nil {
		log.Printf("search: rerank failed after %s, keeping fusion order: %v", time.Since(start), err)
		return fused
	}

	byID := make(map[string]float64, len(rescored))
	for _, r := range rescored {
		byID[r.ChunkID] = r.Score
	}

	reranked := make([]Candidate, len(head))
	copy(reranked, head)
	for i := range reranked {
		if score, ok := byID[reranked[i].ChunkID]; ok {
			reranked[i].Score = score
		}
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})

	return append(reranked, tail...)
}
