// Package cache implements the tiered semantic cache: a bounded store of
// query embeddings and responses, answered by cosine-similarity band rather
// than a single hit/miss boundary.
package cache

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/embed"
	"github.com/lazypower/recall/internal/metrics"
)

// Tier classifies how close a cached query is to the incoming one.
type Tier string

const (
	TierExact      Tier = "exact"      // sim >= exact threshold: cached response verbatim
	TierNear       Tier = "near"       // [near, exact): cached response, marked approximate
	TierSuggestion Tier = "suggestion" // [suggest, near): hint only, fresh pipeline still runs
	TierMiss       Tier = "miss"
)

// Response is the cached payload. Entries are owned exclusively by the cache.
type Response struct {
	Text          string
	CitedChunkIDs []string
	CreatedAt     time.Time
}

// indexEntry is the similarity-scan record for one stored response. The
// payload itself lives in ristretto under the entry id; when ristretto has
// evicted or expired it, the index entry is pruned lazily.
type indexEntry struct {
	id        string
	embedding []float32
	storedAt  time.Time
}

// Semantic is the tiered semantic cache. ristretto provides the LRU-style
// capacity bound and TTL expiry; the embedding index provides the scan set.
type Semantic struct {
	cfg     config.CacheConfig
	backing *ristretto.Cache

	mu    sync.Mutex
	index []indexEntry
}

// New creates a semantic cache sized by cfg.MaxItems with cfg.TTL expiry.
func New(cfg config.CacheConfig) (*Semantic, error) {
	backing, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxItems * 10,
		MaxCost:     cfg.MaxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init cache backing: %w", err)
	}
	return &Semantic{cfg: cfg, backing: backing}, nil
}

// NormalizeQuery lower-cases and whitespace-collapses query text so
// near-identical phrasing converges before embedding.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Lookup scans stored embeddings for the best cosine match to the query
// embedding and classifies it into a tier. Bands are inclusive on the low
// side: sim >= exact is TierExact, [near, exact) TierNear, [suggest, near)
// TierSuggestion, below TierMiss (response nil).
func (s *Semantic) Lookup(queryEmbedding []float32) (*Response, Tier) {
	resp, tier := s.lookup(queryEmbedding)
	metrics.CacheLookups.WithLabelValues(string(tier)).Inc()
	return resp, tier
}

func (s *Semantic) lookup(queryEmbedding []float32) (*Response, Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Best-first: sort candidate sims above the suggestion floor, then walk
	// them until one still has a live payload.
	type scored struct {
		idx int
		sim float64
	}
	var candidates []scored
	for i := range s.index {
		sim := embed.CosineSimilarity(queryEmbedding, s.index[i].embedding)
		if sim >= s.cfg.Suggest {
			candidates = append(candidates, scored{idx: i, sim: sim})
		}
	}
	if len(candidates) == 0 {
		return nil, TierMiss
	}
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].sim > candidates[j-1].sim; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	var dead []int
	defer func() { s.pruneLocked(dead) }()

	for _, c := range candidates {
		value, ok := s.backing.Get(s.index[c.idx].id)
		if !ok {
			dead = append(dead, c.idx)
			continue
		}
		return value.(*Response), s.tierOf(c.sim)
	}
	return nil, TierMiss
}

// tierOf classifies a similarity against the configured bands. Each band is
// inclusive at its lower threshold: sim equal to Exact is TierExact, equal to
// Near is TierNear, equal to Suggest is TierSuggestion.
func (s *Semantic) tierOf(sim float64) Tier {
	switch {
	case sim >= s.cfg.Exact:
		return TierExact
	case sim >= s.cfg.Near:
		return TierNear
	case sim >= s.cfg.Suggest:
		return TierSuggestion
	default:
		return TierMiss
	}
}

// Store records a response under the query embedding. Callers run it off the
// response path; a rejected write is logged, never an error.
func (s *Semantic) Store(queryEmbedding []float32, resp *Response) {
	id := uuid.NewString()
	resp.CreatedAt = time.Now()

	if !s.backing.SetWithTTL(id, resp, 1, time.Duration(s.cfg.TTL)) {
		log.Printf("cache: write rejected for entry %s", id)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = append(s.index, indexEntry{id: id, embedding: queryEmbedding, storedAt: resp.CreatedAt})

	// Keep the scan set bounded alongside ristretto's cost bound.
	if int64(len(s.index)) > s.cfg.MaxItems {
		over := int64(len(s.index)) - s.cfg.MaxItems
		for _, e := range s.index[:over] {
			s.backing.Del(e.id)
		}
		s.index = append([]indexEntry(nil), s.index[over:]...)
	}
}

// Len returns the size of the similarity scan set.
func (s *Semantic) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Wait flushes pending ristretto writes. Tests call this between Store and
// Lookup; production code never needs it.
func (s *Semantic) Wait() {
	s.backing.Wait()
}

// Close releases the backing cache.
func (s *Semantic) Close() {
	s.backing.Close()
}

// pruneLocked removes index entries whose payloads ristretto no longer holds.
// Indices must be pruned descending so earlier removals don't shift later ones.
func (s *Semantic) pruneLocked(dead []int) {
	if len(dead) == 0 {
		return
	}
	for i := 1; i < len(dead); i++ {
		for j := i; j > 0 && dead[j] > dead[j-1]; j-- {
			dead[j], dead[j-1] = dead[j-1], dead[j]
		}
	}
	for _, idx := range dead {
		s.index = append(s.index[:idx], s.index[idx+1:]...)
	}
}
