// Package graph implements the per-user memory graph: fact nodes with typed
// relationship edges, similarity-seeded multi-hop retrieval, scheduled
// confidence decay, and advisory contradiction detection.
package graph

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/embed"
	"github.com/lazypower/recall/internal/store"
)

// Store wraps the database with graph semantics. Writes for one user are
// serialized through a keyed lock table; different users proceed in parallel.
type Store struct {
	DB     *store.DB
	Policy MergePolicy
	Config config.GraphConfig

	locks  *userLocks
	stopCh chan struct{}
}

// New creates a graph store with the default similarity merge policy.
func New(db *store.DB, cfg config.GraphConfig) *Store {
	return &Store{
		DB:     db,
		Policy: SimilarityMerge(cfg.MergeThreshold),
		Config: cfg,
		locks:  newUserLocks(),
		stopCh: make(chan struct{}),
	}
}

// UpsertNode inserts the fact or, when the merge policy fires against an
// existing active node, reinforces it instead: mention_count increments,
// last_reinforced_at refreshes, and confidence blends per the policy.
// Returns the node id and whether it was a reinforcement.
func (s *Store) UpsertNode(ctx context.Context, userID string, in NodeInput) (string, bool, error) {
	l := s.locks.lock(userID)
	defer l.Unlock()

	nodes, err := s.DB.ActiveNodes(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("upsert node: %w", err)
	}

	bestIdx, bestSim := -1, 0.0
	for i := range nodes {
		if nodes[i].Kind != in.Kind {
			continue
		}
		sim := embed.CosineSimilarity(in.Embedding, nodes[i].Embedding)
		if sim > bestSim {
			bestIdx, bestSim = i, sim
		}
	}

	if bestIdx >= 0 {
		if d := s.Policy(nodes[bestIdx], in, bestSim); d.Merge {
			if err := s.DB.ReinforceNode(nodes[bestIdx].ID, d.Confidence); err != nil {
				return "", false, err
			}
			return nodes[bestIdx].ID, true, nil
		}
	}

	node := &store.MemNode{
		ID:         uuid.NewString(),
		UserID:     userID,
		Kind:       in.Kind,
		Content:    in.Content,
		Summary:    in.Summary,
		Embedding:  in.Embedding,
		Confidence: in.Confidence,
		Importance: in.Importance,
		Source:     in.Source,
	}
	if err := s.DB.InsertNode(node); err != nil {
		return "", false, err
	}
	return node.ID, false, nil
}

// UpsertEdge creates or reinforces a typed relationship between two of the
// user's nodes. Reinforcement averages strength; the store layer repairs any
// duplicate active triple it finds.
func (s *Store) UpsertEdge(userID, sourceID, targetID, relation string, strength float64) error {
	l := s.locks.lock(userID)
	defer l.Unlock()

	if _, err := s.DB.UpsertEdge(userID, sourceID, targetID, relation, strength); err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

// QueryResult is one retrieved memory with its traversal provenance.
type QueryResult struct {
	Node         store.MemNode
	HopDistance  int
	RelationPath []string
	Score        float64
}

// Final-ranking blend weights: similarity, inverse hop distance, importance,
// confidence.
const (
	weightSimilarity = 0.4
	weightHops       = 0.3
	weightImportance = 0.2
	weightConfidence = 0.1
)

// Query retrieves memories for a query embedding. Seeds are active nodes with
// similarity at or above threshold (best-first, capped at maxNodes); a
// breadth-first walk then follows active edges up to maxHops, propagating
// score_at_hop = score_at_parent × edge_strength with a visited set so cycles
// terminate. Nodes decayed to confidence 0 may be traversed through but are
// never ranked. Results deduplicate by node id keeping the best-scoring path.
// The reads honor ctx, so an expired deadline aborts the query promptly.
func (s *Store) Query(ctx context.Context, userID string, queryEmbedding []float32, maxNodes, maxHops int, similarityThreshold float64) ([]QueryResult, error) {
	nodes, err := s.DB.ActiveNodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("graph query: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	byID := make(map[string]*store.MemNode, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	edges, err := s.DB.ActiveEdges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("graph query edges: %w", err)
	}
	adjacency := make(map[string][]store.MemEdge)
	for _, e := range edges {
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e)
	}

	type seed struct {
		id  string
		sim float64
	}
	var seeds []seed
	for i := range nodes {
		if nodes[i].Confidence <= 0 {
			continue
		}
		sim := embed.CosineSimilarity(queryEmbedding, nodes[i].Embedding)
		if sim >= similarityThreshold {
			seeds = append(seeds, seed{id: nodes[i].ID, sim: sim})
		}
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].sim > seeds[j].sim })
	if len(seeds) > maxNodes {
		seeds = seeds[:maxNodes]
	}

	best := make(map[string]QueryResult)
	for _, sd := range seeds {
		s.traverse(sd.id, sd.sim, maxHops, byID, adjacency, best)
	}

	results := make([]QueryResult, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.ID < results[j].Node.ID
	})
	if len(results) > maxNodes {
		results = results[:maxNodes]
	}
	return results, nil
}

type frontierItem struct {
	id   string
	sim  float64 // propagated, monotonically non-increasing per hop
	hops int
	path []string
}

// traverse runs one seed's breadth-first walk, folding better-scoring paths
// into best. Iterative with an explicit visited set; never recursive.
func (s *Store) traverse(seedID string, seedSim float64, maxHops int,
	byID map[string]*store.MemNode, adjacency map[string][]store.MemEdge, best map[string]QueryResult) {

	visited := map[string]bool{seedID: true}
	frontier := []frontierItem{{id: seedID, sim: seedSim}}

	for len(frontier) > 0 {
		item := frontier[0]
		frontier = frontier[1:]

		node, ok := byID[item.id]
		if !ok {
			continue // edge points outside the active set
		}

		if node.Confidence > 0 {
			score := weightSimilarity*item.sim +
				weightHops*(1.0/float64(1+item.hops)) +
				weightImportance*node.Importance +
				weightConfidence*node.Confidence
			if prev, ok := best[item.id]; !ok || score > prev.Score {
				best[item.id] = QueryResult{
					Node:         *node,
					HopDistance:  item.hops,
					RelationPath: item.path,
					Score:        score,
				}
			}
		}

		if item.hops >= maxHops {
			continue
		}
		for _, e := range adjacency[item.id] {
			if visited[e.TargetID] {
				continue
			}
			visited[e.TargetID] = true
			path := append(append([]string(nil), item.path...), e.Relation)
			frontier = append(frontier, frontierItem{
				id:   e.TargetID,
				sim:  item.sim * e.Strength,
				hops: item.hops + 1,
				path: path,
			})
		}
	}
}

// Decay reduces confidence by rate for every active node of the user whose
// last_reinforced_at is older than staleAfter, flooring at 0. Nodes at 0 stay
// stored but drop out of Query ranking until reinforced. Idempotent and
// externally schedulable; never triggered by reads.
func (s *Store) Decay(userID string, staleAfter time.Duration, rate float64) (int, error) {
	l := s.locks.lock(userID)
	defer l.Unlock()

	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	stale, err := s.DB.StaleNodes(userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("decay: %w", err)
	}

	updated := 0
	for _, n := range stale {
		next := n.Confidence - rate
		if next < 0 {
			next = 0
		}
		if err := s.DB.SetConfidence(n.ID, next); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// DecayAll runs Decay for every user with active nodes.
func (s *Store) DecayAll() (int, error) {
	rows, err := s.DB.Query(`SELECT DISTINCT user_id FROM mem_nodes WHERE active = 1`)
	if err != nil {
		return 0, fmt.Errorf("decay all: %w", err)
	}
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	total := 0
	for _, u := range users {
		n, err := s.Decay(u, time.Duration(s.Config.StaleAfter), s.Config.DecayRate)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// StartDecayTimer runs decay once at startup and then daily, as low-priority
// background work off the query path.
func (s *Store) StartDecayTimer() {
	if updated, err := s.DecayAll(); err != nil {
		log.Printf("decay error: %v", err)
	} else if updated > 0 {
		log.Printf("decay: updated %d nodes", updated)
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if updated, err := s.DecayAll(); err != nil {
					log.Printf("decay error: %v", err)
				} else if updated > 0 {
					log.Printf("decay: updated %d nodes", updated)
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the background decay timer.
func (s *Store) Stop() {
	close(s.stopCh)
}

// Contradiction is an advisory report that two same-kind facts disagree.
type Contradiction struct {
	ExistingNodeID string
	Similarity     float64
	ResolutionHint string // existing_more_confident | candidate_more_confident | equal_confidence
}

// NegationMarkers is the exact token set the contradiction heuristic matches.
// It is a placeholder policy: presence of a differing marker between two
// highly similar texts flags a contradiction, nothing more.
var NegationMarkers = []string{
	"not", "no", "never", "don't", "doesn't", "didn't", "won't",
	"isn't", "aren't", "can't", "cannot", "stopped",
	"dislike", "dislikes", "hate", "hates",
}

// confidenceEpsilon below which two confidences count as equal.
const confidenceEpsilon = 0.05

// DetectContradictions finds active same-kind nodes similar to the candidate
// (similarity >= the configured threshold) whose texts differ in at least one
// negation marker. Advisory only: the hint compares confidences, nothing is
// deleted.
func (s *Store) DetectContradictions(ctx context.Context, userID, candidateNodeID string) ([]Contradiction, error) {
	candidate, err := s.DB.GetNode(candidateNodeID)
	if err != nil {
		return nil, fmt.Errorf("detect contradictions: %w", err)
	}
	if candidate == nil || !candidate.Active {
		return nil, nil
	}

	nodes, err := s.DB.ActiveNodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("detect contradictions: %w", err)
	}

	candMarkers := negationSet(candidate.Content)

	var found []Contradiction
	for _, n := range nodes {
		if n.ID == candidate.ID || n.Kind != candidate.Kind {
			continue
		}
		sim := embed.CosineSimilarity(candidate.Embedding, n.Embedding)
		if sim < s.Config.ContradictionThreshold {
			continue
		}
		if !markersDiffer(candMarkers, negationSet(n.Content)) {
			continue
		}

		hint := "equal_confidence"
		switch {
		case n.Confidence > candidate.Confidence+confidenceEpsilon:
			hint = "existing_more_confident"
		case candidate.Confidence > n.Confidence+confidenceEpsilon:
			hint = "candidate_more_confident"
		}
		found = append(found, Contradiction{
			ExistingNodeID: n.ID,
			Similarity:     sim,
			ResolutionHint: hint,
		})
	}
	return found, nil
}

// negationSet returns the negation markers present in text. Words are
// lower-cased and trimmed of surrounding punctuation, keeping inner
// apostrophes so contractions match.
func negationSet(text string) map[string]bool {
	present := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"()[]")
		for _, m := range NegationMarkers {
			if word == m {
				present[m] = true
			}
		}
	}
	return present
}

// markersDiffer reports whether the two marker sets disagree on any marker.
func markersDiffer(a, b map[string]bool) bool {
	for m := range a {
		if !b[m] {
			return true
		}
	}
	for m := range b {
		if !a[m] {
			return true
		}
	}
	return false
}
