// Package pipeline is the answer orchestrator: it strings the semantic cache,
// fusion search, memory graph, session memory, and synthesis together into
// one query path, degrading stage by stage instead of failing whole.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/recall/internal/cache"
	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/embed"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/metrics"
	"github.com/lazypower/recall/internal/rerr"
	"github.com/lazypower/recall/internal/search"
	"github.com/lazypower/recall/internal/session"
	"github.com/lazypower/recall/internal/store"
)

// retrievalK is how many fused chunks feed synthesis.
const retrievalK = 8

// Pipeline wires the retrieval components into the answer path.
type Pipeline struct {
	DB       *store.DB
	Embedder embed.Embedder
	Cache    *cache.Semantic
	Engine   *search.Engine
	Graph    *graph.Store
	Session  *session.Memory
	LLM      llm.Client
	Config   config.Config

	synth *gobreaker.CircuitBreaker
}

// New assembles a pipeline. The synthesis breaker trips after 5 consecutive
// LLM failures and probes again after 30 seconds; while open, answers come
// from the extractive fallback.
func New(db *store.DB, embedder embed.Embedder, sem *cache.Semantic, engine *search.Engine,
	g *graph.Store, sess *session.Memory, client llm.Client, cfg config.Config) *Pipeline {
	synth := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "synthesize",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("pipeline: breaker %s %v -> %v", name, from, to)
		},
	})
	return &Pipeline{
		DB: db, Embedder: embedder, Cache: sem, Engine: engine,
		Graph: g, Session: sess, LLM: client, Config: cfg, synth: synth,
	}
}

// Result is one answered query.
type Result struct {
	ResponseText  string
	CitedChunkIDs []string
	CacheTier     cache.Tier
	Suggestion    string // populated on a suggestion-tier cache hit
	Degraded      bool   // synthesis fell back to extraction
}

// Answer runs the full query path for one user question. Embedding failure
// and total retrieval failure are the only fatal outcomes; everything else
// degrades.
func (p *Pipeline) Answer(ctx context.Context, userID, sessionID, queryText string) (*Result, error) {
	start := time.Now()
	defer func() { metrics.QueryDuration.Observe(time.Since(start).Seconds()) }()

	normalized := cache.NormalizeQuery(queryText)
	queryEmbedding, err := p.Embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, rerr.Embedding(err)
	}

	cached, tier := p.Cache.Lookup(queryEmbedding)
	switch tier {
	case cache.TierExact, cache.TierNear:
		if err := p.recordTurns(ctx, sessionID, userID, queryText, cached.Text); err != nil {
			log.Printf("pipeline: session append failed: %v", err)
		}
		return &Result{
			ResponseText:  cached.Text,
			CitedChunkIDs: cached.CitedChunkIDs,
			CacheTier:     tier,
		}, nil
	}

	octx, cancel := context.WithTimeout(ctx, time.Duration(p.Config.Search.OverallTimeout))
	defer cancel()

	spans, memories, err := p.retrieve(octx, userID, queryText, queryEmbedding)
	if err != nil {
		return nil, err
	}

	sessionContext := ""
	if sessionID != "" {
		sessionContext, err = p.Session.GetContext(sessionID, p.Config.Session.ContextTokens)
		if err != nil {
			log.Printf("pipeline: session context failed: %v", err)
		}
	}

	answer, degraded := p.synthesize(octx, queryText, spans, memories, sessionContext)

	result := &Result{
		ResponseText:  answer,
		CitedChunkIDs: citedIDs(spans),
		CacheTier:     tier,
		Degraded:      degraded,
	}
	if tier == cache.TierSuggestion && cached != nil {
		result.Suggestion = cached.Text
	}

	if err := p.recordTurns(ctx, sessionID, userID, queryText, answer); err != nil {
		log.Printf("pipeline: session append failed: %v", err)
	}

	// Off the response path: cache the fresh answer and mine the exchange
	// for memory facts.
	if !degraded {
		go p.Cache.Store(queryEmbedding, &cache.Response{
			Text:          answer,
			CitedChunkIDs: result.CitedChunkIDs,
		})
	}
	go p.extractFacts(userID, queryText, answer)

	return result, nil
}

// retrieve runs the document search and memory graph lookups concurrently.
// One path failing degrades it to empty; both failing is fatal.
func (p *Pipeline) retrieve(ctx context.Context, userID, queryText string, queryEmbedding []float32) ([]search.Span, []graph.QueryResult, error) {
	var (
		spans    []search.Span
		memories []graph.QueryResult
		docErr   error
		memErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		candidates, err := p.Engine.Search(gctx, queryText, queryEmbedding, retrievalK)
		if err == nil {
			spans, err = p.Engine.Expand(candidates)
		}
		if err != nil {
			log.Printf("pipeline: document retrieval degraded: %v", err)
			docErr = err
		}
		return nil
	})
	g.Go(func() error {
		// Same independent deadline the search sub-indexes get; a slow
		// memory read degrades instead of holding the whole answer.
		mctx, cancel := context.WithTimeout(gctx, time.Duration(p.Config.Search.SubTimeout))
		defer cancel()

		gc := p.Config.Graph
		results, err := p.Graph.Query(mctx, userID, queryEmbedding, gc.MaxNodes, gc.MaxHops, gc.SimilarityThreshold)
		if err != nil {
			log.Printf("pipeline: memory retrieval degraded: %v", err)
			memErr = err
			return nil
		}
		memories = results
		return nil
	})
	g.Wait()

	if docErr != nil && memErr != nil {
		return nil, nil, rerr.Retrieval(docErr)
	}
	return spans, memories, nil
}

// synthesize produces the answer text. The LLM call runs behind the breaker;
// on any failure the answer degrades to an extract of the top spans.
func (p *Pipeline) synthesize(ctx context.Context, queryText string, spans []search.Span, memories []graph.QueryResult, sessionContext string) (string, bool) {
	docContext := formatSpans(spans)
	memContext := formatMemories(memories)

	if p.LLM != nil {
		prompt := llm.SynthesizePrompt(queryText, docContext, memContext, sessionContext)
		result, err := p.synth.Execute(func() (any, error) {
			return p.LLM.Complete(ctx, prompt)
		})
		if err == nil {
			if text := strings.TrimSpace(result.(*llm.Response).Content); text != "" {
				return text, false
			}
		} else {
			log.Printf("pipeline: synthesis degraded to extraction: %v", err)
			metrics.ExternalCallFailures.WithLabelValues("synthesize").Inc()
		}
	}

	return extractiveAnswer(spans), true
}

// extractiveAnswer is the no-LLM fallback: the top retrieved passages,
// presented as-is.
func extractiveAnswer(spans []search.Span) string {
	if len(spans) == 0 {
		return "No relevant content was found for this query."
	}
	limit := 3
	if len(spans) < limit {
		limit = len(spans)
	}
	var b strings.Builder
	b.WriteString("Most relevant passages:\n")
	for _, s := range spans[:limit] {
		fmt.Fprintf(&b, "\n%s\n", s.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSpans(spans []search.Span) string {
	if len(spans) == 0 {
		return "(no documents retrieved)"
	}
	var b strings.Builder
	for i, s := range spans {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, s.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMemories(memories []graph.QueryResult) string {
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s\n", m.Node.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// citedIDs collects the covered chunk ids across spans, best span first.
func citedIDs(spans []search.Span) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range spans {
		for _, id := range s.ChunkIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (p *Pipeline) recordTurns(ctx context.Context, sessionID, userID, question, answer string) error {
	if sessionID == "" {
		return nil
	}
	if err := p.Session.Append(ctx, sessionID, userID, "user", question); err != nil {
		return err
	}
	return p.Session.Append(ctx, sessionID, userID, "assistant", answer)
}

// extractFacts mines the exchange for durable facts and relationships and
// upserts them into the memory graph. Runs detached from the request.
func (p *Pipeline) extractFacts(userID, userTurn, assistantTurn string) {
	if p.LLM == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp, err := p.LLM.Complete(ctx, llm.ExtractFactsPrompt(userTurn, assistantTurn))
	if err != nil {
		log.Printf("pipeline: fact extraction failed: %v", err)
		metrics.ExternalCallFailures.WithLabelValues("extract").Inc()
		return
	}
	ex, err := llm.ParseExtraction(resp.Content)
	if err != nil {
		log.Printf("pipeline: %v", err)
		return
	}

	nodeBySummary := make(map[string]string, len(ex.Facts))
	for _, f := range ex.Facts {
		embedding, err := p.Embedder.Embed(ctx, f.Content)
		if err != nil {
			log.Printf("pipeline: fact embed failed: %v", err)
			continue
		}
		nodeID, reinforced, err := p.Graph.UpsertNode(ctx, userID, graph.NodeInput{
			Kind:       f.Kind,
			Content:    f.Content,
			Summary:    f.Summary,
			Embedding:  embedding,
			Confidence: f.Confidence,
			Importance: f.Importance,
			Source:     "extraction",
		})
		if err != nil {
			log.Printf("pipeline: node upsert failed: %v", err)
			continue
		}
		nodeBySummary[f.Summary] = nodeID

		if !reinforced {
			contradictions, err := p.Graph.DetectContradictions(ctx, userID, nodeID)
			if err != nil {
				log.Printf("pipeline: contradiction check failed: %v", err)
			}
			for _, c := range contradictions {
				log.Printf("pipeline: contradiction for user %s: node %s vs %s (sim %.2f, %s)",
					userID, nodeID, c.ExistingNodeID, c.Similarity, c.ResolutionHint)
			}
		}
	}

	for _, r := range ex.Relations {
		sourceID, okS := nodeBySummary[r.SourceSummary]
		targetID, okT := nodeBySummary[r.TargetSummary]
		if !okS || !okT {
			continue
		}
		if err := p.Graph.UpsertEdge(userID, sourceID, targetID, r.Relation, r.Strength); err != nil {
			log.Printf("pipeline: edge upsert failed: %v", err)
		}
	}
}

// Ingest embeds and indexes one chunk: the database row is the durable copy,
// then both in-memory indexes pick it up. Returns the chunk id.
func (p *Pipeline) Ingest(ctx context.Context, documentID string, ordinal int, text, metadata string) (string, error) {
	embedding, err := p.Embedder.Embed(ctx, text)
	if err != nil {
		return "", rerr.Embedding(err)
	}

	chunk := &store.Chunk{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Ordinal:    ordinal,
		Text:       text,
		Embedding:  embedding,
		Metadata:   metadata,
	}
	if err := p.DB.InsertChunk(chunk); err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}

	p.Engine.Lexical.Add(chunk.ID, chunk.Text)
	if err := p.Engine.Vector.Add(ctx, chunk.ID, chunk.Embedding); err != nil {
		return "", fmt.Errorf("ingest: vector index: %w", err)
	}
	return chunk.ID, nil
}
