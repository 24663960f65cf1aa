package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lazypower/recall/internal/cache"
	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/embed"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/index"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/rerr"
	"github.com/lazypower/recall/internal/search"
	"github.com/lazypower/recall/internal/session"
	"github.com/lazypower/recall/internal/store"
)

func testPipeline(t *testing.T, client llm.Client) *Pipeline {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	vec, err := index.NewVector()
	if err != nil {
		t.Fatalf("NewVector: %v", err)
	}
	sem, err := cache.New(cfg.Cache)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(sem.Close)

	engine := search.NewEngine(db, index.NewLexical(), vec, cfg.Search)
	g := graph.New(db, cfg.Graph)
	sess := session.New(db, client, cfg.Session)
	return New(db, embed.NewHashEmbedder(64), sem, engine, g, sess, client, cfg)
}

func seedChunks(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx := context.Background()
	texts := []string{
		"stale memories lose confidence through scheduled decay passes",
		"decay never deletes a memory, it only lowers confidence toward zero",
		"reinforcement restores confidence when a fact is mentioned again",
	}
	for i, text := range texts {
		if _, err := p.Ingest(ctx, "doc-1", i, text, ""); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}
}

func TestAnswerSynthesizes(t *testing.T) {
	client := &llm.MockClient{Response: &llm.Response{Content: "Decay lowers confidence without deleting."}}
	p := testPipeline(t, client)
	seedChunks(t, p)

	result, err := p.Answer(context.Background(), "u1", "s1", "what does decay do to memories")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if result.ResponseText != "Decay lowers confidence without deleting." {
		t.Errorf("response = %q", result.ResponseText)
	}
	if result.Degraded {
		t.Errorf("healthy synthesis marked degraded")
	}
	if result.CacheTier != cache.TierMiss {
		t.Errorf("cache tier = %v, want miss on first ask", result.CacheTier)
	}
	if len(result.CitedChunkIDs) == 0 {
		t.Errorf("no citations for a matching query")
	}

	count, err := p.DB.TurnCount("s1")
	if err != nil {
		t.Fatalf("TurnCount: %v", err)
	}
	if count != 2 {
		t.Errorf("session turns = %d, want question and answer", count)
	}
}

func TestAnswerExtractiveFallback(t *testing.T) {
	client := &llm.MockClient{Err: errors.New("llm unavailable")}
	p := testPipeline(t, client)
	seedChunks(t, p)

	result, err := p.Answer(context.Background(), "u1", "", "how does confidence decay work")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !result.Degraded {
		t.Errorf("failed synthesis not marked degraded")
	}
	if !strings.Contains(result.ResponseText, "confidence") {
		t.Errorf("extractive fallback missing retrieved text: %q", result.ResponseText)
	}
}

func TestAnswerNoLLM(t *testing.T) {
	p := testPipeline(t, nil)
	seedChunks(t, p)

	result, err := p.Answer(context.Background(), "u1", "", "how does confidence decay work")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !result.Degraded {
		t.Errorf("nil client should always degrade to extraction")
	}
}

func TestAnswerEmbeddingFailure(t *testing.T) {
	p := testPipeline(t, nil)
	p.Embedder = failingEmbedder{}

	_, err := p.Answer(context.Background(), "u1", "", "anything")
	if err == nil {
		t.Fatal("expected error from failing embedder")
	}
	if rerr.CodeOf(err) != rerr.CodeEmbeddingFailed {
		t.Errorf("error code = %q, want %q", rerr.CodeOf(err), rerr.CodeEmbeddingFailed)
	}
}

func TestAnswerServesCacheHit(t *testing.T) {
	client := &llm.MockClient{Response: &llm.Response{Content: "fresh answer"}}
	p := testPipeline(t, client)
	seedChunks(t, p)

	question := "what does decay do"
	emb, err := p.Embedder.Embed(context.Background(), cache.NormalizeQuery(question))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	p.Cache.Store(emb, &cache.Response{Text: "cached answer", CitedChunkIDs: []string{"c9"}})
	p.Cache.Wait()

	result, err := p.Answer(context.Background(), "u1", "", question)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if result.CacheTier != cache.TierExact {
		t.Fatalf("cache tier = %v, want exact", result.CacheTier)
	}
	if result.ResponseText != "cached answer" {
		t.Errorf("response = %q, want the cached text", result.ResponseText)
	}
	if len(client.Calls) != 0 {
		t.Errorf("exact hit still called the LLM")
	}
}

func TestIngestIndexesChunk(t *testing.T) {
	p := testPipeline(t, nil)

	id, err := p.Ingest(context.Background(), "doc-9", 0, "ingest indexes the chunk everywhere", "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if id == "" {
		t.Fatal("empty chunk id")
	}
	if p.Engine.Lexical.Len() != 1 {
		t.Errorf("lexical index len = %d, want 1", p.Engine.Lexical.Len())
	}
	if p.Engine.Vector.Len() != 1 {
		t.Errorf("vector index len = %d, want 1", p.Engine.Vector.Len())
	}

	chunk, err := p.DB.GetChunk(id)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if chunk == nil || chunk.Text != "ingest indexes the chunk everywhere" {
		t.Errorf("chunk not stored: %+v", chunk)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}
func (failingEmbedder) Model() string   { return "failing" }
func (failingEmbedder) Dimensions() int { return 0 }
