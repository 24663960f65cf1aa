package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/lazypower/recall/internal/cache"
	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/embed"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/index"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/search"
	"github.com/lazypower/recall/internal/session"
	"github.com/lazypower/recall/internal/store"
)

// app holds the assembled component graph shared by the serve, query, ingest,
// and decay commands.
type app struct {
	cfg      config.Config
	db       *store.DB
	pipeline *pipeline.Pipeline
	graph    *graph.Store
	cache    *cache.Semantic
}

// buildApp loads config, opens the database, and wires every component. The
// in-memory indexes rebuild from the chunk store on every start.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	embedder := buildEmbedder(cfg)

	lex := index.NewLexical()
	vec, err := index.NewVector()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init vector index: %w", err)
	}
	if err := rebuildIndexes(db, lex, vec); err != nil {
		db.Close()
		return nil, err
	}

	var client llm.Client
	client, err = llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), synthesis and extraction degraded\n", err)
		client = nil
	}

	sem, err := cache.New(cfg.Cache)
	if err != nil {
		db.Close()
		return nil, err
	}

	engine := search.NewEngine(db, lex, vec, cfg.Search)
	g := graph.New(db, cfg.Graph)
	sess := session.New(db, client, cfg.Session)
	p := pipeline.New(db, embedder, sem, engine, g, sess, client, cfg)

	return &app{cfg: cfg, db: db, pipeline: p, graph: g, cache: sem}, nil
}

func (a *app) Close() {
	a.cache.Close()
	a.db.Close()
}

// buildEmbedder probes Ollama and falls back to the deterministic hash
// embedder when it is unreachable.
func buildEmbedder(cfg config.Config) embed.Embedder {
	url := cfg.LLM.OllamaURL
	if url == "" {
		url = "http://localhost:11434"
	}
	model := cfg.LLM.EmbeddingModel
	if model == "" {
		model = "nomic-embed-text"
	}

	if embed.ProbeOllama(url, model) {
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", model)
		return embed.NewOllamaEmbedder(url, model, 768)
	}
	fmt.Fprintln(os.Stderr, "  embedder: hash (fallback)")
	return embed.NewHashEmbedder(256)
}

// rebuildIndexes loads every active chunk into the lexical and vector indexes.
func rebuildIndexes(db *store.DB, lex *index.Lexical, vec *index.Vector) error {
	ctx := context.Background()
	chunks, err := db.AllChunks()
	if err != nil {
		return fmt.Errorf("rebuild indexes: %w", err)
	}
	for _, c := range chunks {
		lex.Add(c.ID, c.Text)
		if len(c.Embedding) > 0 {
			if err := vec.Add(ctx, c.ID, c.Embedding); err != nil {
				return fmt.Errorf("rebuild vector index: %w", err)
			}
		}
	}
	if len(chunks) > 0 {
		fmt.Fprintf(os.Stderr, "  indexed %d chunks\n", len(chunks))
	}
	return nil
}
