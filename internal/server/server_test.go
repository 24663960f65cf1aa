package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

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

func testServer(t *testing.T) *Server {
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

	client := &llm.MockClient{Response: &llm.Response{Content: "synthesized answer"}}
	engine := search.NewEngine(db, index.NewLexical(), vec, cfg.Search)
	g := graph.New(db, cfg.Graph)
	sess := session.New(db, client, cfg.Session)
	p := pipeline.New(db, embed.NewHashEmbedder(64), sem, engine, g, sess, client, cfg)

	return New(db, p, "test-version")
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	w := doJSON(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
}

func TestIngestAndQuery(t *testing.T) {
	srv := testServer(t)

	w := doJSON(t, srv, "POST", "/api/chunks", `{
		"chunks": [
			{"document_id": "doc-1", "ordinal": 0, "text": "the cache serves near matches with a disclaimer"},
			{"document_id": "doc-1", "ordinal": 1, "text": "exact matches return the cached response verbatim"}
		]
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var ingested struct {
		ChunkIDs []string `json:"chunk_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ingested); err != nil {
		t.Fatalf("decode ingest body: %v", err)
	}
	if len(ingested.ChunkIDs) != 2 {
		t.Fatalf("ingested %d chunks, want 2", len(ingested.ChunkIDs))
	}

	w = doJSON(t, srv, "POST", "/api/query", `{
		"user_id": "u1",
		"session_id": "s1",
		"query": "how are cached matches served"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", w.Code, w.Body.String())
	}

	var answer struct {
		Response      string   `json:"response"`
		CitedChunkIDs []string `json:"cited_chunk_ids"`
		CacheTier     string   `json:"cache_tier"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decode query body: %v", err)
	}
	if answer.Response != "synthesized answer" {
		t.Errorf("response = %q", answer.Response)
	}
	if answer.CacheTier != "miss" {
		t.Errorf("cache tier = %q, want miss", answer.CacheTier)
	}
}

func TestQueryValidation(t *testing.T) {
	srv := testServer(t)

	w := doJSON(t, srv, "POST", "/api/query", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid json status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doJSON(t, srv, "POST", "/api/query", `{"query": ""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["code"] != "INVALID_REQUEST" {
		t.Errorf("error code = %q, want INVALID_REQUEST", body["code"])
	}
}

func TestIngestValidation(t *testing.T) {
	srv := testServer(t)

	w := doJSON(t, srv, "POST", "/api/chunks", `{"chunks": []}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty chunks status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doJSON(t, srv, "POST", "/api/chunks", `{"chunks": [{"document_id": "", "text": "x"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing document_id status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMemoryEndpoint(t *testing.T) {
	srv := testServer(t)

	// Seed one node and edge directly.
	a := &store.MemNode{ID: "n-a", UserID: "u1", Kind: "fact", Content: "a", Confidence: 0.9}
	b := &store.MemNode{ID: "n-b", UserID: "u1", Kind: "fact", Content: "b", Confidence: 0.9}
	for _, n := range []*store.MemNode{a, b} {
		if err := srv.db.InsertNode(n); err != nil {
			t.Fatalf("InsertNode: %v", err)
		}
	}
	if _, err := srv.db.UpsertEdge("u1", a.ID, b.ID, "supports", 0.8); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}

	w := doJSON(t, srv, "GET", "/api/memory/u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		UserID string `json:"user_id"`
		Nodes  []any  `json:"nodes"`
		Edges  []any  `json:"edges"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.UserID != "u1" {
		t.Errorf("user_id = %q", body.UserID)
	}
	if len(body.Nodes) != 2 || len(body.Edges) != 1 {
		t.Errorf("got %d nodes, %d edges; want 2 and 1", len(body.Nodes), len(body.Edges))
	}

	// Unknown users return empty sets, not errors.
	w = doJSON(t, srv, "GET", "/api/memory/nobody", "")
	if w.Code != http.StatusOK {
		t.Errorf("unknown user status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestDecayEndpoint(t *testing.T) {
	srv := testServer(t)

	n := &store.MemNode{ID: "n-1", UserID: "u1", Kind: "fact", Content: "stale", Confidence: 0.5}
	if err := srv.db.InsertNode(n); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}

	// Freshly reinforced nodes survive a decay pass untouched.
	w := doJSON(t, srv, "POST", "/api/maintenance/decay", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Updated int `json:"updated"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Updated != 0 {
		t.Errorf("updated = %d, want 0 for fresh nodes", body.Updated)
	}

	got, err := srv.db.GetNode("n-1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.Confidence != 0.5 {
		t.Errorf("confidence changed to %v", got.Confidence)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)

	w := doJSON(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("metrics output missing standard collectors")
	}
}
