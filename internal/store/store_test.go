package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.0, 0}
	got := DecodeEmbedding(EncodeEmbedding(vec))
	if len(got) != len(vec) {
		t.Fatalf("decoded %d dims, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("dim %d = %v, want %v", i, got[i], vec[i])
		}
	}
	if len(DecodeEmbedding(nil)) != 0 {
		t.Errorf("decode nil should return an empty vector")
	}
}

func TestInsertChunkReplacesOrdinal(t *testing.T) {
	db := testDB(t)

	old := &Chunk{ID: uuid.NewString(), DocumentID: "doc-1", Ordinal: 0, Text: "old text"}
	if err := db.InsertChunk(old); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}
	updated := &Chunk{ID: uuid.NewString(), DocumentID: "doc-1", Ordinal: 0, Text: "new text"}
	if err := db.InsertChunk(updated); err != nil {
		t.Fatalf("InsertChunk replacement: %v", err)
	}

	got, err := db.GetChunk(old.ID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if got != nil {
		t.Errorf("old chunk still active after replacement")
	}

	all, err := db.AllChunks()
	if err != nil {
		t.Fatalf("AllChunks: %v", err)
	}
	if len(all) != 1 || all[0].ID != updated.ID {
		t.Errorf("active chunks = %d, want only the replacement", len(all))
	}
}

func TestSiblingChunks(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 5; i++ {
		c := &Chunk{ID: uuid.NewString(), DocumentID: "doc-1", Ordinal: i, Text: "chunk"}
		if err := db.InsertChunk(c); err != nil {
			t.Fatalf("InsertChunk %d: %v", i, err)
		}
	}
	// A different document must not leak into the range.
	other := &Chunk{ID: uuid.NewString(), DocumentID: "doc-2", Ordinal: 2, Text: "other"}
	if err := db.InsertChunk(other); err != nil {
		t.Fatalf("InsertChunk other doc: %v", err)
	}

	sibs, err := db.SiblingChunks("doc-1", 1, 3)
	if err != nil {
		t.Fatalf("SiblingChunks: %v", err)
	}
	if len(sibs) != 3 {
		t.Fatalf("got %d siblings, want 3", len(sibs))
	}
	for i, s := range sibs {
		if s.Ordinal != i+1 {
			t.Errorf("sibling %d ordinal = %d, want %d", i, s.Ordinal, i+1)
		}
	}
}

func TestInsertNodeClampsScores(t *testing.T) {
	db := testDB(t)

	n := &MemNode{
		ID: uuid.NewString(), UserID: "u1", Kind: "fact", Content: "test",
		Confidence: 1.5, Importance: -0.2,
	}
	if err := db.InsertNode(n); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	if n.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", n.Confidence)
	}
	if n.Importance != 0 {
		t.Errorf("importance = %v, want clamped to 0", n.Importance)
	}
	if n.MentionCount != 1 {
		t.Errorf("mention_count = %d, want 1", n.MentionCount)
	}
}

func TestReinforceNode(t *testing.T) {
	db := testDB(t)

	n := &MemNode{ID: uuid.NewString(), UserID: "u1", Kind: "fact", Content: "test", Confidence: 0.5}
	if err := db.InsertNode(n); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}

	// Repeated reinforcement never pushes confidence past 1.
	for i := 0; i < 3; i++ {
		if err := db.ReinforceNode(n.ID, n.Confidence+0.9); err != nil {
			t.Fatalf("ReinforceNode: %v", err)
		}
	}

	got, err := db.GetNode(n.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.MentionCount != 4 {
		t.Errorf("mention_count = %d, want 4", got.MentionCount)
	}
	if got.Confidence > 1.0 {
		t.Errorf("confidence = %v, exceeds 1.0", got.Confidence)
	}
}

func TestStaleNodes(t *testing.T) {
	db := testDB(t)

	n := &MemNode{ID: uuid.NewString(), UserID: "u1", Kind: "fact", Content: "test", Confidence: 0.5}
	if err := db.InsertNode(n); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}

	past := time.Now().Add(-time.Hour).UnixMilli()
	stale, err := db.StaleNodes("u1", past)
	if err != nil {
		t.Fatalf("StaleNodes: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("fresh node reported stale")
	}

	future := time.Now().Add(time.Hour).UnixMilli()
	stale, err = db.StaleNodes("u1", future)
	if err != nil {
		t.Fatalf("StaleNodes: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("got %d stale nodes, want 1", len(stale))
	}

	// Zero-confidence nodes are not decay candidates.
	if err := db.SetConfidence(n.ID, 0); err != nil {
		t.Fatalf("SetConfidence: %v", err)
	}
	stale, err = db.StaleNodes("u1", future)
	if err != nil {
		t.Fatalf("StaleNodes: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("zero-confidence node reported stale")
	}
}

func TestUpsertEdgeReinforces(t *testing.T) {
	db := testDB(t)

	a := &MemNode{ID: uuid.NewString(), UserID: "u1", Kind: "fact", Content: "a", Confidence: 0.5}
	b := &MemNode{ID: uuid.NewString(), UserID: "u1", Kind: "fact", Content: "b", Confidence: 0.5}
	for _, n := range []*MemNode{a, b} {
		if err := db.InsertNode(n); err != nil {
			t.Fatalf("InsertNode: %v", err)
		}
	}

	first, err := db.UpsertEdge("u1", a.ID, b.ID, "supports", 0.8)
	if err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if first.ObservationCount != 1 {
		t.Errorf("observation_count = %d, want 1", first.ObservationCount)
	}

	second, err := db.UpsertEdge("u1", a.ID, b.ID, "supports", 0.4)
	if err != nil {
		t.Fatalf("UpsertEdge reinforce: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("reinforcement created a new edge")
	}
	if second.ObservationCount != 2 {
		t.Errorf("observation_count = %d, want 2", second.ObservationCount)
	}
	if math.Abs(second.Strength-0.6) > 1e-9 {
		t.Errorf("strength = %v, want (0.8+0.4)/2", second.Strength)
	}

	// A different relation between the same nodes is a separate edge.
	third, err := db.UpsertEdge("u1", a.ID, b.ID, "causes", 0.5)
	if err != nil {
		t.Fatalf("UpsertEdge new relation: %v", err)
	}
	if third.ID == first.ID {
		t.Errorf("different relation reused the same edge")
	}

	edges, err := db.ActiveEdges(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ActiveEdges: %v", err)
	}
	if len(edges) != 2 {
		t.Errorf("active edges = %d, want 2", len(edges))
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := testDB(t)

	sess, err := db.EnsureSession("s1", "u1")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if sess.UserID != "u1" {
		t.Errorf("user_id = %q, want u1", sess.UserID)
	}

	// Idempotent: a second ensure keeps the original owner.
	again, err := db.EnsureSession("s1", "u2")
	if err != nil {
		t.Fatalf("EnsureSession again: %v", err)
	}
	if again.UserID != "u1" {
		t.Errorf("re-ensure changed owner to %q", again.UserID)
	}

	for i, content := range []string{"first", "second", "third"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		turn := &Turn{SessionID: "s1", Role: role, Content: content, TokenEstimate: 5}
		if err := db.AppendTurn(turn); err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}

	turns, err := db.SessionTurns("s1")
	if err != nil {
		t.Fatalf("SessionTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].Content != "first" || turns[2].Content != "third" {
		t.Errorf("turns out of order: %q ... %q", turns[0].Content, turns[2].Content)
	}

	if err := db.DeleteTurns([]int64{turns[0].ID}); err != nil {
		t.Fatalf("DeleteTurns: %v", err)
	}
	count, err := db.TurnCount("s1")
	if err != nil {
		t.Fatalf("TurnCount: %v", err)
	}
	if count != 2 {
		t.Errorf("turn count = %d, want 2", count)
	}

	if err := db.SetSummary("s1", "they talked"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	got, err := db.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Summary != "they talked" {
		t.Errorf("summary = %q", got.Summary)
	}
}
