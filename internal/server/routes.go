package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/recall/internal/rerr"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
		Query     string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, rerr.New(rerr.CodeInvalidRequest, "invalid json", err))
		return
	}
	if req.UserID == "" || req.Query == "" {
		writeError(w, rerr.New(rerr.CodeInvalidRequest, "user_id and query required", nil))
		return
	}

	result, err := s.pipeline.Answer(r.Context(), req.UserID, req.SessionID, req.Query)
	if err != nil {
		log.Printf("server: query failed: %v", err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"response":        result.ResponseText,
		"cited_chunk_ids": result.CitedChunkIDs,
		"cache_tier":      result.CacheTier,
		"cache_hint":      result.Suggestion,
		"degraded":        result.Degraded,
	})
}

func (s *Server) handleIngestChunks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chunks []struct {
			DocumentID string `json:"document_id"`
			Ordinal    int    `json:"ordinal"`
			Text       string `json:"text"`
			Metadata   string `json:"metadata"`
		} `json:"chunks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, rerr.New(rerr.CodeInvalidRequest, "invalid json", err))
		return
	}
	if len(req.Chunks) == 0 {
		writeError(w, rerr.New(rerr.CodeInvalidRequest, "chunks required", nil))
		return
	}

	ids := make([]string, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		if c.DocumentID == "" || c.Text == "" {
			writeError(w, rerr.New(rerr.CodeInvalidRequest, "document_id and text required per chunk", nil))
			return
		}
		id, err := s.pipeline.Ingest(r.Context(), c.DocumentID, c.Ordinal, c.Text, c.Metadata)
		if err != nil {
			log.Printf("server: ingest failed: %v", err)
			writeError(w, err)
			return
		}
		ids = append(ids, id)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"chunk_ids": ids})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	nodes, err := s.db.ActiveNodes(r.Context(), userID)
	if err != nil {
		log.Printf("server: memory read failed: %v", err)
		writeError(w, err)
		return
	}
	edges, err := s.db.ActiveEdges(r.Context(), userID)
	if err != nil {
		log.Printf("server: memory read failed: %v", err)
		writeError(w, err)
		return
	}

	type nodeView struct {
		ID           string  `json:"id"`
		Kind         string  `json:"kind"`
		Content      string  `json:"content"`
		Summary      string  `json:"summary"`
		Confidence   float64 `json:"confidence"`
		Importance   float64 `json:"importance"`
		MentionCount int     `json:"mention_count"`
	}
	type edgeView struct {
		SourceID string  `json:"source_id"`
		TargetID string  `json:"target_id"`
		Relation string  `json:"relation"`
		Strength float64 `json:"strength"`
	}

	nodeViews := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		nodeViews = append(nodeViews, nodeView{
			ID: n.ID, Kind: n.Kind, Content: n.Content, Summary: n.Summary,
			Confidence: n.Confidence, Importance: n.Importance, MentionCount: n.MentionCount,
		})
	}
	edgeViews := make([]edgeView, 0, len(edges))
	for _, e := range edges {
		edgeViews = append(edgeViews, edgeView{
			SourceID: e.SourceID, TargetID: e.TargetID, Relation: e.Relation, Strength: e.Strength,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user_id": userID,
		"nodes":   nodeViews,
		"edges":   edgeViews,
	})
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	// Body is optional; empty means decay all users.
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	var (
		updated int
		err     error
	)
	if req.UserID != "" {
		g := s.pipeline.Graph
		updated, err = g.Decay(req.UserID, time.Duration(g.Config.StaleAfter), g.Config.DecayRate)
	} else {
		updated, err = s.pipeline.Graph.DecayAll()
	}
	if err != nil {
		log.Printf("server: decay failed: %v", err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"updated": updated})
}

// writeError maps the error taxonomy to HTTP statuses. Internal causes stay
// in the logs; callers only see the stable code and message.
func writeError(w http.ResponseWriter, err error) {
	code := rerr.CodeOf(err)
	status := http.StatusInternalServerError
	message := "internal error"

	switch code {
	case rerr.CodeInvalidRequest:
		status = http.StatusBadRequest
	case rerr.CodeSessionNotFound:
		status = http.StatusNotFound
	case rerr.CodeEmbeddingFailed, rerr.CodeRetrievalFailed, rerr.CodeExternalCall:
		status = http.StatusServiceUnavailable
	}

	var re *rerr.Error
	if errors.As(err, &re) {
		message = re.Message
	} else {
		code = "INTERNAL"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
