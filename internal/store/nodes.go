package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MemNode is one fact in a user's memory graph.
type MemNode struct {
	ID               string
	UserID           string
	Kind             string // fact, preference, goal, context, skill, interest
	Content          string
	Summary          string
	Embedding        []float32
	Confidence       float64
	Importance       float64
	MentionCount     int
	Active           bool
	Source           string
	CreatedAt        int64
	LastReinforcedAt int64
	ExpiresAt        *int64
}

// clamp01 bounds a score to [0,1]. Applied on every node write.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// InsertNode stores a new memory node, clamping confidence and importance.
func (db *DB) InsertNode(n *MemNode) error {
	now := time.Now().UnixMilli()
	n.Confidence = clamp01(n.Confidence)
	n.Importance = clamp01(n.Importance)

	_, err := db.Exec(`
		INSERT INTO mem_nodes (id, user_id, kind, content, summary, embedding, confidence, importance,
			mention_count, active, source, created_at, last_reinforced_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 1, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Kind, n.Content, n.Summary, EncodeEmbedding(n.Embedding),
		n.Confidence, n.Importance, n.Source, now, now, n.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}

	n.MentionCount = 1
	n.Active = true
	n.CreatedAt = now
	n.LastReinforcedAt = now
	return nil
}

// GetNode returns a node by id regardless of active state, or nil.
func (db *DB) GetNode(id string) (*MemNode, error) {
	row := db.QueryRow(`
		SELECT id, user_id, kind, content, summary, embedding, confidence, importance,
			mention_count, active, source, created_at, last_reinforced_at, expires_at
		FROM mem_nodes WHERE id = ?
	`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// ActiveNodes returns all active nodes for a user, embeddings included.
// The graph keeps similarity math in Go, so this is the workhorse read; it
// honors ctx cancellation so callers can bound it.
func (db *DB) ActiveNodes(ctx context.Context, userID string) ([]MemNode, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, kind, content, summary, embedding, confidence, importance,
			mention_count, active, source, created_at, last_reinforced_at, expires_at
		FROM mem_nodes WHERE user_id = ? AND active = 1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("active nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// ReinforceNode applies a merge-as-reinforcement: bumps mention_count,
// refreshes last_reinforced_at, and raises confidence to the given value
// (already blended by the caller's merge policy).
func (db *DB) ReinforceNode(id string, confidence float64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE mem_nodes
		SET mention_count = mention_count + 1, last_reinforced_at = ?, confidence = ?
		WHERE id = ?
	`, now, clamp01(confidence), id)
	if err != nil {
		return fmt.Errorf("reinforce node: %w", err)
	}
	return nil
}

// SetConfidence overwrites a node's confidence (clamped). Used by decay.
func (db *DB) SetConfidence(id string, confidence float64) error {
	_, err := db.Exec(`UPDATE mem_nodes SET confidence = ? WHERE id = ?`, clamp01(confidence), id)
	if err != nil {
		return fmt.Errorf("set confidence: %w", err)
	}
	return nil
}

// DeactivateNode archives a node. Inactive nodes are excluded from every
// traversal and search; the transition is one-directional.
func (db *DB) DeactivateNode(id string) error {
	_, err := db.Exec(`UPDATE mem_nodes SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate node: %w", err)
	}
	return nil
}

// StaleNodes returns active nodes last reinforced before the cutoff with
// confidence above zero — the decay candidates.
func (db *DB) StaleNodes(userID string, cutoff int64) ([]MemNode, error) {
	rows, err := db.Query(`
		SELECT id, user_id, kind, content, summary, embedding, confidence, importance,
			mention_count, active, source, created_at, last_reinforced_at, expires_at
		FROM mem_nodes
		WHERE user_id = ? AND active = 1 AND last_reinforced_at < ? AND confidence > 0
	`, userID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale nodes: %w", err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

func scanNode(row rowScanner) (*MemNode, error) {
	var n MemNode
	var blob []byte
	var summary, source sql.NullString
	var active int
	var expires sql.NullInt64
	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Content, &summary, &blob,
		&n.Confidence, &n.Importance, &n.MentionCount, &active, &source,
		&n.CreatedAt, &n.LastReinforcedAt, &expires)
	if err != nil {
		return nil, err
	}
	n.Embedding = DecodeEmbedding(blob)
	n.Summary = summary.String
	n.Source = source.String
	n.Active = active != 0
	if expires.Valid {
		n.ExpiresAt = &expires.Int64
	}
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]MemNode, error) {
	var nodes []MemNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}
