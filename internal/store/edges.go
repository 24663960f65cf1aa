package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// MemEdge is a directed, typed relationship between two memory nodes of the
// same user. At most one active edge may exist per (source, target, relation).
type MemEdge struct {
	ID               string
	UserID           string
	SourceID         string
	TargetID         string
	Relation         string // causes, relates_to, contradicts, supports, precedes, enables
	Strength         float64
	ObservationCount int
	Active           bool
	CreatedAt        int64
}

// UpsertEdge creates the edge or reinforces an existing active one.
// Reinforcement averages strength: (old + new) / 2, and bumps
// observation_count. If duplicate active rows are found (consistency
// violation), they are merged in place and the repair is logged.
func (db *DB) UpsertEdge(userID, sourceID, targetID, relation string, strength float64) (*MemEdge, error) {
	strength = clamp01(strength)

	rows, err := db.Query(`
		SELECT id, user_id, source_id, target_id, relation, strength, observation_count, active, created_at
		FROM mem_edges
		WHERE source_id = ? AND target_id = ? AND relation = ? AND active = 1
		ORDER BY created_at
	`, sourceID, targetID, relation)
	if err != nil {
		return nil, fmt.Errorf("find edge: %w", err)
	}

	var existing []MemEdge
	for rows.Next() {
		var e MemEdge
		var active int
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceID, &e.TargetID, &e.Relation,
			&e.Strength, &e.ObservationCount, &active, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Active = active != 0
		existing = append(existing, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(existing) > 1 {
		// Should be impossible under the partial unique index; repair by
		// folding the extras into the oldest row.
		log.Printf("edges: repairing %d duplicate active edges %s->%s (%s)",
			len(existing), sourceID, targetID, relation)
		keep := &existing[0]
		for _, dup := range existing[1:] {
			keep.Strength = (keep.Strength + dup.Strength) / 2
			keep.ObservationCount += dup.ObservationCount
			if _, err := db.Exec(`UPDATE mem_edges SET active = 0 WHERE id = ?`, dup.ID); err != nil {
				return nil, fmt.Errorf("deactivate duplicate edge: %w", err)
			}
		}
		if _, err := db.Exec(`
			UPDATE mem_edges SET strength = ?, observation_count = ? WHERE id = ?
		`, clamp01(keep.Strength), keep.ObservationCount, keep.ID); err != nil {
			return nil, fmt.Errorf("repair edge: %w", err)
		}
		existing = existing[:1]
	}

	if len(existing) == 1 {
		e := existing[0]
		e.Strength = clamp01((e.Strength + strength) / 2)
		e.ObservationCount++
		if _, err := db.Exec(`
			UPDATE mem_edges SET strength = ?, observation_count = ? WHERE id = ?
		`, e.Strength, e.ObservationCount, e.ID); err != nil {
			return nil, fmt.Errorf("reinforce edge: %w", err)
		}
		return &e, nil
	}

	now := time.Now().UnixMilli()
	e := MemEdge{
		ID:               uuid.NewString(),
		UserID:           userID,
		SourceID:         sourceID,
		TargetID:         targetID,
		Relation:         relation,
		Strength:         strength,
		ObservationCount: 1,
		Active:           true,
		CreatedAt:        now,
	}
	if _, err := db.Exec(`
		INSERT INTO mem_edges (id, user_id, source_id, target_id, relation, strength, observation_count, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, 1, ?)
	`, e.ID, e.UserID, e.SourceID, e.TargetID, e.Relation, e.Strength, e.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert edge: %w", err)
	}
	return &e, nil
}

// ActiveEdges returns all active edges for a user, for adjacency building.
// Honors ctx cancellation.
func (db *DB) ActiveEdges(ctx context.Context, userID string) ([]MemEdge, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, source_id, target_id, relation, strength, observation_count, active, created_at
		FROM mem_edges WHERE user_id = ? AND active = 1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("active edges: %w", err)
	}
	defer rows.Close()

	var edges []MemEdge
	for rows.Next() {
		var e MemEdge
		var active int
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceID, &e.TargetID, &e.Relation,
			&e.Strength, &e.ObservationCount, &active, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Active = active != 0
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
