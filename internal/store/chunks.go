package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Chunk is a unit of indexed document content. Chunks are immutable once
// indexed: a re-ingest inserts a new row and deactivates the old one.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	Embedding  []float32
	Metadata   string // raw JSON, opaque to the store
	Active     bool
	CreatedAt  int64
}

// InsertChunk stores a new chunk. If an active chunk already occupies the
// same (document_id, ordinal), it is deactivated first so the ordinal
// uniqueness invariant holds.
func (db *DB) InsertChunk(c *Chunk) error {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert chunk: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE chunks SET active = 0 WHERE document_id = ? AND ordinal = ? AND active = 1
	`, c.DocumentID, c.Ordinal); err != nil {
		return fmt.Errorf("deactivate prior chunk: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO chunks (id, document_id, ordinal, text, embedding, metadata, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
	`, c.ID, c.DocumentID, c.Ordinal, c.Text, EncodeEmbedding(c.Embedding), c.Metadata, now); err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert chunk: %w", err)
	}
	c.Active = true
	c.CreatedAt = now
	return nil
}

// GetChunk returns an active chunk by id, or nil if not found.
func (db *DB) GetChunk(id string) (*Chunk, error) {
	row := db.QueryRow(`
		SELECT id, document_id, ordinal, text, embedding, metadata, active, created_at
		FROM chunks WHERE id = ? AND active = 1
	`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return c, nil
}

// GetChunks returns the active chunks for the given ids, in no particular order.
func (db *DB) GetChunks(ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// Expand placeholders
	args := make([]any, len(ids))
	marks := ""
	for i, id := range ids {
		args[i] = id
		if i > 0 {
			marks += ","
		}
		marks += "?"
	}

	rows, err := db.Query(`
		SELECT id, document_id, ordinal, text, embedding, metadata, active, created_at
		FROM chunks WHERE active = 1 AND id IN (`+marks+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// SiblingChunks returns the active chunks of a document whose ordinal falls
// within [lo, hi], ordered by ordinal. Used for context expansion.
func (db *DB) SiblingChunks(documentID string, lo, hi int) ([]Chunk, error) {
	rows, err := db.Query(`
		SELECT id, document_id, ordinal, text, embedding, metadata, active, created_at
		FROM chunks
		WHERE document_id = ? AND active = 1 AND ordinal BETWEEN ? AND ?
		ORDER BY ordinal
	`, documentID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sibling chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// AllChunks returns every active chunk. The lexical and vector indexes load
// from here at startup.
func (db *DB) AllChunks() ([]Chunk, error) {
	rows, err := db.Query(`
		SELECT id, document_id, ordinal, text, embedding, metadata, active, created_at
		FROM chunks WHERE active = 1
		ORDER BY document_id, ordinal
	`)
	if err != nil {
		return nil, fmt.Errorf("all chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var blob []byte
	var metadata sql.NullString
	var active int
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &blob, &metadata, &active, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Embedding = DecodeEmbedding(blob)
	c.Metadata = metadata.String
	c.Active = active != 0
	return &c, nil
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}
