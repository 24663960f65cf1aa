package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "chunks: immutable indexed document content",
		SQL: `
CREATE TABLE chunks (
    id          TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    ordinal     INTEGER NOT NULL,
    text        TEXT NOT NULL,
    embedding   BLOB NOT NULL,
    metadata    TEXT,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_chunks_document ON chunks(document_id, ordinal);
CREATE UNIQUE INDEX idx_chunks_active_ordinal ON chunks(document_id, ordinal) WHERE active = 1;
`,
	},
	{
		Version:     2,
		Description: "mem_nodes: per-user memory graph facts",
		SQL: `
CREATE TABLE mem_nodes (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    kind               TEXT NOT NULL CHECK (kind IN ('fact', 'preference', 'goal', 'context', 'skill', 'interest')),
    content            TEXT NOT NULL,
    summary            TEXT,
    embedding          BLOB NOT NULL,
    confidence         REAL NOT NULL DEFAULT 0.5,
    importance         REAL NOT NULL DEFAULT 0.5,
    mention_count      INTEGER NOT NULL DEFAULT 1,
    active             INTEGER NOT NULL DEFAULT 1,
    source             TEXT,
    created_at         INTEGER NOT NULL,
    last_reinforced_at INTEGER NOT NULL,
    expires_at         INTEGER
);

CREATE INDEX idx_mem_nodes_user   ON mem_nodes(user_id, active);
CREATE INDEX idx_mem_nodes_kind   ON mem_nodes(user_id, kind);
`,
	},
	{
		Version:     3,
		Description: "mem_edges: typed relationships between memory nodes",
		SQL: `
CREATE TABLE mem_edges (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    source_id         TEXT NOT NULL,
    target_id         TEXT NOT NULL,
    relation          TEXT NOT NULL CHECK (relation IN ('causes', 'relates_to', 'contradicts', 'supports', 'precedes', 'enables')),
    strength          REAL NOT NULL DEFAULT 0.5,
    observation_count INTEGER NOT NULL DEFAULT 1,
    active            INTEGER NOT NULL DEFAULT 1,
    created_at        INTEGER NOT NULL,

    FOREIGN KEY (source_id) REFERENCES mem_nodes(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES mem_nodes(id) ON DELETE CASCADE
);

CREATE INDEX idx_mem_edges_user   ON mem_edges(user_id, active);
CREATE INDEX idx_mem_edges_source ON mem_edges(source_id);
CREATE UNIQUE INDEX idx_mem_edges_triple ON mem_edges(source_id, target_id, relation) WHERE active = 1;
`,
	},
	{
		Version:     4,
		Description: "sessions + session_turns: rolling conversation window",
		SQL: `
CREATE TABLE sessions (
    session_id TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    summary    TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE session_turns (
    id             INTEGER PRIMARY KEY,
    session_id     TEXT NOT NULL,
    role           TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content        TEXT NOT NULL,
    token_estimate INTEGER NOT NULL,
    created_at     INTEGER NOT NULL,

    FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX idx_turns_session ON session_turns(session_id, id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
