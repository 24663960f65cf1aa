package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Session owns a conversation's rolling summary.
type Session struct {
	SessionID string
	UserID    string
	Summary   string
	CreatedAt int64
	UpdatedAt int64
}

// Turn is one exchange in a session.
type Turn struct {
	ID            int64
	SessionID     string
	Role          string // "user" or "assistant"
	Content       string
	TokenEstimate int
	CreatedAt     int64
}

// EnsureSession creates the session row if it does not exist and returns it.
func (db *DB) EnsureSession(sessionID, userID string) (*Session, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, user_id, summary, created_at, updated_at)
		VALUES (?, ?, '', ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`, sessionID, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return db.GetSession(sessionID)
}

// GetSession returns a session by id, or nil if not found.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	var s Session
	err := db.QueryRow(`
		SELECT session_id, user_id, summary, created_at, updated_at
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&s.SessionID, &s.UserID, &s.Summary, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// AppendTurn stores a turn at the end of the session window.
func (db *DB) AppendTurn(t *Turn) error {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO session_turns (session_id, role, content, token_estimate, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.SessionID, t.Role, t.Content, t.TokenEstimate, now)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	id, _ := result.LastInsertId()
	t.ID = id
	t.CreatedAt = now
	return nil
}

// SessionTurns returns the live window, oldest first.
func (db *DB) SessionTurns(sessionID string) ([]Turn, error) {
	rows, err := db.Query(`
		SELECT id, session_id, role, content, token_estimate, created_at
		FROM session_turns WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.TokenEstimate, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// TurnCount returns the live window size for a session.
func (db *DB) TurnCount(sessionID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM session_turns WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("turn count: %w", err)
	}
	return n, nil
}

// DeleteTurns evicts the given turns from the live window (after folding
// them into the session summary).
func (db *DB) DeleteTurns(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	marks := ""
	for i, id := range ids {
		args[i] = id
		if i > 0 {
			marks += ","
		}
		marks += "?"
	}
	if _, err := db.Exec(`DELETE FROM session_turns WHERE id IN (`+marks+`)`, args...); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}

// SetSummary replaces the session's running summary.
func (db *DB) SetSummary(sessionID, summary string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sessions SET summary = ?, updated_at = ? WHERE session_id = ?
	`, summary, now, sessionID)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}
