// Package session maintains per-conversation short-term memory: a bounded
// live window of turns plus a running summary that absorbs evicted turns.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/metrics"
	"github.com/lazypower/recall/internal/store"
)

// truncated assistant turns keep this many characters in the mechanical
// fallback summary.
const assistantExcerptLen = 200

// Memory manages session windows over the store. When the live window
// overflows MaxTurns, the oldest FoldBlock turns are summarized into the
// session summary and evicted.
type Memory struct {
	DB     *store.DB
	Client llm.Client
	Config config.SessionConfig
}

// New creates a session memory manager.
func New(db *store.DB, client llm.Client, cfg config.SessionConfig) *Memory {
	return &Memory{DB: db, Client: client, Config: cfg}
}

// EstimateTokens approximates token count as len/4 plus a small per-message
// overhead. Coarse on purpose; only the budget accounting uses it.
func EstimateTokens(content string) int {
	n := len(content)/4 + 4
	if n < 1 {
		n = 1
	}
	return n
}

// Append records a turn and folds the window if it has overflowed. Folding
// failures never lose the turn: summarization falls back to a mechanical
// condensation before eviction.
func (m *Memory) Append(ctx context.Context, sessionID, userID, role, content string) error {
	if _, err := m.DB.EnsureSession(sessionID, userID); err != nil {
		return err
	}

	turn := &store.Turn{
		SessionID:     sessionID,
		Role:          role,
		Content:       content,
		TokenEstimate: EstimateTokens(content),
	}
	if err := m.DB.AppendTurn(turn); err != nil {
		return err
	}

	count, err := m.DB.TurnCount(sessionID)
	if err != nil {
		return err
	}
	if count > m.Config.MaxTurns {
		if err := m.fold(ctx, sessionID); err != nil {
			return fmt.Errorf("fold session %s: %w", sessionID, err)
		}
	}
	return nil
}

// fold summarizes the oldest FoldBlock turns into the session summary and
// evicts them from the live window.
func (m *Memory) fold(ctx context.Context, sessionID string) error {
	sess, err := m.DB.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}

	turns, err := m.DB.SessionTurns(sessionID)
	if err != nil {
		return err
	}
	block := m.Config.FoldBlock
	if block > len(turns) {
		block = len(turns)
	}
	oldest := turns[:block]

	summary := m.summarize(ctx, sess.Summary, oldest)
	if err := m.DB.SetSummary(sessionID, summary); err != nil {
		return err
	}

	ids := make([]int64, len(oldest))
	for i, t := range oldest {
		ids[i] = t.ID
	}
	return m.DB.DeleteTurns(ids)
}

// summarize asks the LLM to fold turns into the running summary, degrading
// to a mechanical condensation when the call fails.
func (m *Memory) summarize(ctx context.Context, existing string, turns []store.Turn) string {
	transcript := formatTurns(turns)

	if m.Client != nil {
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		resp, err := m.Client.Complete(cctx, llm.SummarizePrompt(existing, transcript))
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content)
		}
		if err != nil {
			log.Printf("session: summarize failed, using mechanical fold: %v", err)
			metrics.ExternalCallFailures.WithLabelValues("summarize").Inc()
		}
	}

	condensed := condense(turns)
	if existing == "" {
		return condensed
	}
	return existing + "\n" + condensed
}

// condense is the no-LLM fallback: user turns verbatim (their words carry the
// signal), assistant turns truncated to an excerpt.
func condense(turns []store.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		content := t.Content
		if t.Role == "assistant" && len(content) > assistantExcerptLen {
			content = content[:assistantExcerptLen] + "..."
		}
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTurns(turns []store.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Content)
	}
	return b.String()
}

// GetContext assembles the session context for prompt injection: the running
// summary first, then as many of the newest turns as fit the token budget.
// Accumulation walks newest to oldest and stops strictly before exceeding
// maxTokens; included turns are returned in chronological order.
func (m *Memory) GetContext(sessionID string, maxTokens int) (string, error) {
	sess, err := m.DB.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}

	budget := maxTokens
	var parts []string
	if sess.Summary != "" {
		cost := EstimateTokens(sess.Summary)
		if cost <= budget {
			parts = append(parts, "Summary of earlier conversation:\n"+sess.Summary)
			budget -= cost
		}
	}

	turns, err := m.DB.SessionTurns(sessionID)
	if err != nil {
		return "", err
	}

	var included []store.Turn
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].TokenEstimate > budget {
			break
		}
		budget -= turns[i].TokenEstimate
		included = append(included, turns[i])
	}
	// included is newest-first; flip to chronological.
	for i, j := 0, len(included)-1; i < j; i, j = i+1, j-1 {
		included[i], included[j] = included[j], included[i]
	}
	if len(included) > 0 {
		parts = append(parts, formatTurns(included))
	}

	return strings.TrimRight(strings.Join(parts, "\n\n"), "\n"), nil
}
