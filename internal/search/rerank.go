package search

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// RerankDoc is one candidate handed to a reranker.
type RerankDoc struct {
	ChunkID string
	Text    string
}

// RerankScore is a reranker's relevance judgment for one candidate.
type RerankScore struct {
	ChunkID string
	Score   float64
}

// Reranker scores candidates against the raw query text. Implementations are
// external (cross-encoder services, LLM scorers); failures are always treated
// as fail-open by the engine.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []RerankDoc) ([]RerankScore, error)
}

// RerankerFunc adapts a function to the Reranker interface.
type RerankerFunc func(ctx context.Context, query string, docs []RerankDoc) ([]RerankScore, error)

func (f RerankerFunc) Rerank(ctx context.Context, query string, docs []RerankDoc) ([]RerankScore, error) {
	return f(ctx, query, docs)
}

// BreakerReranker wraps a Reranker with a circuit breaker and a per-call
// timeout. When the breaker is open the call fails fast, and the engine falls
// back to fusion order — repeated reranker outages stop costing latency.
type BreakerReranker struct {
	inner   Reranker
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// NewBreakerReranker wraps inner with a breaker that trips after 5
// consecutive failures and probes again after 30 seconds.
func NewBreakerReranker(inner Reranker, timeout time.Duration) *BreakerReranker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reranker",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("rerank: breaker %s %v -> %v", name, from, to)
		},
	})
	return &BreakerReranker{inner: inner, timeout: timeout, cb: cb}
}

func (b *BreakerReranker) Rerank(ctx context.Context, query string, docs []RerankDoc) ([]RerankScore, error) {
	result, err := b.cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return b.inner.Rerank(callCtx, query, docs)
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	return result.([]RerankScore), nil
}
