// Package mock provides an in-memory implementation of memory.Store for
// tests and local development without a database.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/emberworks/ember/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

type record struct {
	turn      memory.Turn
	embedding []float32
}

// Store is an in-memory memory.Store. Recall uses exact cosine distance over
// all stored embeddings. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	records []record
}

// New creates an empty Store.
func New() *Store {
	return &Store{nextID: 1}
}

// WriteTurn implements memory.Store.
func (s *Store) WriteTurn(_ context.Context, turn memory.Turn, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn.ID = s.nextID
	s.nextID++
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	if embedding == nil {
		vec = nil
	}
	s.records = append(s.records, record{turn: turn, embedding: vec})
	return nil
}

// Recent implements memory.Store.
func (s *Store) Recent(_ context.Context, sessionID string, limit int) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := []memory.Turn{}
	for _, r := range s.records {
		if r.turn.SessionID == sessionID {
			turns = append(turns, r.turn)
		}
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// Recall implements memory.Store.
func (s *Store) Recall(_ context.Context, embedding []float32, topK int, filter memory.RecallFilter) ([]memory.RecallResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := []memory.RecallResult{}
	for _, r := range s.records {
		if r.embedding == nil {
			continue
		}
		if filter.SessionID != "" && r.turn.SessionID != filter.SessionID {
			continue
		}
		if filter.Origin != "" && r.turn.Origin != filter.Origin {
			continue
		}
		if filter.User != "" && r.turn.User != filter.User {
			continue
		}
		if !filter.After.IsZero() && !r.turn.Timestamp.After(filter.After) {
			continue
		}
		if !filter.Before.IsZero() && !r.turn.Timestamp.Before(filter.Before) {
			continue
		}
		results = append(results, memory.RecallResult{
			Turn:     r.turn,
			Distance: cosineDistance(embedding, r.embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Turns returns a copy of all stored turns, for test assertions.
func (s *Store) Turns() []memory.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Turn, len(s.records))
	for i, r := range s.records {
		out[i] = r.turn
	}
	return out
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
