// Package memory defines the conversation memory layer.
//
// Every completed turn is persisted as a [Turn]: the speaker, what they said,
// and what the co-host replied. Two retrieval paths feed the response
// pipeline:
//
//   - Recent: the rolling tail of the current session, in chronological
//     order, used as short-term conversation history.
//   - Recall: embedding-based similarity search over all stored turns, used
//     to surface older context that keyword recency would miss.
//
// Interfaces are public so alternative backends (Postgres/pgvector, an
// in-memory store for tests) can be supplied without depending on internals.
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Turn is one persisted conversation exchange.
type Turn struct {
	// ID is assigned by the store on write and is zero before that.
	ID int64

	// SessionID groups turns belonging to one stream session.
	SessionID string

	// Origin records which input path produced the turn ("voice" or "chat").
	Origin string

	// User is the display name of the speaker. Empty for voice turns when no
	// speaker identification is configured.
	User string

	// Role is "user" for inputs and "assistant" for co-host replies.
	Role string

	// Text is the spoken or written content.
	Text string

	// Timestamp is when the turn was recorded.
	Timestamp time.Time
}

// RecallFilter narrows a similarity search. All non-zero fields are applied
// as AND conditions.
type RecallFilter struct {
	// SessionID restricts results to a single session. Empty searches all
	// sessions.
	SessionID string

	// Origin restricts results to one input path.
	Origin string

	// User restricts results to turns by a specific user.
	User string

	// After filters turns recorded after this instant (exclusive).
	After time.Time

	// Before filters turns recorded before this instant (exclusive).
	Before time.Time
}

// RecallResult pairs a retrieved turn with its vector-space distance from the
// query embedding. Lower distance means higher similarity.
type RecallResult struct {
	Turn     Turn
	Distance float64
}

// Store is the abstraction over any conversation memory backend.
type Store interface {
	// WriteTurn appends a turn together with its pre-computed embedding.
	// A nil embedding stores the turn without indexing it for Recall.
	WriteTurn(ctx context.Context, turn Turn, embedding []float32) error

	// Recent returns the newest limit turns of the given session in
	// chronological order. Returns an empty (non-nil) slice when the session
	// has no turns.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// Recall finds the topK stored turns whose embeddings are closest to the
	// query embedding, filtered by filter and ordered by ascending distance.
	// Returns an empty (non-nil) slice when nothing matches.
	Recall(ctx context.Context, embedding []float32, topK int, filter RecallFilter) ([]RecallResult, error)
}
