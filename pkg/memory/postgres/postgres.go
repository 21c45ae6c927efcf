// Package postgres provides a PostgreSQL-backed implementation of the
// conversation memory store.
//
// Turns live in a single table with a pgvector embedding column; Recall uses
// an HNSW index for approximate nearest-neighbour search by cosine distance.
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/emberworks/ember/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store implements memory.Store on a PostgreSQL database with pgvector.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g. 1536 for text-embedding-3-small, 768 for
// nomic-embed-text). Changing it after the first migration requires a manual
// schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres memory: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres memory: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable. Used by the readiness
// probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres memory: ping: %w", err)
	}
	return nil
}

// ddlTurns returns the schema DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at creation time.
func ddlTurns(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    origin      TEXT         NOT NULL,
    username    TEXT         NOT NULL DEFAULT '',
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_session_created
    ON turns (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_turns_embedding
    ON turns USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the schema. It is idempotent and safe to call on
// every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlTurns(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// WriteTurn implements memory.Store.
func (s *Store) WriteTurn(ctx context.Context, turn memory.Turn, embedding []float32) error {
	const q = `
		INSERT INTO turns (session_id, origin, username, role, text, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var vec any
	if embedding != nil {
		vec = pgvector.NewVector(embedding)
	}
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, q,
		turn.SessionID,
		turn.Origin,
		turn.User,
		turn.Role,
		turn.Text,
		vec,
		ts,
	)
	if err != nil {
		return fmt.Errorf("postgres memory: write turn: %w", err)
	}
	return nil
}

// Recent implements memory.Store. It selects the newest limit turns and
// returns them oldest-first so callers can feed them straight into a prompt.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]memory.Turn, error) {
	const q = `
		SELECT id, session_id, origin, username, role, text, created_at
		FROM   turns
		WHERE  session_id = $1
		ORDER  BY created_at DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: recent: %w", err)
	}

	turns, err := pgx.CollectRows(rows, scanTurn)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: scan rows: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}

// Recall implements memory.Store using pgvector cosine distance.
func (s *Store) Recall(ctx context.Context, embedding []float32, topK int, filter memory.RecallFilter) ([]memory.RecallResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if filter.Origin != "" {
		conditions = append(conditions, "origin = "+next(filter.Origin))
	}
	if filter.User != "" {
		conditions = append(conditions, "username = "+next(filter.User))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(filter.Before))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, session_id, origin, username, role, text, created_at,
		       embedding <=> $1 AS distance
		FROM   turns
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: recall: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.RecallResult, error) {
		var r memory.RecallResult
		if err := row.Scan(
			&r.Turn.ID,
			&r.Turn.SessionID,
			&r.Turn.Origin,
			&r.Turn.User,
			&r.Turn.Role,
			&r.Turn.Text,
			&r.Turn.Timestamp,
			&r.Distance,
		); err != nil {
			return memory.RecallResult{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres memory: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.RecallResult{}
	}
	return results, nil
}

func scanTurn(row pgx.CollectableRow) (memory.Turn, error) {
	var t memory.Turn
	err := row.Scan(&t.ID, &t.SessionID, &t.Origin, &t.User, &t.Role, &t.Text, &t.Timestamp)
	return t, err
}
