// Package embeddings defines the Provider interface for vector embedding
// backends. The memory layer embeds conversation turns and recall queries
// with these vectors to do semantic retrieval over past transcripts.
//
// All vectors produced by one Provider instance share the dimensionality
// reported by Dimensions; vectors from different instances must not be mixed
// in the same similarity computation.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The text
	// is passed through verbatim; any model-specific prefixing is the
	// caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts in one provider call.
	// The result has the same length and order as texts. On error the entire
	// result is nil, partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for verifying consistent model usage across stored vectors.
	ModelID() string
}
