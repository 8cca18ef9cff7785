package memory

import (
	"context"
	"time"
)

// Store is the vector storage backend for fragments.
// Implementations: chromem (embedded), sqlite (single file), firestore (managed).
//
// Every operation takes a ScopeKey and must apply all three of its components
// as filters of the underlying query. No read may return a fragment whose
// scope differs from the requested one.
type Store interface {
	// StoreBatch inserts fragments into scope. Items are independent: a
	// failing item is reported in BatchResult.Failures and does not affect
	// the others. The returned error is non-nil only when the batch as a
	// whole could not be attempted (invalid scope, closed store).
	StoreBatch(ctx context.Context, scope ScopeKey, items []NewFragment) (*BatchResult, error)

	// Query returns fragments of scope whose cosine similarity to embedding
	// is at least threshold, highest similarity first, newest first on ties,
	// at most maxResults of them.
	Query(ctx context.Context, scope ScopeKey, embedding []float32, threshold float64, maxResults int) ([]ScoredFragment, error)

	// List returns every fragment of scope, newest first.
	List(ctx context.Context, scope ScopeKey) ([]*Fragment, error)

	// DeleteScope removes every fragment of scope and returns how many were
	// removed. Deleting an empty scope returns 0.
	DeleteScope(ctx context.Context, scope ScopeKey) (int, error)

	// Dimensions returns the embedding dimension the store accepts.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local), openai, gemini, ollama.
//
// Embed returns ErrEmptyInput for blank text and wraps every provider
// failure in ErrEmbeddingProvider. Embedders do not retry.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// GenerateRequest is a single-shot text generation call.
type GenerateRequest struct {
	System string
	Prompt string
	// JSON asks the provider to constrain its output to a JSON document
	// when it supports doing so.
	JSON      bool
	MaxTokens int
}

// Generator is the text-generation provider used for fragment extraction.
// Implementations: anthropic, gemini, openai, ollama.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// FragmentExtractor turns one user message into candidate fragments.
type FragmentExtractor interface {
	Extract(ctx context.Context, message string, scope ScopeKey, prior *PriorContext) (*Extraction, error)
}

// Cache is the read-through cache used for slow-changing listings.
// Invalidate must be synchronous: once it returns, Get for key misses.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Invalidate(key string)
}

// Turn is one conversational turn handed to the write pipeline.
type Turn struct {
	OwnerUserID       string
	AvatarID          string
	RelationshipToken string
	Message           string
	Timestamp         time.Time
	Prior             *PriorContext
}

// PriorContext carries optional conversation context for extraction.
type PriorContext struct {
	Summary        string
	RecentMessages []string
}
