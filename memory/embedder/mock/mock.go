// Package mock provides a deterministic Embedder for tests and offline runs.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/avatarmem/memory"
)

// MockEmbedder generates deterministic embeddings based on text hash.
// Specific texts can be pinned to chosen vectors or made to fail, which is
// how tests express "these two texts are semantically close".
type MockEmbedder struct {
	dimensions int

	mu      sync.RWMutex
	vectors map[string][]float32
	errs    map[string]error
	failAll error

	calls atomic.Int64
}

// Option configures a MockEmbedder.
type Option func(*MockEmbedder)

// WithDimensions overrides the default 384 dimensions.
func WithDimensions(n int) Option {
	return func(m *MockEmbedder) { m.dimensions = n }
}

// New creates a new mock embedder.
func New(opts ...Option) *MockEmbedder {
	m := &MockEmbedder{
		dimensions: 384, // Match all-MiniLM-L6-v2 dimensions
		vectors:    make(map[string][]float32),
		errs:       make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetVector pins text to vec. vec is normalized and zero-padded or cut to
// the embedder's dimensions.
func (m *MockEmbedder) SetVector(text string, vec []float32) {
	v := make([]float32, m.dimensions)
	copy(v, vec)
	m.mu.Lock()
	m.vectors[strings.TrimSpace(text)] = normalize(v)
	m.mu.Unlock()
}

// SetError makes Embed fail for text. The error is wrapped in
// memory.ErrEmbeddingProvider.
func (m *MockEmbedder) SetError(text string, err error) {
	m.mu.Lock()
	m.errs[strings.TrimSpace(text)] = err
	m.mu.Unlock()
}

// FailAll makes every call fail until called again with nil.
func (m *MockEmbedder) FailAll(err error) {
	m.mu.Lock()
	m.failAll = err
	m.mu.Unlock()
}

// Calls returns how many times Embed was called.
func (m *MockEmbedder) Calls() int { return int(m.calls.Load()) }

// Embed creates a deterministic embedding from text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, goerr.Wrap(memory.ErrEmptyInput, "text is blank")
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "context done", goerr.V("cause", err.Error()))
	}

	m.mu.RLock()
	failAll, failErr, vec := m.failAll, m.errs[text], m.vectors[text]
	m.mu.RUnlock()

	if failAll != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, failAll.Error())
	}
	if failErr != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, failErr.Error(), goerr.V("text", text))
	}
	if vec != nil {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}

	return hashEmbedding(text, m.dimensions), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// hashEmbedding uses the text hash as seed for pseudo-random generation.
func hashEmbedding(text string, dims int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, dims)
	for i := 0; i < dims; i++ {
		// Simple LCG (Linear Congruential Generator)
		seed = seed*6364136223846793005 + 1442695040888963407
		// Convert to [-1, 1] range
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding)
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
