package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/memory"
	"github.com/becomeliminal/avatarmem/memory/embedder/mock"
	"github.com/becomeliminal/avatarmem/memory/store/chromem"
)

const testDims = 32

// fakeGenerator returns a fixed answer and records requests.
type fakeGenerator struct {
	out   string
	err   error
	calls atomic.Int32

	mu   sync.Mutex
	last memory.GenerateRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req memory.GenerateRequest) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.last = req
	g.mu.Unlock()
	return g.out, g.err
}

func (g *fakeGenerator) lastRequest() memory.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// stubExtractor returns fixed candidates without a generator.
type stubExtractor struct {
	texts []string
	tone  string
	err   error
	panic bool
}

func (s *stubExtractor) Extract(context.Context, string, memory.ScopeKey, *memory.PriorContext) (*memory.Extraction, error) {
	if s.panic {
		panic("extractor exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	ext := &memory.Extraction{Tone: s.tone}
	for _, t := range s.texts {
		ext.Candidates = append(ext.Candidates, memory.Candidate{Text: t, Confidence: 1})
	}
	return ext, nil
}

// flakyStore wraps a Store. The first StoreBatch fails the items whose text
// is in failTexts with a transient error; batchErr fails whole calls.
type flakyStore struct {
	memory.Store

	failTexts map[string]bool
	batchErr  error
	queryErr  error

	mu      sync.Mutex
	batches [][]memory.NewFragment
}

func (s *flakyStore) StoreBatch(ctx context.Context, scope memory.ScopeKey, items []memory.NewFragment) (*memory.BatchResult, error) {
	s.mu.Lock()
	first := len(s.batches) == 0
	s.batches = append(s.batches, items)
	s.mu.Unlock()

	if s.batchErr != nil {
		return nil, s.batchErr
	}
	if !first || len(s.failTexts) == 0 {
		return s.Store.StoreBatch(ctx, scope, items)
	}

	var pass []memory.NewFragment
	var passIdx []int
	result := &memory.BatchResult{}
	for i, it := range items {
		if s.failTexts[it.Text] {
			result.Failures = append(result.Failures, memory.BatchFailure{
				Index: i,
				Err:   memory.NewStorageError("insert", true, context.DeadlineExceeded),
			})
			continue
		}
		pass = append(pass, it)
		passIdx = append(passIdx, i)
	}
	inner, err := s.Store.StoreBatch(ctx, scope, pass)
	if err != nil {
		return nil, err
	}
	result.IDs = inner.IDs
	for _, f := range inner.Failures {
		result.Failures = append(result.Failures, memory.BatchFailure{Index: passIdx[f.Index], Err: f.Err})
	}
	return result, nil
}

func (s *flakyStore) Query(ctx context.Context, scope memory.ScopeKey, emb []float32, threshold float64, maxResults int) ([]memory.ScoredFragment, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.Store.Query(ctx, scope, emb, threshold, maxResults)
}

func (s *flakyStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// mapCache is a plain map Cache that counts hits.
type mapCache struct {
	mu          sync.Mutex
	m           map[string]any
	hits        int
	invalidated []string
}

func newMapCache() *mapCache { return &mapCache{m: map[string]any{}} }

func (c *mapCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *mapCache) Set(key string, value any, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *mapCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	c.invalidated = append(c.invalidated, key)
}

func newStore(t *testing.T) *chromem.Store {
	t.Helper()
	s, err := chromem.New(chromem.Config{Dimensions: testDims})
	require.NoError(t, err)
	return s
}

func newEmbedder() *mock.MockEmbedder {
	return mock.New(mock.WithDimensions(testDims))
}

func testConfig() *memory.Config {
	cfg := memory.DefaultConfig()
	cfg.EmbedBackoff = time.Millisecond
	return cfg
}

func mustScope(t *testing.T, owner, avatar, token string) memory.ScopeKey {
	t.Helper()
	k, err := memory.ResolveScope(owner, avatar, token)
	require.NoError(t, err)
	return k
}
