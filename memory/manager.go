package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/becomeliminal/avatarmem/logging"
)

// Manager is the entry point used by the conversation layer:
//   - Remember schedules the write pipeline for a turn and returns at once
//   - Recall and Retrieve answer "what do I know about this person"
//   - ListFragments lists a scope through the cache
//   - Forget erases a scope
type Manager struct {
	store     Store
	embedder  Embedder
	pipeline  *Pipeline
	cache     Cache
	scheduler *Scheduler
	ownsSched bool
	config    *Config
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCache fronts ListFragments with c and lets writes invalidate it.
func WithCache(c Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithScheduler runs background work on s instead of a private pool.
// The caller keeps ownership of s.
func WithScheduler(s *Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// NewManager creates a Manager. A nil config uses DefaultConfig.
func NewManager(store Store, embedder Embedder, extractor FragmentExtractor, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	m := &Manager{
		store:    store,
		embedder: embedder,
		config:   config,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.scheduler == nil {
		m.scheduler = NewScheduler(config.Workers, config.QueueSize)
		m.ownsSched = true
	}
	m.pipeline = NewPipeline(store, embedder, extractor, m.cache, config)
	return m
}

// Remember schedules the write pipeline for turn. It never blocks on
// providers and never fails the caller: a full queue or closed scheduler
// only drops this turn's memories, with a log line.
func (m *Manager) Remember(ctx context.Context, turn Turn) {
	if !m.config.Enabled {
		return
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	err := m.scheduler.Submit(ctx, "memory.remember", func(jobCtx context.Context) {
		m.pipeline.Run(jobCtx, turn)
	})
	if err != nil {
		logging.From(ctx).Warn("[MEMORY] turn not scheduled", "error", err)
	}
}

// RememberNow runs the write pipeline synchronously and returns the number
// of fragments stored.
func (m *Manager) RememberNow(ctx context.Context, turn Turn) int {
	if !m.config.Enabled {
		return 0
	}
	return m.pipeline.Run(ctx, turn)
}

// RecallOptions overrides the configured retrieval parameters.
// Zero values take the configured defaults.
type RecallOptions struct {
	// Threshold is the minimum cosine similarity [0.0-1.0].
	Threshold  *float64
	MaxResults int
}

// Recall returns the fragments of scope relevant to query. Unlike the write
// path, failures are returned to the caller with their typed cause.
func (m *Manager) Recall(ctx context.Context, scope ScopeKey, query string, opts RecallOptions) ([]ScoredFragment, error) {
	if !m.config.Enabled {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "memory.Manager.Recall")
	defer span.End()

	if err := scope.Validate(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(scopeAttributes(scope)...)
	ctx = logging.WithScope(ctx, scope)

	threshold := m.config.RecallThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	limit := m.config.RecallLimit
	if opts.MaxResults > 0 {
		limit = opts.MaxResults
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return nil, goerr.Wrap(err, "failed to embed recall query")
	}

	hits, err := m.store.Query(ctx, scope, embedding, threshold, limit)
	if err != nil {
		recordSpanError(span, err)
		return nil, goerr.Wrap(err, "failed to query fragments", goerr.V("scope", scope.String()))
	}
	span.SetAttributes(attribute.Int("memory.hits", len(hits)))

	logging.From(ctx).Debug("[MEMORY] recalled fragments",
		"hits", len(hits), "query", truncate(query, 50))
	return hits, nil
}

// Retrieve recalls with the configured defaults and formats the hits for
// prompt injection. It returns "" when nothing relevant is known.
func (m *Manager) Retrieve(ctx context.Context, scope ScopeKey, query string) (string, error) {
	hits, err := m.Recall(ctx, scope, query, RecallOptions{})
	if err != nil {
		return "", err
	}
	return FormatForPrompt(hits, query), nil
}

// ListFragments returns every fragment of scope, newest first. Results are
// cached until the next write to or erasure of the scope.
func (m *Manager) ListFragments(ctx context.Context, scope ScopeKey) ([]*Fragment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	key := listCacheKey(scope)
	if m.cache != nil {
		if v, ok := m.cache.Get(key); ok {
			if frags, ok := v.([]*Fragment); ok {
				return append([]*Fragment(nil), frags...), nil
			}
		}
	}

	frags, err := m.store.List(ctx, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list fragments", goerr.V("scope", scope.String()))
	}

	if m.cache != nil {
		m.cache.Set(key, append([]*Fragment(nil), frags...), m.config.ListCacheTTL)
	}
	return frags, nil
}

// Forget erases every fragment of scope and returns how many were removed.
// The cache entry for scope is gone before Forget returns.
func (m *Manager) Forget(ctx context.Context, scope ScopeKey) (int, error) {
	ctx, span := tracer.Start(ctx, "memory.Manager.Forget")
	defer span.End()

	if err := scope.Validate(); err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	span.SetAttributes(scopeAttributes(scope)...)
	ctx = logging.WithScope(ctx, scope)

	n, err := m.store.DeleteScope(ctx, scope)
	if m.cache != nil {
		// Invalidate even on partial failure; some rows may be gone.
		m.cache.Invalidate(listCacheKey(scope))
	}
	if err != nil {
		recordSpanError(span, err)
		return n, goerr.Wrap(err, "failed to delete scope", goerr.V("scope", scope.String()))
	}
	span.SetAttributes(attribute.Int("memory.deleted", n))

	logging.From(ctx).Info("[MEMORY] scope forgotten", "deleted", n)
	return n, nil
}

// Close waits for scheduled turns until ctx expires, then releases the
// private scheduler. A scheduler passed with WithScheduler is left running.
func (m *Manager) Close(ctx context.Context) error {
	if !m.ownsSched {
		return nil
	}
	return m.scheduler.Close(ctx)
}

// FormatForPrompt renders hits as a numbered list under a header.
func FormatForPrompt(hits []ScoredFragment, query string) string {
	if len(hits) == 0 {
		return ""
	}

	var parts []string
	parts = append(parts, "=== WHAT YOU REMEMBER ABOUT THIS PERSON ===\n")

	// Share a fixed budget between fragments
	maxLengthPerFragment := 2000 / len(hits)
	if maxLengthPerFragment < 100 {
		maxLengthPerFragment = 100
	}

	for i, h := range hits {
		formatted := h.Fragment.Format(FormatContext{
			Query:     query,
			MaxLength: maxLengthPerFragment,
		})
		parts = append(parts, fmt.Sprintf("%d. %s\n", i+1, formatted))
	}

	return strings.Join(parts, "\n")
}

func listCacheKey(scope ScopeKey) string {
	return "fragments\x00" + scope.key()
}

// Config holds memory configuration.
type Config struct {
	// Enabled toggles the memory system on/off.
	Enabled bool

	// RecallThreshold is the default minimum similarity for Recall [0.0-1.0].
	// Good values depend on the embedding model: small local models score
	// related text around 0.35, hosted models around 0.7-0.85.
	RecallThreshold float64

	// RecallLimit is the default maximum number of fragments per Recall.
	RecallLimit int

	// EmbedConcurrency bounds concurrent embedding calls within one turn.
	EmbedConcurrency int

	// EmbedAttempts is the number of tries per candidate. 1 disables retry.
	EmbedAttempts int

	// EmbedBackoff is the base delay between embedding attempts; the n-th
	// retry waits n times this long.
	EmbedBackoff time.Duration

	// RetryTransientStore resubmits items that failed with a transient
	// StorageError once.
	RetryTransientStore bool

	// TurnTimeout bounds one pipeline run, providers included.
	TurnTimeout time.Duration

	// ListCacheTTL bounds how long a cached listing lives.
	ListCacheTTL time.Duration

	// Workers and QueueSize size the private scheduler.
	Workers   int
	QueueSize int
}

// DefaultConfig returns defaults suited to local development.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		RecallThreshold:  0.5,
		RecallLimit:      10,
		EmbedConcurrency: 4,
		EmbedAttempts:    1,
		EmbedBackoff:     200 * time.Millisecond,
		TurnTimeout:      30 * time.Second,
		ListCacheTTL:     5 * time.Minute,
		Workers:          4,
		QueueSize:        128,
	}
}
