package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/avatarmem/logging"
)

var tracer = otel.Tracer("github.com/becomeliminal/avatarmem/memory")

// Pipeline is the write path for one turn:
// resolve scope, extract, embed, store.
//
// Run never returns an error. Every failure is logged and degrades the
// result to fewer (possibly zero) stored fragments, so a broken provider
// can never break the conversation that triggered it.
type Pipeline struct {
	store     Store
	embedder  Embedder
	extractor FragmentExtractor
	cache     Cache
	config    *Config
	now       func() time.Time
}

// NewPipeline creates a Pipeline. cache may be nil.
func NewPipeline(store Store, embedder Embedder, extractor FragmentExtractor, cache Cache, config *Config) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		cache:     cache,
		config:    config,
		now:       time.Now,
	}
}

// Run processes turn and returns the number of fragments stored.
func (p *Pipeline) Run(ctx context.Context, turn Turn) (stored int) {
	logger := logging.From(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("[MEMORY] pipeline panicked", "panic", fmt.Sprint(r))
			stored = 0
		}
	}()

	if p.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TurnTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "memory.Pipeline.Run")
	defer span.End()

	scope, err := ResolveScope(turn.OwnerUserID, turn.AvatarID, turn.RelationshipToken)
	if err != nil {
		logger.Warn("[MEMORY] skipping turn with invalid scope", "error", err)
		recordSpanError(span, err)
		return 0
	}
	span.SetAttributes(scopeAttributes(scope)...)
	ctx = logging.WithScope(ctx, scope)
	logger = logging.From(ctx)

	ext, err := p.extractor.Extract(ctx, turn.Message, scope, turn.Prior)
	if err != nil {
		if errors.Is(err, ErrExtractionParse) {
			logger.Warn("[MEMORY] extraction output unparsable, no fragments", "error", err)
		} else {
			logger.Warn("[MEMORY] extraction failed", "error", err)
		}
		recordSpanError(span, err)
		return 0
	}
	if len(ext.Candidates) == 0 {
		logger.Debug("[MEMORY] nothing worth remembering")
		return 0
	}

	ts := turn.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	convCtx := NewConversationContext(ts, turn.Message, ext.Tone)

	items := p.embedCandidates(ctx, ext.Candidates, convCtx)
	span.SetAttributes(
		attribute.Int("memory.candidates", len(ext.Candidates)),
		attribute.Int("memory.embedded", len(items)),
	)
	if len(items) == 0 {
		logger.Warn("[MEMORY] no candidate could be embedded", "candidates", len(ext.Candidates))
		return 0
	}

	stored = p.storeItems(ctx, scope, items)
	span.SetAttributes(attribute.Int("memory.stored", stored))

	if stored > 0 && p.cache != nil {
		p.cache.Invalidate(listCacheKey(scope))
	}

	logger.Info("[MEMORY] turn processed",
		"candidates", len(ext.Candidates),
		"embedded", len(items),
		"stored", stored,
	)
	return stored
}

// embedCandidates embeds candidates concurrently and drops the ones whose
// embedding failed. Input order is preserved.
func (p *Pipeline) embedCandidates(ctx context.Context, cands []Candidate, convCtx ConversationContext) []NewFragment {
	logger := logging.From(ctx)
	results := make([][]float32, len(cands))

	var g errgroup.Group
	g.SetLimit(max(p.config.EmbedConcurrency, 1))
	for i, c := range cands {
		g.Go(func() error {
			emb, err := p.embedWithRetry(ctx, c.Text)
			if err != nil {
				logger.Warn("[MEMORY] dropping candidate, embedding failed",
					"index", i, "error", err)
				return nil
			}
			results[i] = emb
			return nil
		})
	}
	_ = g.Wait()

	items := make([]NewFragment, 0, len(cands))
	for i, emb := range results {
		if emb == nil {
			continue
		}
		items = append(items, NewFragment{
			Text:      cands[i].Text,
			Embedding: emb,
			Context:   convCtx,
		})
	}
	return items
}

func (p *Pipeline) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	attempts := max(p.config.EmbedAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		emb, err := p.embedder.Embed(ctx, text)
		if err == nil {
			return emb, nil
		}
		lastErr = err
		if errors.Is(err, ErrEmptyInput) || attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, goerr.Wrap(ctx.Err(), "embedding retry cancelled", goerr.V("attempt", attempt))
		case <-time.After(time.Duration(attempt) * p.config.EmbedBackoff):
		}
	}
	return nil, lastErr
}

// storeItems writes the batch once and, when configured, resubmits items
// that failed transiently one more time.
func (p *Pipeline) storeItems(ctx context.Context, scope ScopeKey, items []NewFragment) int {
	logger := logging.From(ctx)

	result, err := p.store.StoreBatch(ctx, scope, items)
	if err != nil {
		logger.Warn("[MEMORY] store batch failed", "items", len(items), "error", err)
		return 0
	}
	stored := result.Stored()

	var retry []NewFragment
	for _, f := range result.Failures {
		logger.Warn("[MEMORY] fragment not stored", "index", f.Index, "error", f.Err)
		if p.config.RetryTransientStore && IsTransient(f.Err) {
			retry = append(retry, items[f.Index])
		}
	}
	if len(retry) == 0 {
		return stored
	}

	again, err := p.store.StoreBatch(ctx, scope, retry)
	if err != nil {
		logger.Warn("[MEMORY] transient retry failed", "items", len(retry), "error", err)
		return stored
	}
	for _, f := range again.Failures {
		logger.Warn("[MEMORY] fragment not stored after retry", "error", f.Err)
	}
	return stored + again.Stored()
}

func scopeAttributes(scope ScopeKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("memory.owner_id", scope.OwnerUserID()),
		attribute.String("memory.avatar_id", scope.AvatarID()),
		attribute.Bool("memory.is_owner", scope.IsOwner()),
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
