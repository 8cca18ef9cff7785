package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

// RateLimitedEmbedder throttles calls to an underlying Embedder so that a
// burst of turns stays within the provider's request quota.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows rps requests per second with the given burst.
func NewRateLimitedEmbedder(inner Embedder, rps float64, burst int) *RateLimitedEmbedder {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(ErrEmbeddingProvider, "rate limiter wait aborted", goerr.V("cause", err.Error()))
	}
	return e.inner.Embed(ctx, text)
}

func (e *RateLimitedEmbedder) Dimensions() int { return e.inner.Dimensions() }
