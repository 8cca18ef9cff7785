// Package ollama embeds text with a local Ollama server.
package ollama

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"

	"github.com/becomeliminal/avatarmem/memory"
)

// Config configures the Ollama embedder.
type Config struct {
	// Host defaults to $OLLAMA_HOST, then http://localhost:11434.
	Host string

	// Model defaults to nomic-embed-text.
	Model string

	// Dimensions is the model's output size (768 for nomic-embed-text).
	Dimensions int
}

// Embedder calls /api/embed once per text.
type Embedder struct {
	client     *api.Client
	model      string
	dimensions int
}

// New creates an Ollama embedder.
func New(cfg Config) (*Embedder, error) {
	host := cfg.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	uri, err := url.Parse(host)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ollama host", goerr.V("host", host))
	}

	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}

	return &Embedder{
		client:     api.NewClient(uri, http.DefaultClient),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(memory.ErrEmptyInput, "text is blank")
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "ollama embed failed",
			goerr.V("model", e.model), goerr.V("cause", err.Error()))
	}
	if len(resp.Embeddings) == 0 {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "no embedding returned", goerr.V("model", e.model))
	}

	emb := resp.Embeddings[0]
	if len(emb) != e.dimensions {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "unexpected embedding size",
			goerr.V("expected", e.dimensions), goerr.V("actual", len(emb)))
	}
	return emb, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
