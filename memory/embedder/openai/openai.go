// Package openai embeds text with the OpenAI embeddings API or any
// compatible endpoint.
package openai

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/avatarmem/memory"
)

// defaultDimensions is the native size of text-embedding-3-small.
const defaultDimensions = 1536

// Config configures the OpenAI embedder.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for Azure or a local proxy.
	BaseURL string

	// Model defaults to text-embedding-3-small.
	Model string

	// Dimensions requests shortened embeddings. Zero keeps the model's
	// native size (1536 for text-embedding-3-small).
	Dimensions int
}

// Embedder calls the embeddings endpoint once per text.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	shorten    bool
}

// New creates an OpenAI embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, goerr.New("openai API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	e := &Embedder{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: defaultDimensions,
	}
	if cfg.Dimensions > 0 {
		e.dimensions = cfg.Dimensions
		e.shorten = true
	}
	return e, nil
}

// Embed converts text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(memory.ErrEmptyInput, "text is blank")
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}
	if e.shorten {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "openai embeddings request failed",
			goerr.V("model", string(e.model)), goerr.V("cause", err.Error()))
	}
	if len(resp.Data) == 0 {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "no embedding returned")
	}

	emb := resp.Data[0].Embedding
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
