// Package gemini embeds text with the Gemini API or Vertex AI.
package gemini

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/becomeliminal/avatarmem/memory"
)

// Config configures the Gemini embedder. Set APIKey for the Gemini API, or
// Project and Location for Vertex AI.
type Config struct {
	APIKey   string
	Project  string
	Location string

	// Model defaults to gemini-embedding-001.
	Model string

	// Dimensions is the requested output size. Default: 768.
	Dimensions int
}

// Embedder embeds one text per request.
type Embedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// New creates a Gemini embedder.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, goerr.New("gemini API key or project is required")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}

	return &Embedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(memory.ErrEmptyInput, "text is blank")
	}

	dims := int32(e.dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "failed to embed content",
			goerr.V("model", e.model), goerr.V("cause", err.Error()))
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "no embedding returned")
	}

	values := resp.Embeddings[0].Values
	if len(values) != e.dimensions {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "unexpected embedding size",
			goerr.V("expected", e.dimensions), goerr.V("actual", len(values)))
	}
	return values, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
