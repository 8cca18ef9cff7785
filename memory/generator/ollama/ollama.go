// Package ollama generates extraction output with a local Ollama model.
package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"

	"github.com/becomeliminal/avatarmem/memory"
)

// Config configures the Ollama generator.
type Config struct {
	// Host defaults to $OLLAMA_HOST, then http://localhost:11434.
	Host string

	// Model defaults to llama3.2.
	Model string
}

// Generator sends one non-streaming chat request per call.
type Generator struct {
	client *api.Client
	model  string
}

// New creates an Ollama generator.
func New(cfg Config) (*Generator, error) {
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
		cfg.Model = "llama3.2"
	}

	return &Generator{
		client: api.NewClient(uri, http.DefaultClient),
		model:  cfg.Model,
	}, nil
}

// Generate returns the assistant reply. JSON requests set format "json".
func (g *Generator) Generate(ctx context.Context, req memory.GenerateRequest) (string, error) {
	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	creq := &api.ChatRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   new(bool), // false
	}
	if req.JSON {
		creq.Format = json.RawMessage(`"json"`)
	}
	if req.MaxTokens > 0 {
		creq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var out strings.Builder
	err := g.client.Chat(ctx, creq, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", goerr.Wrap(memory.ErrGenerator, "ollama chat failed",
			goerr.V("model", g.model), goerr.V("cause", err.Error()))
	}
	return out.String(), nil
}
