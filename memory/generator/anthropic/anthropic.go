// Package anthropic generates extraction output with Claude.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/avatarmem/memory"
)

// Config configures the Claude generator.
type Config struct {
	APIKey  string
	BaseURL string

	// Model defaults to claude-sonnet-4-20250514.
	Model string
}

// Generator sends one Messages request per call.
type Generator struct {
	client *anthropic.Client
	model  string
}

// New creates a Claude generator.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, goerr.New("anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &Generator{client: &client, model: model}, nil
}

// Generate returns the text of Claude's reply. For JSON requests the reply
// is prefilled with "{" so the model starts directly with the object.
func (g *Generator) Generate(ctx context.Context, req memory.GenerateRequest) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}
	if req.JSON {
		messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock("{")))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", goerr.Wrap(memory.ErrGenerator, "claude request failed",
			goerr.V("model", g.model), goerr.V("cause", err.Error()))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", goerr.Wrap(memory.ErrGenerator, "claude returned no text", goerr.V("model", g.model))
	}

	if req.JSON {
		return "{" + text.String(), nil
	}
	return text.String(), nil
}
