// Package openai generates extraction output with the OpenAI chat API or
// any compatible endpoint.
package openai

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/avatarmem/memory"
)

// Config configures the OpenAI generator.
type Config struct {
	APIKey  string
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string
}

// Generator sends one chat completion per call.
type Generator struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI generator.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, goerr.New("openai API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Generator{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate returns the assistant message of the first choice. JSON requests
// use the json_object response format.
func (g *Generator) Generate(ctx context.Context, req memory.GenerateRequest) (string, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	creq := openai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", goerr.Wrap(memory.ErrGenerator, "openai completion failed",
			goerr.V("model", g.model), goerr.V("cause", err.Error()))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.Wrap(memory.ErrGenerator, "openai returned no choices", goerr.V("model", g.model))
	}

	return resp.Choices[0].Message.Content, nil
}
