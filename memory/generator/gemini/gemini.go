// Package gemini generates extraction output with Gemini.
package gemini

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/becomeliminal/avatarmem/memory"
)

// Config configures the Gemini generator. Set APIKey for the Gemini API, or
// Project and Location for Vertex AI.
type Config struct {
	APIKey   string
	Project  string
	Location string

	// Model defaults to gemini-2.5-flash.
	Model string
}

// Generator sends one GenerateContent request per call.
type Generator struct {
	client *genai.Client
	model  string
}

// New creates a Gemini generator.
func New(ctx context.Context, cfg Config) (*Generator, error) {
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

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Generator{client: client, model: model}, nil
}

// Generate returns the text of the first candidate. JSON requests are
// constrained with a response schema matching the extraction format.
func (g *Generator) Generate(ctx context.Context, req memory.GenerateRequest) (string, error) {
	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, "")
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = extractionSchema
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", goerr.Wrap(memory.ErrGenerator, "failed to generate content",
			goerr.V("model", g.model), goerr.V("cause", err.Error()))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.Wrap(memory.ErrGenerator, "invalid response structure from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	return text.String(), nil
}

var extractionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"tone": {
			Type:        genai.TypeString,
			Description: "Emotional tone of the message in one or two words",
		},
		"fragments": {
			Type:        genai.TypeArray,
			Description: "Durable facts about the speaker",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"text": {
						Type:        genai.TypeString,
						Description: "One short self-contained statement",
					},
					"confidence": {
						Type:        genai.TypeNumber,
						Description: "Confidence between 0 and 1",
					},
				},
				Required: []string{"text", "confidence"},
			},
		},
	},
	Required: []string{"tone", "fragments"},
}
