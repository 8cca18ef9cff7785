package memory

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/extract.md
var extractPromptRaw string

const extractSystemPrompt = "You extract durable personal facts from chat messages and answer with JSON only."

// Candidate is a fact proposed by the extractor, not yet embedded.
type Candidate struct {
	Text       string
	Confidence float64
}

// Extraction is the result of one extractor call.
type Extraction struct {
	Candidates []Candidate
	Tone       string
}

// ExtractorConfig tunes candidate filtering.
type ExtractorConfig struct {
	// MinWords drops candidates with fewer words. Default: 3.
	MinWords int

	// MinConfidence drops candidates the model is unsure about [0.0-1.0].
	// Default: 0 (keep everything).
	MinConfidence float64

	// MaxCandidates caps candidates per message. Default: 10.
	MaxCandidates int

	// MaxTokens bounds the generator response. Default: 1024.
	MaxTokens int
}

// DefaultExtractorConfig returns the default filtering rules.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		MinWords:      3,
		MinConfidence: 0,
		MaxCandidates: 10,
		MaxTokens:     1024,
	}
}

// Extractor asks a Generator for the facts in a message and filters the
// answer into a bounded list of candidates.
type Extractor struct {
	gen  Generator
	cfg  ExtractorConfig
	tmpl *template.Template
}

type extractPromptData struct {
	Message       string
	IsOwner       bool
	MaxCandidates int
	Prior         *PriorContext
}

// NewExtractor creates an Extractor. Zero config fields take defaults.
func NewExtractor(gen Generator, cfg ExtractorConfig) (*Extractor, error) {
	def := DefaultExtractorConfig()
	if cfg.MinWords <= 0 {
		cfg.MinWords = def.MinWords
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	funcMap := template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}
	tmpl, err := template.New("extract").Funcs(funcMap).Parse(extractPromptRaw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse extraction template")
	}

	return &Extractor{gen: gen, cfg: cfg, tmpl: tmpl}, nil
}

// Extract returns the filtered candidates for message. A blank message
// yields an empty extraction without calling the generator.
func (e *Extractor) Extract(ctx context.Context, message string, scope ScopeKey, prior *PriorContext) (*Extraction, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return &Extraction{}, nil
	}

	var prompt bytes.Buffer
	if err := e.tmpl.Execute(&prompt, extractPromptData{
		Message:       message,
		IsOwner:       scope.IsOwner(),
		MaxCandidates: e.cfg.MaxCandidates,
		Prior:         prior,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute extraction template")
	}

	raw, err := e.gen.Generate(ctx, GenerateRequest{
		System:    extractSystemPrompt,
		Prompt:    prompt.String(),
		JSON:      true,
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	ext, err := ParseExtraction(raw)
	if err != nil {
		return nil, err
	}
	ext.Candidates = e.filter(ext.Candidates)
	return ext, nil
}

func (e *Extractor) filter(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	seen := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		if len(out) >= e.cfg.MaxCandidates {
			break
		}
		text := strings.Join(strings.Fields(c.Text), " ")
		if len(strings.Fields(text)) < e.cfg.MinWords {
			continue
		}
		if utf8.RuneCountInString(text) > MaxFragmentLength {
			continue
		}
		if c.Confidence < e.cfg.MinConfidence {
			continue
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Candidate{Text: text, Confidence: c.Confidence})
	}
	return out
}

type rawExtraction struct {
	Tone      string            `json:"tone"`
	Fragments []json.RawMessage `json:"fragments"`
}

type rawCandidate struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// ParseExtraction interprets generator output. Accepted shapes:
//
//	{"tone": "...", "fragments": [{"text": "...", "confidence": 0.9}]}
//	[{"text": "..."}]
//	["...", "..."]
//
// optionally wrapped in a markdown code fence. Text after the first JSON
// value is ignored. Items without a confidence count as fully confident.
func ParseExtraction(raw string) (*Extraction, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, goerr.Wrap(ErrExtractionParse, "empty generator output")
	}

	var items []json.RawMessage
	var tone string
	switch body[0] {
	case '{':
		var obj rawExtraction
		if err := decodeFirst(body, &obj); err != nil {
			return nil, goerr.Wrap(ErrExtractionParse, "invalid JSON object",
				goerr.V("output", raw), goerr.V("cause", err.Error()))
		}
		items, tone = obj.Fragments, obj.Tone
	case '[':
		if err := decodeFirst(body, &items); err != nil {
			return nil, goerr.Wrap(ErrExtractionParse, "invalid JSON array",
				goerr.V("output", raw), goerr.V("cause", err.Error()))
		}
	default:
		return nil, goerr.Wrap(ErrExtractionParse, "output is not JSON", goerr.V("output", raw))
	}

	ext := &Extraction{Tone: strings.TrimSpace(tone)}
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			ext.Candidates = append(ext.Candidates, Candidate{Text: s, Confidence: 1})
			continue
		}
		var c rawCandidate
		if err := json.Unmarshal(item, &c); err != nil {
			return nil, goerr.Wrap(ErrExtractionParse, "invalid fragment item",
				goerr.V("index", i), goerr.V("cause", err.Error()))
		}
		conf := 1.0
		if c.Confidence != nil {
			conf = *c.Confidence
		}
		ext.Candidates = append(ext.Candidates, Candidate{Text: c.Text, Confidence: conf})
	}
	return ext, nil
}

// decodeFirst decodes the first JSON value of body into v.
func decodeFirst(body string, v any) error {
	return json.NewDecoder(strings.NewReader(body)).Decode(v)
}

// stripCodeFence removes a surrounding ``` fence and any text before the
// first JSON delimiter.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
	}
	return s
}
