// Package config loads avatarmem settings from YAML.
//
// A missing key keeps its default, so a file only needs the sections it
// changes:
//
//	store:
//	  type: sqlite
//	  sqlite:
//	    path: ./data/fragments.db
//	embedder:
//	  type: ollama
//	generator:
//	  type: anthropic
package config

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/avatarmem/cache"
	"github.com/becomeliminal/avatarmem/logging"
	"github.com/becomeliminal/avatarmem/memory"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = goerr.New("invalid config")

// Backend names.
const (
	StoreChromem   = "chromem"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"

	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderONNX      = "onnx"
	ProviderAnthropic = "anthropic"
)

// Config is the full avatarmem configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Memory    MemoryConfig    `yaml:"memory"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// MemoryConfig mirrors memory.Config.
type MemoryConfig struct {
	Enabled             bool          `yaml:"enabled"`
	RecallThreshold     float64       `yaml:"recall_threshold"`
	RecallLimit         int           `yaml:"recall_limit"`
	EmbedConcurrency    int           `yaml:"embed_concurrency"`
	EmbedAttempts       int           `yaml:"embed_attempts"`
	EmbedBackoff        time.Duration `yaml:"embed_backoff"`
	RetryTransientStore bool          `yaml:"retry_transient_store"`
	TurnTimeout         time.Duration `yaml:"turn_timeout"`
	ListCacheTTL        time.Duration `yaml:"list_cache_ttl"`
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
}

// ExtractorConfig mirrors memory.ExtractorConfig.
type ExtractorConfig struct {
	MinWords      int     `yaml:"min_words"`
	MinConfidence float64 `yaml:"min_confidence"`
	MaxCandidates int     `yaml:"max_candidates"`
	MaxTokens     int     `yaml:"max_tokens"`
}

type CacheConfig struct {
	Enabled     bool  `yaml:"enabled"`
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
}

type StoreConfig struct {
	Type      string          `yaml:"type"`
	Chromem   ChromemConfig   `yaml:"chromem"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

type ChromemConfig struct {
	// PersistDir keeps the database on disk. Empty keeps it in memory.
	PersistDir string `yaml:"persist_dir"`
	Compress   bool   `yaml:"compress"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	DatabaseID string `yaml:"database_id"`
	Collection string `yaml:"collection"`
}

type EmbedderConfig struct {
	Type string `yaml:"type"`

	// Model and Dimensions fall back to the provider's defaults.
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`

	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Host     string `yaml:"host"`
	Project  string `yaml:"project"`
	Location string `yaml:"location"`

	ONNX      ONNXConfig      `yaml:"onnx"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ONNXConfig struct {
	LibraryPath       string `yaml:"library_path"`
	ModelPath         string `yaml:"model_path"`
	TokenizerPath     string `yaml:"tokenizer_path"`
	MaxSequenceLength int    `yaml:"max_sequence_length"`
}

// RateLimitConfig throttles embedding calls. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type GeneratorConfig struct {
	Type     string `yaml:"type"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Host     string `yaml:"host"`
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
}

// Default returns a configuration that runs fully offline: in-memory
// chromem, the hash embedder and Ollama for extraction.
func Default() *Config {
	mem := memory.DefaultConfig()
	ext := memory.DefaultExtractorConfig()
	cc := cache.DefaultConfig()

	return &Config{
		Log: LogConfig{Level: "info"},
		Memory: MemoryConfig{
			Enabled:             mem.Enabled,
			RecallThreshold:     mem.RecallThreshold,
			RecallLimit:         mem.RecallLimit,
			EmbedConcurrency:    mem.EmbedConcurrency,
			EmbedAttempts:       mem.EmbedAttempts,
			EmbedBackoff:        mem.EmbedBackoff,
			RetryTransientStore: mem.RetryTransientStore,
			TurnTimeout:         mem.TurnTimeout,
			ListCacheTTL:        mem.ListCacheTTL,
			Workers:             mem.Workers,
			QueueSize:           mem.QueueSize,
		},
		Extractor: ExtractorConfig{
			MinWords:      ext.MinWords,
			MinConfidence: ext.MinConfidence,
			MaxCandidates: ext.MaxCandidates,
			MaxTokens:     ext.MaxTokens,
		},
		Cache: CacheConfig{
			Enabled:     true,
			NumCounters: cc.NumCounters,
			MaxCost:     cc.MaxCost,
			BufferItems: cc.BufferItems,
		},
		Store: StoreConfig{
			Type:      StoreChromem,
			SQLite:    SQLiteConfig{Path: "avatarmem.db"},
			Firestore: FirestoreConfig{DatabaseID: "(default)"},
		},
		Embedder:  EmbedderConfig{Type: ProviderMock},
		Generator: GeneratorConfig{Type: ProviderOllama},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// apiKeyEnv names the environment variable holding each provider's key.
var apiKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// ApplyEnv fills empty API keys and cloud project settings from the
// environment. Values already set in the file win.
func (c *Config) ApplyEnv() {
	if c.Embedder.APIKey == "" {
		if name, ok := apiKeyEnv[c.Embedder.Type]; ok {
			c.Embedder.APIKey = os.Getenv(name)
		}
	}
	if c.Generator.APIKey == "" {
		if name, ok := apiKeyEnv[c.Generator.Type]; ok {
			c.Generator.APIKey = os.Getenv(name)
		}
	}
	if c.Store.Firestore.ProjectID == "" {
		c.Store.Firestore.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if v := os.Getenv("FIRESTORE_DATABASE_ID"); v != "" && c.Store.Firestore.DatabaseID == "(default)" {
		c.Store.Firestore.DatabaseID = v
	}
	if v := os.Getenv("AVATARMEM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return invalid("unknown log level", "log.level", c.Log.Level)
	}

	m := c.Memory
	if m.RecallThreshold < 0 || m.RecallThreshold > 1 {
		return invalid("recall threshold must be within [0,1]", "memory.recall_threshold", m.RecallThreshold)
	}
	if m.RecallLimit <= 0 {
		return invalid("recall limit must be positive", "memory.recall_limit", m.RecallLimit)
	}
	if m.EmbedConcurrency <= 0 {
		return invalid("embed concurrency must be positive", "memory.embed_concurrency", m.EmbedConcurrency)
	}
	if m.EmbedAttempts <= 0 {
		return invalid("embed attempts must be at least 1", "memory.embed_attempts", m.EmbedAttempts)
	}
	if m.Workers <= 0 || m.QueueSize <= 0 {
		return invalid("workers and queue size must be positive", "memory.workers", m.Workers)
	}
	if c.Extractor.MinConfidence < 0 || c.Extractor.MinConfidence > 1 {
		return invalid("min confidence must be within [0,1]", "extractor.min_confidence", c.Extractor.MinConfidence)
	}

	if c.Cache.Enabled && (c.Cache.NumCounters <= 0 || c.Cache.MaxCost <= 0) {
		return invalid("cache counters and cost must be positive", "cache.max_cost", c.Cache.MaxCost)
	}

	switch c.Store.Type {
	case StoreChromem:
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			return invalid("sqlite path is required", "store.sqlite.path", "")
		}
	case StoreFirestore:
		if c.Store.Firestore.ProjectID == "" {
			return invalid("firestore project is required", "store.firestore.project_id", "")
		}
	default:
		return invalid("unknown store type", "store.type", c.Store.Type)
	}

	switch c.Embedder.Type {
	case ProviderMock, ProviderOllama:
	case ProviderOpenAI:
		if c.Embedder.APIKey == "" {
			return invalid("openai embedder needs an API key", "embedder.api_key", "")
		}
	case ProviderGemini:
		if c.Embedder.APIKey == "" && c.Embedder.Project == "" {
			return invalid("gemini embedder needs an API key or project", "embedder.api_key", "")
		}
	case ProviderONNX:
		if c.Embedder.ONNX.ModelPath == "" || c.Embedder.ONNX.TokenizerPath == "" {
			return invalid("onnx embedder needs model and tokenizer paths", "embedder.onnx.model_path", c.Embedder.ONNX.ModelPath)
		}
	default:
		return invalid("unknown embedder type", "embedder.type", c.Embedder.Type)
	}
	if c.Embedder.Dimensions < 0 {
		return invalid("dimensions must not be negative", "embedder.dimensions", c.Embedder.Dimensions)
	}
	if c.Embedder.RateLimit.RPS < 0 {
		return invalid("rate limit must not be negative", "embedder.rate_limit.rps", c.Embedder.RateLimit.RPS)
	}

	switch c.Generator.Type {
	case ProviderOllama:
	case ProviderAnthropic, ProviderOpenAI:
		if c.Generator.APIKey == "" {
			return invalid("generator needs an API key", "generator.api_key", c.Generator.Type)
		}
	case ProviderGemini:
		if c.Generator.APIKey == "" && c.Generator.Project == "" {
			return invalid("gemini generator needs an API key or project", "generator.api_key", "")
		}
	default:
		return invalid("unknown generator type", "generator.type", c.Generator.Type)
	}
	return nil
}

func invalid(msg, field string, value any) error {
	return goerr.Wrap(ErrInvalidConfig, msg, goerr.V("field", field), goerr.V("value", value))
}

// ForMemory converts to the memory package's configuration.
func (c *Config) ForMemory() *memory.Config {
	m := c.Memory
	return &memory.Config{
		Enabled:             m.Enabled,
		RecallThreshold:     m.RecallThreshold,
		RecallLimit:         m.RecallLimit,
		EmbedConcurrency:    m.EmbedConcurrency,
		EmbedAttempts:       m.EmbedAttempts,
		EmbedBackoff:        m.EmbedBackoff,
		RetryTransientStore: m.RetryTransientStore,
		TurnTimeout:         m.TurnTimeout,
		ListCacheTTL:        m.ListCacheTTL,
		Workers:             m.Workers,
		QueueSize:           m.QueueSize,
	}
}

// ForExtractor converts to the memory package's extractor settings.
func (c *Config) ForExtractor() memory.ExtractorConfig {
	return memory.ExtractorConfig{
		MinWords:      c.Extractor.MinWords,
		MinConfidence: c.Extractor.MinConfidence,
		MaxCandidates: c.Extractor.MaxCandidates,
		MaxTokens:     c.Extractor.MaxTokens,
	}
}

// ForCache converts to the cache package's sizing.
func (c *Config) ForCache() cache.Config {
	return cache.Config{
		NumCounters: c.Cache.NumCounters,
		MaxCost:     c.Cache.MaxCost,
		BufferItems: c.Cache.BufferItems,
	}
}
