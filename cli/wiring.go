package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/avatarmem/cache"
	"github.com/becomeliminal/avatarmem/config"
	"github.com/becomeliminal/avatarmem/logging"
	"github.com/becomeliminal/avatarmem/memory"
	geminiembed "github.com/becomeliminal/avatarmem/memory/embedder/gemini"
	"github.com/becomeliminal/avatarmem/memory/embedder/mock"
	ollamaembed "github.com/becomeliminal/avatarmem/memory/embedder/ollama"
	openaiembed "github.com/becomeliminal/avatarmem/memory/embedder/openai"
	"github.com/becomeliminal/avatarmem/memory/generator/anthropic"
	geminigen "github.com/becomeliminal/avatarmem/memory/generator/gemini"
	ollamagen "github.com/becomeliminal/avatarmem/memory/generator/ollama"
	openaigen "github.com/becomeliminal/avatarmem/memory/generator/openai"
	"github.com/becomeliminal/avatarmem/memory/store/chromem"
	"github.com/becomeliminal/avatarmem/memory/store/firestore"
	"github.com/becomeliminal/avatarmem/memory/store/sqlite"
)

// closeTimeout bounds how long Close waits for scheduled turns.
const closeTimeout = 30 * time.Second

// app is the wired memory system for one command invocation.
type app struct {
	cfg     *config.Config
	manager *memory.Manager
	closers []func() error
}

// open loads configuration and builds every component. The returned
// context carries the configured logger.
func open(ctx context.Context, opts *options) (context.Context, *app, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ctx, nil, goerr.Wrap(err, "failed to load env file", goerr.V("path", opts.envFile))
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return ctx, nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return ctx, nil, err
	}

	logger := logging.New(cfg.Log.Level, os.Stderr)
	logging.SetDefault(logger)
	ctx = logging.With(ctx, logger)

	a := &app{cfg: cfg}
	if err := a.build(ctx); err != nil {
		_ = a.close(ctx)
		return ctx, nil, err
	}
	return ctx, a, nil
}

func (a *app) build(ctx context.Context) error {
	embedder, err := a.newEmbedder(ctx)
	if err != nil {
		return err
	}

	store, err := a.newStore(ctx, embedder.Dimensions())
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)

	gen, err := a.newGenerator(ctx)
	if err != nil {
		return err
	}
	extractor, err := memory.NewExtractor(gen, a.cfg.ForExtractor())
	if err != nil {
		return err
	}

	var managerOpts []memory.Option
	if a.cfg.Cache.Enabled {
		c, err := cache.New(a.cfg.ForCache())
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		managerOpts = append(managerOpts, memory.WithCache(c))
	}

	a.manager = memory.NewManager(store, embedder, extractor, a.cfg.ForMemory(), managerOpts...)

	logging.From(ctx).Debug("[MEMORY] wired",
		"store", a.cfg.Store.Type,
		"embedder", a.cfg.Embedder.Type,
		"generator", a.cfg.Generator.Type,
		"dimensions", embedder.Dimensions(),
		"cache", a.cfg.Cache.Enabled)
	return nil
}

func (a *app) newEmbedder(ctx context.Context) (memory.Embedder, error) {
	ec := a.cfg.Embedder

	var (
		embedder memory.Embedder
		err      error
	)
	switch ec.Type {
	case config.ProviderMock:
		var mockOpts []mock.Option
		if ec.Dimensions > 0 {
			mockOpts = append(mockOpts, mock.WithDimensions(ec.Dimensions))
		}
		embedder = mock.New(mockOpts...)
	case config.ProviderOpenAI:
		embedder, err = openaiembed.New(openaiembed.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		})
	case config.ProviderGemini:
		embedder, err = geminiembed.New(ctx, geminiembed.Config{
			APIKey:     ec.APIKey,
			Project:    ec.Project,
			Location:   ec.Location,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		})
	case config.ProviderOllama:
		embedder, err = ollamaembed.New(ollamaembed.Config{
			Host:       ec.Host,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		})
	case config.ProviderONNX:
		var closeFn func() error
		embedder, closeFn, err = newONNXEmbedder(ctx, ec)
		if err == nil {
			a.closers = append(a.closers, closeFn)
		}
	default:
		err = goerr.Wrap(config.ErrInvalidConfig, "unknown embedder type", goerr.V("type", ec.Type))
	}
	if err != nil {
		return nil, err
	}

	if ec.RateLimit.RPS > 0 {
		embedder = memory.NewRateLimitedEmbedder(embedder, ec.RateLimit.RPS, ec.RateLimit.Burst)
	}
	return embedder, nil
}

func (a *app) newStore(ctx context.Context, dims int) (memory.Store, error) {
	sc := a.cfg.Store
	switch sc.Type {
	case config.StoreChromem:
		return chromem.New(chromem.Config{
			Dimensions: dims,
			PersistDir: sc.Chromem.PersistDir,
			Compress:   sc.Chromem.Compress,
		})
	case config.StoreSQLite:
		return sqlite.New(sc.SQLite.Path, dims)
	case config.StoreFirestore:
		return firestore.New(ctx, sc.Firestore.ProjectID, sc.Firestore.DatabaseID, firestore.Config{
			Collection: sc.Firestore.Collection,
			Dimensions: dims,
		})
	default:
		return nil, goerr.Wrap(config.ErrInvalidConfig, "unknown store type", goerr.V("type", sc.Type))
	}
}

func (a *app) newGenerator(ctx context.Context) (memory.Generator, error) {
	gc := a.cfg.Generator
	switch gc.Type {
	case config.ProviderAnthropic:
		return anthropic.New(anthropic.Config{APIKey: gc.APIKey, BaseURL: gc.BaseURL, Model: gc.Model})
	case config.ProviderOpenAI:
		return openaigen.New(openaigen.Config{APIKey: gc.APIKey, BaseURL: gc.BaseURL, Model: gc.Model})
	case config.ProviderOllama:
		return ollamagen.New(ollamagen.Config{Host: gc.Host, Model: gc.Model})
	case config.ProviderGemini:
		return geminigen.New(ctx, geminigen.Config{
			APIKey:   gc.APIKey,
			Project:  gc.Project,
			Location: gc.Location,
			Model:    gc.Model,
		})
	default:
		return nil, goerr.Wrap(config.ErrInvalidConfig, "unknown generator type", goerr.V("type", gc.Type))
	}
}

// close drains the manager and releases components in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.manager != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		errs = append(errs, a.manager.Close(cctx))
		cancel()
	}
	for _, fn := range slices.Backward(a.closers) {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
