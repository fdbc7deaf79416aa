package cli

import (
	"errors"
	"fmt"

	"docrag/config"
	"docrag/internal/adapter/analyzer"
	"docrag/internal/adapter/cache"
	"docrag/internal/adapter/chunker"
	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/generation"
	"docrag/internal/adapter/memstore"
	"docrag/internal/adapter/sqlite"
	"docrag/internal/adapter/store"
	"docrag/internal/port"
	"docrag/internal/usecase"
)

// app holds the components a command needs, built from the loaded config.
type app struct {
	cfg       *config.Config
	bolt      *store.BoltStore
	index     port.VectorIndex
	docs      port.DocumentStore
	embedder  port.Embedder
	generator port.Generator

	indexer  *usecase.IndexUseCase
	retrieve *usecase.RetrieveUseCase
	answer   *usecase.AnswerUseCase
}

type appOptions struct {
	// rebuild clears the index when the chunking or embedding settings no
	// longer match the stored ones. Read-only commands only warn.
	rebuild   bool
	generator bool
}

func openApp(opts appOptions) (*app, error) {
	cfg := GetConfig()
	a := &app{cfg: cfg}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openStores(opts.rebuild); err != nil {
		return nil, err
	}

	var err error
	a.embedder, err = NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	chk, err := chunker.NewWindowChunker(cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		return nil, err
	}

	var queryCache *cache.QueryCache
	if cfg.Retrieve.CacheSize > 0 {
		queryCache = cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL())
	}
	retry := usecase.RetryPolicy{MaxRetries: cfg.Retrieve.MaxRetries, Backoff: cfg.Retrieve.RetryBackoff()}

	a.indexer = usecase.NewIndexUseCase(chk, a.embedder, a.index, a.docs, queryCache, retry, logger)
	a.retrieve = usecase.NewRetrieveUseCase(a.embedder, a.index, queryCache, retry, usecase.RetrieveOptions{
		SnippetLength:     cfg.Retrieve.SnippetLength,
		MinScoreThreshold: cfg.Retrieve.MinScoreThreshold,
	}, logger)

	if opts.generator {
		a.generator, err = newGenerator(cfg.Generation)
		if err != nil {
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		a.answer = usecase.NewAnswerUseCase(a.retrieve, a.generator, usecase.AnswerOptions{
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			Timeout:     cfg.Generation.Timeout(),
		}, logger)
	}

	ok = true
	return a, nil
}

func (a *app) openStores(rebuild bool) error {
	cfg := a.cfg
	dir := GetRootDir()

	if cfg.Index.Backend == "bolt" || cfg.Documents.Backend == "bolt" || cfg.Documents.Backend == "sqlite" {
		if err := config.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", config.DirName, err)
		}
	}

	if cfg.Index.Backend == "bolt" || cfg.Documents.Backend == "bolt" {
		st, err := store.NewBoltStore(cfg.IndexPath(dir))
		if err != nil {
			return fmt.Errorf("failed to open index store: %w", err)
		}
		a.bolt = st

		if err := a.checkSchema(rebuild); err != nil {
			return err
		}
	}

	switch cfg.Index.Backend {
	case "bolt":
		idx, err := store.NewBoltVectorIndex(a.bolt.DB())
		if err != nil {
			return fmt.Errorf("failed to load vector index: %w", err)
		}
		a.index = idx
	default:
		a.index = memstore.NewVectorIndex()
	}

	switch cfg.Documents.Backend {
	case "bolt":
		a.docs = a.bolt
	case "sqlite":
		docs, err := sqlite.NewDocumentStore(cfg.DocumentsPath(dir))
		if err != nil {
			return fmt.Errorf("failed to open document store: %w", err)
		}
		a.docs = docs
	default:
		a.docs = memstore.NewDocumentStore()
	}
	return nil
}

func (a *app) checkSchema(rebuild bool) error {
	result, err := a.bolt.CheckMigration(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}

	switch {
	case result.NeedsRebuild && rebuild:
		logger.Warn().Str("reason", result.Reason).Msg("index rebuild required, clearing existing index")
		if err := a.bolt.Clear(); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	case result.NeedsRebuild:
		logger.Warn().Str("reason", result.Reason).Msg("index was built with different settings; re-ingest to rebuild it")
		return nil
	case !result.NeedsMigration:
		return nil
	}

	if err := a.bolt.Migrate(a.cfg); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Close releases every store the app opened.
func (a *app) Close() error {
	var errs []error
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.docs != nil && a.docs != port.DocumentStore(a.bolt) {
		errs = append(errs, a.docs.Close())
	}
	if a.bolt != nil {
		errs = append(errs, a.bolt.Close())
	}
	return errors.Join(errs...)
}

// defaultHashingDimension is used by the hashing embedder when the
// configuration leaves the dimension at zero.
const defaultHashingDimension = 384

// defaultModels names the model used when the configuration leaves it empty.
var defaultModels = map[string]string{
	"openai": "text-embedding-3-small",
	"jina":   "jina-embeddings-v3",
	"ollama": "nomic-embed-text",
}

// NewEmbedder builds the configured embedder. A zero dimension lets the
// provider infer it from the model.
func NewEmbedder(c config.EmbeddingConfig) (port.Embedder, error) {
	model := c.Model
	if model == "" {
		model = defaultModels[c.Provider]
	}

	opts := []embedding.Option{
		embedding.WithBatchSize(c.BatchSize),
		embedding.WithMaxRetries(c.MaxRetries),
	}
	if c.Dimension > 0 {
		opts = append(opts, embedding.WithDimension(c.Dimension))
	}
	if c.RequestsPerSecond > 0 {
		opts = append(opts, embedding.WithRateLimit(c.RequestsPerSecond, 1))
	}

	switch c.Provider {
	case "hashing":
		dim := c.Dimension
		if dim == 0 {
			dim = defaultHashingDimension
		}
		return embedding.NewHashingEmbedder(model, dim, analyzer.NewTokenizer(false))
	case "openai":
		if c.BaseURL != "" {
			return embedding.NewOpenAICompatibleEmbedder(c.APIKeyEnv, model, c.BaseURL, opts...)
		}
		return embedding.NewOpenAIEmbedder(c.APIKeyEnv, model, opts...)
	case "jina":
		return embedding.NewJinaEmbedder(c.APIKeyEnv, model, opts...)
	case "ollama":
		return embedding.NewOllamaEmbedder(model, c.BaseURL, opts...)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", c.Provider)
	}
}

func newGenerator(c config.GenerationConfig) (port.Generator, error) {
	switch c.Provider {
	case "ollama":
		return generation.NewOllamaGenerator(c.BaseURL, c.Model, c.Timeout()), nil
	case "openai":
		return generation.NewOpenAIGenerator(c.BaseURL, c.Model, c.APIKeyEnv, c.Timeout())
	case "none":
		return generation.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", c.Provider)
	}
}
