package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"docrag/internal/domain"
)

// DirName is the per-project state directory.
const DirName = ".docrag"

// Config holds all configuration for docrag.
type Config struct {
	Chunk      ChunkConfig      `yaml:"chunk" toml:"chunk"`
	Embedding  EmbeddingConfig  `yaml:"embedding" toml:"embedding"`
	Index      IndexConfig      `yaml:"index" toml:"index"`
	Documents  DocumentsConfig  `yaml:"documents" toml:"documents"`
	Retrieve   RetrieveConfig   `yaml:"retrieve" toml:"retrieve"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest" toml:"ingest"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ChunkConfig holds the sliding window geometry, in characters.
type ChunkConfig struct {
	Size    int `yaml:"size" toml:"size" validate:"gt=0"`
	Overlap int `yaml:"overlap" toml:"overlap" validate:"gte=0,ltfield=Size"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider" toml:"provider" validate:"oneof=hashing openai ollama jina"`
	Model             string  `yaml:"model" toml:"model"`                 // Empty picks the provider's default
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"` // Environment variable for API key
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	Dimension         int     `yaml:"dimension" toml:"dimension" validate:"gte=0"` // 0 = infer from the model
	BatchSize         int     `yaml:"batch_size" toml:"batch_size" validate:"gte=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" validate:"gte=0"`
	MaxRetries        int     `yaml:"max_retries" toml:"max_retries" validate:"gte=0"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=bolt memory"`
	Path    string `yaml:"path" toml:"path"` // Defaults to .docrag/index.db
}

// DocumentsConfig selects where document records live.
type DocumentsConfig struct {
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=bolt sqlite memory"`
	Path    string `yaml:"path" toml:"path"` // sqlite only, defaults to .docrag/documents.db
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK              int     `yaml:"top_k" toml:"top_k" validate:"gt=0"`
	SnippetLength     int     `yaml:"snippet_length" toml:"snippet_length" validate:"gt=0"`
	MinScoreThreshold float64 `yaml:"min_score_threshold" toml:"min_score_threshold" validate:"gte=0,lte=1"` // 0 = disabled
	MaxRetries        int     `yaml:"max_retries" toml:"max_retries" validate:"gte=0"`
	RetryBackoffMS    int     `yaml:"retry_backoff_ms" toml:"retry_backoff_ms" validate:"gte=0"`
	CacheSize         int     `yaml:"cache_size" toml:"cache_size" validate:"gte=0"` // 0 = no cache
	CacheTTLSeconds   int     `yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds" validate:"gte=0"`
}

// GenerationConfig holds the answer backend configuration.
type GenerationConfig struct {
	Provider       string  `yaml:"provider" toml:"provider" validate:"oneof=ollama openai none"`
	BaseURL        string  `yaml:"base_url" toml:"base_url"`
	Model          string  `yaml:"model" toml:"model"`
	APIKeyEnv      string  `yaml:"api_key_env" toml:"api_key_env"`
	Temperature    float64 `yaml:"temperature" toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int     `yaml:"max_tokens" toml:"max_tokens" validate:"gte=0"`
	TimeoutSeconds int     `yaml:"timeout_seconds" toml:"timeout_seconds" validate:"gte=0"`
}

// IngestConfig holds directory ingestion settings.
type IngestConfig struct {
	Includes    []string `yaml:"includes" toml:"includes"`
	Excludes    []string `yaml:"excludes" toml:"excludes"`
	MaxFileSize int64    `yaml:"max_file_size" toml:"max_file_size" validate:"gte=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=auto console json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunk: ChunkConfig{
			Size:    500,
			Overlap: 50,
		},
		Embedding: EmbeddingConfig{
			Provider:          "hashing",
			APIKeyEnv:         "OPENAI_API_KEY",
			BatchSize:         100,
			RequestsPerSecond: 0,
			MaxRetries:        3,
		},
		Index: IndexConfig{
			Backend: "bolt",
		},
		Documents: DocumentsConfig{
			Backend: "bolt",
		},
		Retrieve: RetrieveConfig{
			TopK:            5,
			SnippetLength:   200,
			MaxRetries:      3,
			RetryBackoffMS:  100,
			CacheSize:       100,
			CacheTTLSeconds: 300,
		},
		Generation: GenerationConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "llama2",
			Temperature:    0.7,
			MaxTokens:      2000,
			TimeoutSeconds: 120,
		},
		Ingest: IngestConfig{
			Includes:    []string{"**/*.txt", "**/*.md", "**/*.rst", "**/*.csv", "**/*.json", "**/*.html"},
			Excludes:    []string{"**/.git/**", "**/node_modules/**", "**/" + DirName + "/**"},
			MaxFileSize: 10 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from a YAML or TOML file, then applies DOCRAG_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			err = toml.Unmarshal(data, cfg)
		} else {
			err = yaml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory. It looks for docrag.yaml,
// docrag.toml and .docrag/config.yaml in that order.
func LoadFromDir(dir string) (*Config, error) {
	candidates := []string{
		filepath.Join(dir, "docrag.yaml"),
		filepath.Join(dir, "docrag.toml"),
		filepath.Join(dir, DirName, "config.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return Load(candidates[0])
}

// Save saves configuration as YAML, or TOML when path ends in .toml.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var validate = validator.New()

// Validate checks field constraints. Chunk geometry errors are reported as
// ErrInvalidChunkConfig.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	chunk := false
	for _, fe := range verrs {
		if strings.HasPrefix(fe.StructNamespace(), "Config.Chunk.") {
			chunk = true
		}
		msgs = append(msgs, fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	kind := domain.ErrInvalidInput
	if chunk {
		kind = domain.ErrInvalidChunkConfig
	}
	return domain.NewError(kind, "invalid config: "+strings.Join(msgs, "; "), nil)
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := map[string]*string{
		"DOCRAG_EMBEDDING_PROVIDER":  &c.Embedding.Provider,
		"DOCRAG_EMBEDDING_MODEL":     &c.Embedding.Model,
		"DOCRAG_EMBEDDING_BASE_URL":  &c.Embedding.BaseURL,
		"DOCRAG_INDEX_PATH":          &c.Index.Path,
		"DOCRAG_DOCUMENTS_BACKEND":   &c.Documents.Backend,
		"DOCRAG_GENERATION_PROVIDER": &c.Generation.Provider,
		"DOCRAG_LLM_API_URL":         &c.Generation.BaseURL,
		"DOCRAG_LLM_MODEL":           &c.Generation.Model,
		"DOCRAG_LOG_LEVEL":           &c.Logging.Level,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DOCRAG_CHUNK_SIZE":          &c.Chunk.Size,
		"DOCRAG_CHUNK_OVERLAP":       &c.Chunk.Overlap,
		"DOCRAG_EMBEDDING_DIMENSION": &c.Embedding.Dimension,
		"DOCRAG_TOP_K":               &c.Retrieve.TopK,
	}
	for name, dst := range ints {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", name, v, err)
		}
		*dst = n
	}
	return nil
}

// RetryBackoff returns the base delay between index retries.
func (r RetrieveConfig) RetryBackoff() time.Duration {
	return time.Duration(r.RetryBackoffMS) * time.Millisecond
}

// CacheTTL returns how long retrieval results stay cached.
func (r RetrieveConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

// Timeout returns the generation request timeout.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, DirName, "index.db")
}

// DocumentsDBPath returns the default path of the sqlite document database.
func DocumentsDBPath(dir string) string {
	return filepath.Join(dir, DirName, "documents.db")
}

// IndexPath returns the configured index database path, or the default one
// under dir.
func (c *Config) IndexPath(dir string) string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return IndexDBPath(dir)
}

// DocumentsPath returns the configured sqlite document database path, or the
// default one under dir.
func (c *Config) DocumentsPath(dir string) string {
	if c.Documents.Path != "" {
		return c.Documents.Path
	}
	return DocumentsDBPath(dir)
}

// EnsureDir ensures the .docrag directory exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, DirName), 0755)
}
