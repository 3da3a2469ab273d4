package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"wellbot/model"
	"wellbot/rag"
	"wellbot/types"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "WELLBOT_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Chunking  ChunkingConfig  `koanf:"chunking"`
	LLM       LLMConfig       `koanf:"llm"`
	Cache     CacheConfig     `koanf:"cache"`
	Loader    LoaderConfig    `koanf:"loader"`
	PDF       PDFConfig       `koanf:"pdf"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	BodyLimitMB    int           `koanf:"body_limit_mb"`
	IngestTimeout  time.Duration `koanf:"ingest_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type DatabaseConfig struct {
	Driver   string `koanf:"driver"`
	DSN      string `koanf:"dsn"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
}

type EmbeddingConfig struct {
	Provider          string        `koanf:"provider"`
	URL               string        `koanf:"url"`
	Model             string        `koanf:"model"`
	APIKey            string        `koanf:"api_key"`
	Dimensions        int           `koanf:"dimensions"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	MaxRetries        int           `koanf:"max_retries"`
	BatchSize         int           `koanf:"batch_size"`
}

type ChunkingConfig struct {
	Size        int `koanf:"size"`
	Overlap     int `koanf:"overlap"`
	MinLength   int `koanf:"min_length"`
	Concurrency int `koanf:"concurrency"`
}

type LLMConfig struct {
	Provider         string        `koanf:"provider"`
	URL              string        `koanf:"url"`
	Model            string        `koanf:"model"`
	APIKey           string        `koanf:"api_key"`
	SystemPrompt     string        `koanf:"system_prompt"`
	MaxContextTokens int           `koanf:"max_context_tokens"`
	Timeout          time.Duration `koanf:"timeout"`
}

type CacheConfig struct {
	RedisURL string        `koanf:"redis_url"`
	TTL      time.Duration `koanf:"ttl"`
}

type LoaderConfig struct {
	SourceDir      string        `koanf:"source_dir"`
	ArchiveDir     string        `koanf:"archive_dir"`
	BadDir         string        `koanf:"bad_dir"`
	MonitoringTime time.Duration `koanf:"monitoring_time"`
	PollInterval   time.Duration `koanf:"poll_interval"`
}

type PDFConfig struct {
	CropTop    float64 `koanf:"crop_top"`
	CropBottom float64 `koanf:"crop_bottom"`
	DoclingURL string  `koanf:"docling_url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":3000",
			BodyLimitMB:    32,
			IngestTimeout:  10 * time.Minute,
			RequestTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			Host:   "localhost",
			Port:   5432,
			User:   "postgres",
			Name:   "wellbot",
		},
		Embedding: EmbeddingConfig{
			Provider:          "ollama",
			URL:               "http://localhost:11434/api/embeddings",
			Model:             "nomic-embed-text",
			Dimensions:        768,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             5,
			MaxRetries:        3,
			BatchSize:         16,
		},
		Chunking: ChunkingConfig{
			Size:        rag.DefaultChunkSize,
			Overlap:     rag.DefaultChunkOverlap,
			MinLength:   rag.DefaultMinLength,
			Concurrency: 4,
		},
		LLM: LLMConfig{
			Provider:         "ollama",
			URL:              "http://localhost:11434/api/generate",
			Model:            "llama3.1",
			MaxContextTokens: 3000,
			Timeout:          2 * time.Minute,
		},
		Cache: CacheConfig{
			TTL: 30 * time.Second,
		},
		Loader: LoaderConfig{
			SourceDir:      "./data/inbox",
			ArchiveDir:     "./data/archive",
			BadDir:         "./data/bad",
			MonitoringTime: 5 * time.Second,
			PollInterval:   time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load layers defaults, the optional YAML file at path and WELLBOT_* environment
// variables. Nested keys use a double underscore: WELLBOT_EMBEDDING__MODEL.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.applyLegacyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLegacyEnv honours the PG_* and OPENAI_API_KEY variables used by
// existing deployments when the matching setting is empty.
func (c *Config) applyLegacyEnv() {
	if v := os.Getenv("PG_HOST"); v != "" && c.Database.DSN == "" {
		c.Database.Host = v
	}
	if v := os.Getenv("PG_USER"); v != "" && c.Database.DSN == "" {
		c.Database.User = v
	}
	if v := os.Getenv("PG_PASS"); v != "" && c.Database.Password == "" {
		c.Database.Password = v
	}
	if v := os.Getenv("PG_DB_NAME"); v != "" && c.Database.DSN == "" {
		c.Database.Name = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	key := os.Getenv("OPENAI_API_KEY")
	if c.Embedding.APIKey == "" && c.Embedding.Provider == "openai" {
		c.Embedding.APIKey = key
	}
	if c.LLM.APIKey == "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid database.driver %q: must be postgres or memory", c.Database.Driver)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid embedding.provider %q: must be ollama or openai", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required for the openai provider")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, chunking.size)")
	}
	if c.Chunking.Concurrency < 1 {
		return fmt.Errorf("chunking.concurrency must be at least 1")
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid llm.provider %q: must be ollama or openai", c.LLM.Provider)
	}
	return nil
}

// DSN returns database.dsn or a URL assembled from the individual fields.
func (c *Config) DSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c *Config) EmbedderConfig() model.EmbeddingConfig {
	e := c.Embedding
	return model.EmbeddingConfig{
		Provider:          e.Provider,
		URL:               e.URL,
		Model:             e.Model,
		APIKey:            e.APIKey,
		Dimensions:        e.Dimensions,
		Timeout:           e.Timeout,
		RequestsPerSecond: e.RequestsPerSecond,
		Burst:             e.Burst,
		MaxRetries:        e.MaxRetries,
	}
}

func (c *Config) LLMSettings() types.LLMConfig {
	return types.LLMConfig{
		Provider:         c.LLM.Provider,
		URL:              c.LLM.URL,
		Model:            c.LLM.Model,
		APIKey:           c.LLM.APIKey,
		SystemPrompt:     c.LLM.SystemPrompt,
		MaxContextTokens: c.LLM.MaxContextTokens,
		Timeout:          c.LLM.Timeout,
	}
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
