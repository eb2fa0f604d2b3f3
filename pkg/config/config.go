// Package config loads service settings from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxCacheTTL is the longest a processed document stays cached, in seconds.
const MaxCacheTTL = 7200

// Config holds every tunable of the service.
type Config struct {
	OpenRouterAPIKey  string `yaml:"openrouter_api_key"`
	OpenRouterBaseURL string `yaml:"openrouter_base_url" validate:"required,url"`
	VisionModel       string `yaml:"vision_model" validate:"required"`
	ProcessorModel    string `yaml:"processor_model" validate:"required"`
	ChartDetails      bool   `yaml:"chart_details"`

	// DatabaseURL is "memory", a postgres:// URL, or a sqlite path
	// optionally prefixed with sqlite://.
	DatabaseURL string `yaml:"database_url" validate:"required"`
	// RedisURL empty disables the cache.
	RedisURL string `yaml:"redis_url"`

	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port" validate:"min=1,max=65535"`
	QdrantAPIKey     string `yaml:"qdrant_api_key"`
	QdrantUseTLS     bool   `yaml:"qdrant_use_tls"`
	QdrantCollection string `yaml:"qdrant_collection" validate:"required"`

	// GraphDir, when set, receives a JSON copy of every completed graph.
	GraphDir      string `yaml:"graph_dir"`
	Neo4jURI      string `yaml:"neo4j_uri"`
	Neo4jUsername string `yaml:"neo4j_username"`
	Neo4jPassword string `yaml:"neo4j_password"`

	UploadDir   string `yaml:"upload_dir" validate:"required"`
	MaxFileSize int64  `yaml:"max_file_size" validate:"min=1"`

	MaxPages      int `yaml:"max_pages" validate:"min=1,max=5"`
	MaxSlides     int `yaml:"max_slides" validate:"min=1,max=5"`
	MaxParagraphs int `yaml:"max_paragraphs" validate:"min=1,max=20"`
	MaxTables     int `yaml:"max_tables" validate:"min=1,max=5"`
	MaxChunks     int `yaml:"max_chunks" validate:"min=1,max=50"`

	CacheTTL               int `yaml:"cache_ttl" validate:"min=1"`
	EmbeddingDim           int `yaml:"embedding_dim" validate:"min=1"`
	RecognitionConcurrency int `yaml:"recognition_concurrency" validate:"min=1,max=16"`
	Workers                int `yaml:"workers" validate:"min=1,max=64"`
	SummaryTokenBudget     int `yaml:"summary_token_budget" validate:"min=0"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OpenRouterBaseURL:      "https://openrouter.ai/api/v1",
		VisionModel:            "qwen/qwen2.5-vl-72b-instruct",
		ProcessorModel:         "qwen/qwen-2.5-72b-instruct",
		DatabaseURL:            "sqlite://documents.db",
		RedisURL:               "redis://localhost:6379/0",
		QdrantHost:             "localhost",
		QdrantPort:             6334,
		QdrantCollection:       "documents",
		UploadDir:              "uploads",
		MaxFileSize:            50 * 1024 * 1024,
		MaxPages:               5,
		MaxSlides:              5,
		MaxParagraphs:          20,
		MaxTables:              5,
		MaxChunks:              50,
		CacheTTL:               MaxCacheTTL,
		EmbeddingDim:           768,
		RecognitionConcurrency: 4,
		Workers:                4,
		SummaryTokenBudget:     12000,
		LogLevel:               "info",
	}
}

// Options locates the optional files Load reads.
type Options struct {
	EnvFile    string
	ConfigFile string
}

// Load builds the configuration. A missing .env file is not an error; a
// missing YAML file named explicitly is.
func Load(opts Options) (*Config, error) {
	cfg := DefaultConfig()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("OPENROUTER_API_KEY", &c.OpenRouterAPIKey)
	str("OPENROUTER_BASE_URL", &c.OpenRouterBaseURL)
	str("VISION_MODEL", &c.VisionModel)
	str("PROCESSOR_MODEL", &c.ProcessorModel)
	flag("CHART_DETAILS", &c.ChartDetails)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("QDRANT_HOST", &c.QdrantHost)
	num("QDRANT_PORT", &c.QdrantPort)
	str("QDRANT_API_KEY", &c.QdrantAPIKey)
	flag("QDRANT_USE_TLS", &c.QdrantUseTLS)
	str("QDRANT_COLLECTION", &c.QdrantCollection)
	str("GRAPH_DIR", &c.GraphDir)
	str("NEO4J_URI", &c.Neo4jURI)
	str("NEO4J_USERNAME", &c.Neo4jUsername)
	str("NEO4J_PASSWORD", &c.Neo4jPassword)
	str("UPLOAD_DIR", &c.UploadDir)
	if v, ok := lookup("MAX_FILE_SIZE"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_FILE_SIZE: %w", err))
		} else {
			c.MaxFileSize = n
		}
	}
	num("MAX_PAGES", &c.MaxPages)
	num("MAX_SLIDES", &c.MaxSlides)
	num("MAX_PARAGRAPHS", &c.MaxParagraphs)
	num("MAX_TABLES", &c.MaxTables)
	num("MAX_CHUNKS", &c.MaxChunks)
	num("CACHE_TTL", &c.CacheTTL)
	num("EMBEDDING_DIM", &c.EmbeddingDim)
	num("RECOGNITION_CONCURRENCY", &c.RecognitionConcurrency)
	num("WORKERS", &c.Workers)
	num("SUMMARY_TOKEN_BUDGET", &c.SummaryTokenBudget)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

var validate = validator.New()

// Validate checks field ranges. An empty API key passes: the pipeline
// reports it per document.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Field()))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s, got %v", e.Field(), map[string]string{"min": ">=", "max": "<="}[e.Tag()], e.Param(), e.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", e.Field(), e.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// CacheTTLSeconds is the configured TTL capped at MaxCacheTTL.
func (c *Config) CacheTTLSeconds() int {
	return min(c.CacheTTL, MaxCacheTTL)
}

// HasAPIKey reports whether recognition and summarization can run.
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.OpenRouterAPIKey) != ""
}
