// Package config holds the explicit configuration object passed into every
// component. Values come from defaults, an optional YAML file and
// environment overrides, in that order; a .env file in the working
// directory is loaded first so local runs can keep secrets out of YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Vector index backends.
const (
	BackendQdrant  = "qdrant"
	BackendDataAPI = "dataapi"
	BackendMemory  = "memory"
)

// Defaults.
const (
	DefaultModel             = "gemini-3-pro-preview"
	DefaultEmbeddingModel    = "gemini-embedding-001"
	DefaultEmbeddingDims     = 768
	DefaultTemperature       = 1.0
	DefaultMediaResolution   = "high"
	DefaultConcurrency       = 10
	DefaultTopK              = 5
	DefaultScoreThreshold    = 0.5
	DefaultQdrantHost        = "localhost"
	DefaultQdrantPort        = 6333
	DefaultCollection        = "image_descriptions"
	DefaultCasesTable        = "damage_cases"
	DefaultListenAddr        = ":8080"
	DefaultMaxImageDimension = 2048
	DefaultRunTTLDays        = 30
	DefaultGeminiKeyParam    = "/collision-estimator/prod/gemini-api-key"
)

// GeminiConfig configures inference and embeddings.
type GeminiConfig struct {
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	EmbeddingDims   int     `yaml:"embedding_dims"`
	Temperature     float32 `yaml:"temperature"`
	MediaResolution string  `yaml:"media_resolution"`
	// RequestsPerSecond caps outbound model calls; 0 disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	KeyParam          string  `yaml:"key_param"`
}

// QdrantConfig locates a Qdrant server.
type QdrantConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	HTTPS       bool   `yaml:"https"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// URL is the REST base address.
func (q QdrantConfig) URL() string {
	scheme := "http"
	if q.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, q.Host, q.Port)
}

// DataAPIConfig locates an Aurora PostgreSQL cluster with pgvector.
type DataAPIConfig struct {
	ClusterARN string `yaml:"cluster_arn"`
	SecretARN  string `yaml:"secret_arn"`
	Database   string `yaml:"database"`
	Table      string `yaml:"table"`
}

// VectorConfig selects the similar-case index.
type VectorConfig struct {
	Backend string        `yaml:"backend"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
	DataAPI DataAPIConfig `yaml:"data_api"`
}

// RetrievalConfig holds similar-case search defaults.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

// AWSConfig names optional AWS resources. Empty names disable the feature.
type AWSConfig struct {
	Region     string `yaml:"region"`
	RunsTable  string `yaml:"runs_table"`
	RunTTLDays int    `yaml:"run_ttl_days"`
	EventBus   string `yaml:"event_bus"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr    string   `yaml:"addr"`
	APIKeys []string `yaml:"api_keys"`
}

// Config is the root configuration.
type Config struct {
	LogLevel          string          `yaml:"log_level"`
	Concurrency       int             `yaml:"concurrency"`
	MaxImageDimension int             `yaml:"max_image_dimension"`
	Gemini            GeminiConfig    `yaml:"gemini"`
	Vector            VectorConfig    `yaml:"vector"`
	Retrieval         RetrievalConfig `yaml:"retrieval"`
	AWS               AWSConfig       `yaml:"aws"`
	Server            ServerConfig    `yaml:"server"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		LogLevel:          "info",
		Concurrency:       DefaultConcurrency,
		MaxImageDimension: DefaultMaxImageDimension,
		Gemini: GeminiConfig{
			Model:           DefaultModel,
			EmbeddingModel:  DefaultEmbeddingModel,
			EmbeddingDims:   DefaultEmbeddingDims,
			Temperature:     DefaultTemperature,
			MediaResolution: DefaultMediaResolution,
			KeyParam:        DefaultGeminiKeyParam,
		},
		Vector: VectorConfig{
			Backend: BackendQdrant,
			Qdrant: QdrantConfig{
				Host:        DefaultQdrantHost,
				Port:        DefaultQdrantPort,
				Collection:  DefaultCollection,
				TimeoutSecs: 10,
			},
			DataAPI: DataAPIConfig{Table: DefaultCasesTable},
		},
		Retrieval: RetrievalConfig{TopK: DefaultTopK, ScoreThreshold: DefaultScoreThreshold},
		AWS:       AWSConfig{RunTTLDays: DefaultRunTTLDays},
		Server:    ServerConfig{Addr: DefaultListenAddr},
	}
}

// Load builds a Config. path may be empty; a missing .env is not an error
// but a missing YAML file named explicitly is.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("GEMINI_LOG_LEVEL", &c.LogLevel)
	num("BATCH_CONCURRENCY", &c.Concurrency)

	str("GEMINI_API_KEY", &c.Gemini.APIKey)
	str("GEMINI_MODEL", &c.Gemini.Model)
	str("GEMINI_EMBEDDING_MODEL", &c.Gemini.EmbeddingModel)
	str("SSM_API_KEY_PARAM", &c.Gemini.KeyParam)
	if v, ok := lookup("GEMINI_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("GEMINI_TEMPERATURE: %w", err))
		} else {
			c.Gemini.Temperature = float32(f)
		}
	}

	str("VECTOR_BACKEND", &c.Vector.Backend)
	str("QDRANT_HOST", &c.Vector.Qdrant.Host)
	num("QDRANT_PORT", &c.Vector.Qdrant.Port)
	str("QDRANT_API_KEY", &c.Vector.Qdrant.APIKey)
	str("QDRANT_COLLECTION", &c.Vector.Qdrant.Collection)
	if v, ok := lookup("QDRANT_HTTPS"); ok && v != "" {
		c.Vector.Qdrant.HTTPS = v == "true" || v == "1"
	}
	str("AURORA_CLUSTER_ARN", &c.Vector.DataAPI.ClusterARN)
	str("AURORA_SECRET_ARN", &c.Vector.DataAPI.SecretARN)
	str("AURORA_DATABASE_NAME", &c.Vector.DataAPI.Database)

	str("AWS_REGION", &c.AWS.Region)
	str("DYNAMO_TABLE_NAME", &c.AWS.RunsTable)
	str("EVENT_BUS_NAME", &c.AWS.EventBus)

	str("LISTEN_ADDR", &c.Server.Addr)
	if v, ok := lookup("API_KEYS"); ok && v != "" {
		c.Server.APIKeys = splitList(v)
	}
	return errors.Join(errs...)
}

// Validate checks value ranges. A missing Gemini key is not an error here
// because Lambdas fill it in from SSM after loading.
func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Gemini.Model == "" {
		errs = append(errs, errors.New("gemini.model is required"))
	}
	if c.Gemini.EmbeddingDims <= 0 {
		errs = append(errs, fmt.Errorf("gemini.embedding_dims must be positive, got %d", c.Gemini.EmbeddingDims))
	}
	if c.Gemini.Temperature < 0 || c.Gemini.Temperature > 2 {
		errs = append(errs, fmt.Errorf("gemini.temperature must be within [0, 2], got %v", c.Gemini.Temperature))
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.score_threshold must be within [0, 1], got %v", c.Retrieval.ScoreThreshold))
	}
	switch c.Vector.Backend {
	case BackendQdrant:
		if c.Vector.Qdrant.Host == "" || c.Vector.Qdrant.Collection == "" {
			errs = append(errs, errors.New("vector.qdrant requires host and collection"))
		}
	case BackendDataAPI:
		d := c.Vector.DataAPI
		if d.ClusterARN == "" || d.SecretARN == "" || d.Database == "" {
			errs = append(errs, errors.New("vector.data_api requires cluster_arn, secret_arn and database"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q", c.Vector.Backend))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
