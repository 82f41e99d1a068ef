// Package app assembles the pipeline and its backends from a Config. The
// CLI, HTTP server, Lambda and MCP binaries all build through here so they
// share one wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/collision-estimator/internal/analyzer"
	"github.com/fpang/collision-estimator/internal/batch"
	"github.com/fpang/collision-estimator/internal/config"
	"github.com/fpang/collision-estimator/internal/estimate"
	"github.com/fpang/collision-estimator/internal/inference"
	"github.com/fpang/collision-estimator/internal/logging"
	"github.com/fpang/collision-estimator/internal/pipeline"
	"github.com/fpang/collision-estimator/internal/rag"
	"github.com/fpang/collision-estimator/internal/storage"
	"github.com/fpang/collision-estimator/internal/store"
)

// Options adjust wiring per binary.
type Options struct {
	// AWS is used as-is when set; otherwise the default chain is loaded.
	AWS *aws.Config
	// AllowLocal lets references without a scheme read the local
	// filesystem. Only the CLI sets it.
	AllowLocal bool
	// RequireModel fails Build when no Gemini key is configured. Servers
	// leave it unset and run degraded.
	RequireModel bool
}

// App holds the assembled components.
type App struct {
	Config    *config.Config
	AWS       aws.Config
	Genai     *genai.Client
	Fetcher   storage.Fetcher
	Index     rag.VectorIndex
	Retriever *rag.Retriever
	Runs      store.RunStore
	Events    *rag.EventEmitter
	Pipeline  *pipeline.Pipeline
}

// ModelConfigured reports whether inference is available.
func (a *App) ModelConfigured() bool { return a.Genai != nil }

// Build wires every component cfg enables.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	if opts.AWS != nil {
		a.AWS = *opts.AWS
	} else {
		var lo []func(*awsconfig.LoadOptions) error
		if cfg.AWS.Region != "" {
			lo = append(lo, awsconfig.WithRegion(cfg.AWS.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, lo...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		a.AWS = awsCfg
	}

	router := storage.Router{Remote: storage.NewS3Fetcher(s3.NewFromConfig(a.AWS))}
	if opts.AllowLocal {
		router.Local = storage.LocalFetcher{}
	}
	a.Fetcher = router

	if cfg.AWS.RunsTable != "" {
		ttl := time.Duration(cfg.AWS.RunTTLDays) * 24 * time.Hour
		a.Runs = store.NewDynamoStore(dynamodb.NewFromConfig(a.AWS), cfg.AWS.RunsTable, ttl)
	}
	if cfg.AWS.EventBus != "" {
		a.Events = rag.NewEventEmitter(eventbridge.NewFromConfig(a.AWS), cfg.AWS.EventBus)
	}

	index, err := NewIndex(cfg.Vector, cfg.Gemini.EmbeddingDims, a.AWS)
	if err != nil {
		return nil, err
	}
	a.Index = index

	deps := pipeline.Deps{
		Fetcher:     a.Fetcher,
		Runs:        a.Runs,
		Events:      a.Events,
		Model:       cfg.Gemini.Model,
		Concurrency: cfg.Concurrency,
	}

	client, err := inference.NewClient(ctx, cfg.Gemini.APIKey)
	switch {
	case err == nil:
		a.Genai = client
		model := inference.NewGeminiModel(client, inference.Options{
			Model:             cfg.Gemini.Model,
			Temperature:       cfg.Gemini.Temperature,
			MediaResolution:   cfg.Gemini.MediaResolution,
			RequestsPerSecond: cfg.Gemini.RequestsPerSecond,
		})
		an := analyzer.New(model, analyzer.Options{MaxImageDimension: cfg.MaxImageDimension})
		minScore := cfg.Retrieval.ScoreThreshold
		a.Retriever = rag.NewRetriever(
			rag.NewGeminiEmbedder(client, cfg.Gemini.EmbeddingModel, cfg.Gemini.EmbeddingDims),
			index,
			rag.Options{
				Dims:     cfg.Gemini.EmbeddingDims,
				TopK:     cfg.Retrieval.TopK,
				MinScore: &minScore,
				Events:   a.Events,
			},
		)
		deps.Batch = batch.New(a.Fetcher, an, an)
		deps.Sides = an
		deps.Synthesizer = estimate.New(model)
		deps.Cases = a.Retriever
	case opts.RequireModel:
		return nil, err
	default:
		log.Warn().Err(err).Msg("Gemini not configured, inference and retrieval disabled")
	}

	a.Pipeline = pipeline.New(deps)
	return a, nil
}

// NewIndex builds the vector index for the configured backend. dims is the
// embedding size new collections are created with.
func NewIndex(cfg config.VectorConfig, dims int, awsCfg aws.Config) (rag.VectorIndex, error) {
	switch cfg.Backend {
	case config.BackendQdrant:
		return rag.NewQdrantIndex(rag.QdrantConfig{
			URL:        cfg.Qdrant.URL(),
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Dims:       dims,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case config.BackendDataAPI:
		d := cfg.DataAPI
		ix, err := rag.NewDataAPIIndex(rdsdata.NewFromConfig(awsCfg), d.ClusterARN, d.SecretARN, d.Database, d.Table)
		if err != nil {
			return nil, fmt.Errorf("data api index: %w", err)
		}
		return ix, nil
	case config.BackendMemory:
		return rag.NewMemoryIndex(cfg.Qdrant.Collection), nil
	default:
		return nil, errors.New("unknown vector backend " + cfg.Backend)
	}
}

// Describe adds the wired resources to a startup log line.
func (a *App) Describe(s *logging.StartupLogger) *logging.StartupLogger {
	s = s.Feature("gemini", a.ModelConfigured()).
		VectorIndex(a.Config.Vector.Backend, a.Index.Location())
	if a.Config.AWS.RunsTable != "" {
		s = s.DynamoTable("runs", a.Config.AWS.RunsTable)
	}
	if a.Config.AWS.EventBus != "" {
		s = s.EventBus("estimates", a.Config.AWS.EventBus)
	}
	return s
}
