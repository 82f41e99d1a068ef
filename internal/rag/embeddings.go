package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/collision-estimator/internal/inference"
	"github.com/fpang/collision-estimator/internal/metrics"
)

// DefaultEmbeddingDims is the output size requested from the model.
const DefaultEmbeddingDims = 768

// GeminiEmbedder produces L2-normalised embeddings with a Gemini
// embedding model.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

func NewGeminiEmbedder(client *genai.Client, model string, dims int) *GeminiEmbedder {
	if model == "" {
		model = inference.ModelEmbedding001
	}
	if dims <= 0 {
		dims = DefaultEmbeddingDims
	}
	return &GeminiEmbedder{client: client, model: model, dims: dims}
}

// Dims is the vector size this embedder returns.
func (e *GeminiEmbedder) Dims() int { return e.dims }

func (e *GeminiEmbedder) Embed(ctx context.Context, text, task string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}
	start := time.Now()
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             task,
		OutputDimensionality: genai.Ptr(int32(e.dims)),
	})
	m := metrics.Op("embed").
		Dimension("TaskType", task).
		Duration("EmbeddingLatencyMs", time.Since(start))
	if err != nil {
		m.Count("EmbeddingErrors").Flush()
		log.Error().Err(err).Str("model", e.model).Str("task", task).Msg("Embedding call failed")
		return nil, fmt.Errorf("embed: %w", inference.Classify(err))
	}
	m.Count("EmbeddingCalls").Flush()

	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, &inference.CallError{Kind: inference.KindEmptyResponse, Message: "no embedding returned"}
	}
	return normalize(resp.Embeddings[0].Values), nil
}
