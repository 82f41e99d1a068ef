// Package inference wraps the Gemini API behind a small Model interface so
// analyzers and synthesizers can be tested with fakes.
package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/fpang/collision-estimator/internal/jsonutil"
	"github.com/fpang/collision-estimator/internal/metrics"
)

// Image is an inline image part.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is one generation call. Images precede the prompt in the
// request. A non-nil Schema switches the response to JSON.
type Request struct {
	Operation string
	System    string
	Prompt    string
	Images    []Image
	Schema    *genai.Schema
}

// Model generates text for a request.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Options configures a GeminiModel.
type Options struct {
	Model           string
	Temperature     float32
	MediaResolution string
	// RequestsPerSecond caps call rate across goroutines; 0 means no cap.
	RequestsPerSecond float64
}

// GeminiModel is the production Model.
type GeminiModel struct {
	client      *genai.Client
	model       string
	temperature float32
	resolution  genai.MediaResolution
	limiter     *rate.Limiter
}

// NewClient creates a Gemini API client for apiKey.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, &CallError{Kind: KindNoKey, Message: "GEMINI_API_KEY is not set"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return client, nil
}

func NewGeminiModel(client *genai.Client, opts Options) *GeminiModel {
	m := &GeminiModel{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		resolution:  mediaResolution(opts.MediaResolution),
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		m.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(burst, 1))
	}
	if !KnownModel(opts.Model) {
		log.Warn().Str("model", opts.Model).Msg("Unrecognised Gemini model, sending anyway")
	}
	return m
}

// Name returns the configured model id.
func (m *GeminiModel) Name() string { return m.model }

func mediaResolution(s string) genai.MediaResolution {
	switch strings.ToLower(s) {
	case "low":
		return genai.MediaResolutionLow
	case "medium":
		return genai.MediaResolutionMedium
	case "high":
		return genai.MediaResolutionHigh
	default:
		return ""
	}
}

// Generate sends one request and returns the response text.
func (m *GeminiModel) Generate(ctx context.Context, req Request) (string, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", &CallError{Kind: KindNetwork, Message: "rate limiter wait", Err: err}
		}
	}

	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.temperature),
		MediaResolution: m.resolution,
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = req.Schema
	}

	log.Debug().
		Str("model", m.model).
		Str("operation", req.Operation).
		Int("promptLength", len(req.Prompt)).
		Int("images", len(req.Images)).
		Msg("Starting Gemini API call")

	start := time.Now()
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, config)
	elapsed := time.Since(start)

	rec := metrics.Op(req.Operation).
		Dimension("Model", m.model).
		Duration("GeminiApiLatencyMs", elapsed).
		Count("GeminiApiCalls")
	if err != nil {
		rec.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		rec.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		rec.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	rec.Flush()

	if err != nil {
		ce := Classify(err)
		log.Error().Err(err).Str("kind", ce.Kind.String()).Str("operation", req.Operation).Dur("duration", elapsed).Msg("Gemini call failed")
		return "", ce
	}
	text := ""
	if resp != nil {
		text = resp.Text()
	}
	if strings.TrimSpace(text) == "" {
		log.Warn().Str("operation", req.Operation).Dur("duration", elapsed).Msg("Received empty response from Gemini")
		return "", &CallError{Kind: KindEmptyResponse, Message: "received empty response from Gemini API"}
	}

	log.Debug().
		Str("operation", req.Operation).
		Int("responseLength", len(text)).
		Dur("duration", elapsed).
		Msg("Gemini API response received")
	return text, nil
}

// Decode parses a model response into T, reporting failures as
// KindBadResponse.
func Decode[T any](raw string) (T, error) {
	v, err := jsonutil.ParseJSON[T](raw)
	if err != nil {
		return v, &CallError{Kind: KindBadResponse, Message: "unparseable model response", Err: err}
	}
	return v, nil
}

// ValidateAPIKey makes a minimal call to confirm the key works.
func ValidateAPIKey(ctx context.Context, client *genai.Client) error {
	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, ValidationModel, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	result := "success"
	var out error
	switch {
	case err != nil:
		ce := Classify(err)
		result = ce.Kind.String()
		out = ce
	case resp == nil || len(resp.Candidates) == 0:
		result = KindEmptyResponse.String()
		out = &CallError{Kind: KindEmptyResponse, Message: "API returned empty response"}
	}

	metrics.Op("validate-key").
		Dimension("Result", result).
		Duration("ApiKeyValidationMs", elapsed).
		Count("ApiKeyValidationResult").
		Flush()

	if out != nil {
		log.Error().Err(out).Str("result", result).Msg("API key validation failed")
		return out
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}
