package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/metrics"
)

// ErrEmptyNarrative is returned when a case has nothing to embed.
var ErrEmptyNarrative = errors.New("case has no damage narrative")

// ErrUnreachable is returned when the index cannot be contacted.
var ErrUnreachable = errors.New("vector index not reachable")

// Retriever searches and maintains the historical case index.
type Retriever struct {
	embedder Embedder
	index    VectorIndex
	dims     int
	topK     int
	minScore float64
	events   *EventEmitter
	now      func() time.Time
}

// Options tune a Retriever. Zero values select the package defaults; a nil
// MinScore selects DefaultMinScore and zero disables the threshold.
type Options struct {
	Dims     int
	TopK     int
	MinScore *float64
	Events   *EventEmitter
}

func NewRetriever(embedder Embedder, index VectorIndex, opts Options) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    index,
		dims:     opts.Dims,
		topK:     opts.TopK,
		minScore: DefaultMinScore,
		events:   opts.Events,
		now:      time.Now,
	}
	if r.dims <= 0 {
		r.dims = DefaultEmbeddingDims
	}
	if r.topK <= 0 {
		r.topK = DefaultTopK
	}
	if opts.MinScore != nil {
		r.minScore = *opts.MinScore
	}
	return r
}

// Index exposes the underlying index for administration.
func (r *Retriever) Index() VectorIndex { return r.index }

// Search embeds query and returns matching hits. Unlike Retrieve it
// reports failures.
func (r *Retriever) Search(ctx context.Context, query string, topK int, minScore *float64) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	if topK <= 0 {
		topK = r.topK
	}
	if !r.index.Reachable(ctx) {
		return nil, ErrUnreachable
	}
	if err := r.index.Ensure(ctx, r.dims); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}
	vec, err := r.embedder.Embed(ctx, query, TaskQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.index.Search(ctx, vec, topK, minScore)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return hits, nil
}

// Retrieve returns the cases most similar to query by descending score.
// It never fails: any problem yields an empty list, which is logged and
// counted. A nil minScore uses the configured threshold.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, minScore *float64) []damage.RetrievedCase {
	if strings.TrimSpace(query) == "" {
		return []damage.RetrievedCase{}
	}
	if minScore == nil {
		ms := r.minScore
		minScore = &ms
	}
	start := time.Now()
	hits, err := r.Search(ctx, query, topK, minScore)
	m := metrics.Op("retrieve").Duration("RetrievalLatencyMs", time.Since(start))
	if err != nil {
		m.Count("RetrievalFailures").Flush()
		log.Warn().Err(err).Str("index", r.index.Location()).Msg("Similar case retrieval failed, continuing without history")
		return []damage.RetrievedCase{}
	}
	m.Metric("RetrievalHits", float64(len(hits)), metrics.UnitCount).Flush()

	cases := make([]damage.RetrievedCase, 0, len(hits))
	for _, h := range hits {
		cases = append(cases, h.Case())
	}
	log.Debug().Int("hits", len(cases)).Float64("minScore", *minScore).Msg("Similar cases retrieved")
	return cases
}

// PointID derives a stable point id from the vehicle, side and upload time.
func PointID(vin, side string, at time.Time) string {
	name := fmt.Sprintf("%s_%s_%s", vin, side, at.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Save embeds the case narrative and upserts it with its payload. It
// returns the point id.
func (r *Retriever) Save(ctx context.Context, c damage.Case) (string, error) {
	if strings.TrimSpace(c.Narrative) == "" {
		return "", ErrEmptyNarrative
	}
	if !r.index.Reachable(ctx) {
		return "", ErrUnreachable
	}
	if err := r.index.Ensure(ctx, r.dims); err != nil {
		return "", fmt.Errorf("ensure index: %w", err)
	}
	vec, err := r.embedder.Embed(ctx, c.Narrative, TaskDocument)
	if err != nil {
		return "", fmt.Errorf("embed case: %w", err)
	}

	now := r.now()
	id := PointID(c.VehicleInfo.VIN, c.Side, now)
	point := Point{
		ID:     id,
		Vector: vec,
		Payload: Payload{
			Content:          c.Narrative,
			VehicleInfo:      c.VehicleInfo,
			Side:             c.Side,
			Images:           c.Images,
			Findings:         c.Findings,
			ApprovedEstimate: c.ApprovedEstimate,
			UploadedAt:       now.UTC().Format(time.RFC3339),
			N8NUUID:          c.N8NUUID,
			MitchellURLKey:   c.MitchellURLKey,
			AccountID:        c.AccountID,
		},
	}
	if err := r.index.Upsert(ctx, []Point{point}); err != nil {
		return "", fmt.Errorf("upsert case: %w", err)
	}

	log.Info().Str("pointId", id).Str("vin", c.VehicleInfo.VIN).Str("side", c.Side).Msg("Case indexed")
	metrics.Op("save-case").Count("CasesIndexed").Flush()
	if err := r.events.Emit(ctx, EventCaseIndexed, CaseEvent{
		PointID:   id,
		VIN:       c.VehicleInfo.VIN,
		Side:      c.Side,
		Findings:  len(c.Findings),
		Timestamp: now.UTC().Format(time.RFC3339),
	}); err != nil {
		log.Warn().Err(err).Str("pointId", id).Msg("Case indexed event not emitted")
	}
	return id, nil
}
