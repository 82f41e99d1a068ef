// Package rag stores historical damage cases as embedded narratives and
// retrieves the most similar ones for a new claim.
package rag

import (
	"context"

	"github.com/fpang/collision-estimator/internal/damage"
)

// Defaults for similarity search.
const (
	DefaultTopK     = 5
	DefaultMinScore = 0.5
)

// Embedding task types.
const (
	TaskDocument = "RETRIEVAL_DOCUMENT"
	TaskQuery    = "RETRIEVAL_QUERY"
)

// Payload is everything stored alongside a case vector. Content is the
// embedded narrative.
type Payload struct {
	Content          string             `json:"content"`
	VehicleInfo      damage.VehicleInfo `json:"vehicle_info"`
	Side             string             `json:"side"`
	Images           []string           `json:"images"`
	Findings         []damage.Finding   `json:"damage_descriptions"`
	ApprovedEstimate damage.Estimate    `json:"approved_estimate"`
	UploadedAt       string             `json:"uploaded_at"`
	N8NUUID          string             `json:"n8n_uuid,omitempty"`
	MitchellURLKey   string             `json:"mitchell_url_key,omitempty"`
	AccountID        *int               `json:"account_id,omitempty"`
}

// Point is one vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a search result.
type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// Case converts a hit into the shape the estimate prompt consumes.
func (h Hit) Case() damage.RetrievedCase {
	side := h.Payload.Side
	if side == "" {
		side = string(damage.SideUnknown)
	}
	return damage.RetrievedCase{
		Score:            h.Score,
		Content:          h.Payload.Content,
		VehicleInfo:      h.Payload.VehicleInfo,
		Side:             side,
		DamageFindings:   h.Payload.Findings,
		ApprovedEstimate: h.Payload.ApprovedEstimate,
	}
}

// CollectionInfo describes the backing collection or table.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount int64  `json:"points_count"`
	Status      string `json:"status"`
	VectorSize  int    `json:"vector_size"`
}

// VectorIndex is a similarity-searchable store of case points.
type VectorIndex interface {
	// Ensure creates the collection with the given dimensions if missing.
	Ensure(ctx context.Context, dims int) error
	Upsert(ctx context.Context, points []Point) error
	// Search returns hits by descending score. A nil minScore disables the
	// threshold.
	Search(ctx context.Context, vector []float32, topK int, minScore *float64) ([]Hit, error)
	Reachable(ctx context.Context) bool
	Info(ctx context.Context) (CollectionInfo, error)
	Drop(ctx context.Context) error
	// Location names the index for logs.
	Location() string
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text, task string) ([]float32, error)
}
