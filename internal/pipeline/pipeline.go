// Package pipeline runs the collision analysis end to end: collecting
// findings from photographs, merging them into a narrative, retrieving
// similar historical cases, and synthesising an estimate.
//
// Every stage runs once per call. Only retrieval degrades silently; an
// empty image set or a missing damage description fails the call.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/fpang/collision-estimator/internal/analyzer"
	"github.com/fpang/collision-estimator/internal/batch"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/estimate"
	"github.com/fpang/collision-estimator/internal/rag"
	"github.com/fpang/collision-estimator/internal/storage"
	"github.com/fpang/collision-estimator/internal/store"
)

var (
	// ErrNoDescription means there was nothing to search similar cases with.
	ErrNoDescription = errors.New("no damage description provided for retrieval")
	// ErrInvalidSide is returned for a side outside front/rear/left/right/roof.
	ErrInvalidSide = errors.New("side must be one of front, rear, left, right, roof")
	// ErrNoIndex is returned by operations that need a vector index when
	// none is configured.
	ErrNoIndex = errors.New("vector index not configured")
	// ErrNoRuns is returned when run persistence is not configured.
	ErrNoRuns = errors.New("run store not configured")
	// ErrNoSides is returned when classification left no analysable side.
	ErrNoSides = errors.New("no valid images found for any side")
	// ErrNoModel is returned by model-backed stages when no inference
	// model is configured.
	ErrNoModel = errors.New("inference model not configured")
)

// SideAnalyzer analyses all images of one vehicle side in a single call.
type SideAnalyzer interface {
	AnalyzeSide(ctx context.Context, in analyzer.SideInput) ([]damage.Finding, error)
}

// Synthesizer produces an estimate. It reports failure in the result.
type Synthesizer interface {
	Synthesize(ctx context.Context, in estimate.Input) estimate.Result
}

// CaseIndex retrieves and stores historical cases.
type CaseIndex interface {
	Retrieve(ctx context.Context, query string, topK int, minScore *float64) []damage.RetrievedCase
	Save(ctx context.Context, c damage.Case) (string, error)
}

// Deps are the collaborators of a Pipeline. Cases, Runs and Events may be
// nil to disable retrieval, run persistence and feedback events.
type Deps struct {
	Fetcher     storage.Fetcher
	Batch       *batch.Orchestrator
	Sides       SideAnalyzer
	Synthesizer Synthesizer
	Cases       CaseIndex
	Runs        store.RunStore
	Events      *rag.EventEmitter
	Model       string
	Concurrency int
}

// Pipeline coordinates the stages. It is safe for concurrent use.
type Pipeline struct {
	fetcher storage.Fetcher
	batch   *batch.Orchestrator
	sides   SideAnalyzer
	synth   Synthesizer
	cases   CaseIndex
	runs    store.RunStore
	events  *rag.EventEmitter
	model   string
	limit   int
	now     func() time.Time
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		fetcher: d.Fetcher,
		batch:   d.Batch,
		sides:   d.Sides,
		synth:   d.Synthesizer,
		cases:   d.Cases,
		runs:    d.Runs,
		events:  d.Events,
		model:   d.Model,
		limit:   d.Concurrency,
		now:     time.Now,
	}
}

// GetRun reads a stored run. It returns nil, nil when the run is unknown.
func (p *Pipeline) GetRun(ctx context.Context, claimID, runID string) (*store.Run, error) {
	if p.runs == nil {
		return nil, ErrNoRuns
	}
	return p.runs.GetRun(ctx, claimID, runID)
}

// ListRuns lists the stored runs of a claim, newest first.
func (p *Pipeline) ListRuns(ctx context.Context, claimID string) ([]*store.Run, error) {
	if p.runs == nil {
		return nil, ErrNoRuns
	}
	return p.runs.ListRuns(ctx, claimID)
}

func (p *Pipeline) concurrency() int {
	if p.limit <= 0 {
		return batch.DefaultLimit
	}
	return p.limit
}

func seconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}
