// Package batch fans per-image analysis out over a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/collision-estimator/internal/analyzer"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/metrics"
	"github.com/fpang/collision-estimator/internal/storage"
)

// DefaultLimit is the number of images analysed at once when unset.
const DefaultLimit = 10

// ErrNoImages is returned when a batch has nothing to analyse.
var ErrNoImages = errors.New("no images found")

// Detector analyses one fetched image.
type Detector interface {
	Detect(ctx context.Context, ref string, obj storage.Object, c analyzer.Context) analyzer.Outcome
}

// Classifier guesses the side shown in one fetched image.
type Classifier interface {
	Classify(ctx context.Context, ref string, obj storage.Object, customPrompt string) analyzer.Classification
}

// Options control one Run.
type Options struct {
	Limit   int
	Context analyzer.Context
}

// Result is the outcome of a batch. len(Results) == Total.
type Result struct {
	Results    []damage.ImageResult
	Total      int
	WithDamage int
	Failed     int
}

// Orchestrator fetches and analyses images concurrently.
type Orchestrator struct {
	fetcher    storage.Fetcher
	detector   Detector
	classifier Classifier
}

// New wires an orchestrator. classifier may be nil when Classify is unused.
func New(fetcher storage.Fetcher, detector Detector, classifier Classifier) *Orchestrator {
	return &Orchestrator{fetcher: fetcher, detector: detector, classifier: classifier}
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// Run analyses every ref. Results are appended in completion order. Refs
// that fail, or that never start because ctx was cancelled, contribute the
// sentinel result so the output always has one entry per input.
func (o *Orchestrator) Run(ctx context.Context, refs []string, opts Options) (Result, error) {
	if len(refs) == 0 {
		return Result{}, ErrNoImages
	}
	start := time.Now()
	limit := clampLimit(opts.Limit)

	var (
		mu  sync.Mutex
		res = Result{Results: make([]damage.ImageResult, 0, len(refs)), Total: len(refs)}
	)
	record := func(out analyzer.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		res.Results = append(res.Results, out.Result)
		if out.Err != nil {
			res.Failed++
		}
		if out.Result.HasDamage {
			res.WithDamage++
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, ref := range refs {
		if ctx.Err() != nil {
			record(analyzer.Outcome{Result: damage.Sentinel(ref), Err: ctx.Err()})
			continue
		}
		g.Go(func() error {
			record(o.analyze(ctx, ref, opts.Context))
			return nil
		})
	}
	_ = g.Wait() // failures are carried per result

	log.Info().
		Int("total", res.Total).
		Int("withDamage", res.WithDamage).
		Int("failed", res.Failed).
		Int("concurrency", limit).
		Dur("duration", time.Since(start)).
		Msg("Batch analysis complete")
	metrics.Op("detect").
		Metric("BatchImages", float64(res.Total), metrics.UnitCount).
		Metric("BatchImagesWithDamage", float64(res.WithDamage), metrics.UnitCount).
		Metric("BatchImagesFailed", float64(res.Failed), metrics.UnitCount).
		Duration("BatchDurationMs", time.Since(start)).
		Flush()
	return res, nil
}

func (o *Orchestrator) analyze(ctx context.Context, ref string, c analyzer.Context) analyzer.Outcome {
	if err := ctx.Err(); err != nil {
		return analyzer.Outcome{Result: damage.Sentinel(ref), Err: err}
	}
	obj, err := o.fetcher.Fetch(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("image", ref).Msg("Image fetch failed, using sentinel")
		return analyzer.Outcome{Result: damage.Sentinel(ref), Err: fmt.Errorf("fetch: %w", err)}
	}
	return o.detector.Detect(ctx, ref, obj, c)
}

// Classify groups refs by the side each shows, using the same bounded
// pool as Run. Every ref lands in exactly one group.
func (o *Orchestrator) Classify(ctx context.Context, refs []string, limit int, customPrompt string) (map[damage.Side][]string, error) {
	if len(refs) == 0 {
		return nil, ErrNoImages
	}
	if o.classifier == nil {
		return nil, errors.New("classifier not configured")
	}

	var (
		mu     sync.Mutex
		groups = make(map[damage.Side][]string)
	)
	add := func(side damage.Side, ref string) {
		mu.Lock()
		groups[side] = append(groups[side], ref)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(clampLimit(limit))
	for _, ref := range refs {
		if ctx.Err() != nil {
			add(damage.SideUnknown, ref)
			continue
		}
		g.Go(func() error {
			obj, err := o.fetcher.Fetch(ctx, ref)
			if err != nil {
				log.Warn().Err(err).Str("image", ref).Msg("Image fetch failed, classifying as unknown")
				add(damage.SideUnknown, ref)
				return nil
			}
			c := o.classifier.Classify(ctx, ref, obj, customPrompt)
			add(c.Side, ref)
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int("images", len(refs)).Int("sides", len(groups)).Msg("Classification complete")
	metrics.Op("classify").Metric("ClassifiedImages", float64(len(refs)), metrics.UnitCount).Flush()
	return groups, nil
}

// Resolve picks the refs to analyse. Explicit refs win; otherwise images
// under bucketURL are listed.
func (o *Orchestrator) Resolve(ctx context.Context, bucketURL string, refs []string) ([]string, error) {
	if len(refs) > 0 {
		return refs, nil
	}
	if bucketURL == "" {
		return nil, ErrNoImages
	}
	listed, err := o.fetcher.List(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucketURL, err)
	}
	if len(listed) == 0 {
		return nil, ErrNoImages
	}
	log.Debug().Str("prefix", bucketURL).Int("images", len(listed)).Msg("Resolved images from prefix")
	return listed, nil
}
