package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/catalog"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/estimate"
	"github.com/fpang/collision-estimator/internal/metrics"
	"github.com/fpang/collision-estimator/internal/narrative"
	"github.com/fpang/collision-estimator/internal/rag"
	"github.com/fpang/collision-estimator/internal/store"
)

// EstimateRequest carries the inputs of one estimate run. Findings may be
// given directly; otherwise they are detected from Images or BucketURL.
type EstimateRequest struct {
	ClaimID          string              `json:"claim_id,omitempty"`
	VehicleInfo      *damage.VehicleInfo `json:"vehicle_info,omitempty"`
	Side             string              `json:"side,omitempty"`
	BucketURL        string              `json:"bucket_url,omitempty"`
	Images           []string            `json:"images,omitempty"`
	Findings         []damage.Finding    `json:"damage_descriptions,omitempty"`
	Narrative        string              `json:"merged_damage_description,omitempty"`
	HumanDescription string              `json:"human_description,omitempty"`
	PSSData          json.RawMessage     `json:"pss_data,omitempty"`
	PSSURL           string              `json:"pss_url,omitempty"`
	CustomPrompt     string              `json:"custom_estimate_prompt,omitempty"`
	TopK             int                 `json:"top_k,omitempty"`
	MinScore         *float64            `json:"min_score,omitempty"`
}

// GeneratedEstimate wraps the estimate map for the response body.
type GeneratedEstimate struct {
	Estimate damage.Estimate `json:"estimate"`
}

// EstimateReport is the outcome of one run. When synthesis fails Success
// is false, Error says why, and the estimate is empty.
type EstimateReport struct {
	Success                bool                   `json:"success"`
	ClaimID                string                 `json:"claim_id"`
	RunID                  string                 `json:"run_id"`
	ImagesAnalyzed         int                    `json:"images_analyzed"`
	ImagesWithDamage       int                    `json:"images_with_damage"`
	DamageDetections       []damage.ImageResult   `json:"damage_detections"`
	MergedDescription      string                 `json:"merged_damage_description"`
	RetrievedCases         []damage.RetrievedCase `json:"retrieved_cases"`
	GeneratedEstimate      GeneratedEstimate      `json:"generated_estimate"`
	VehicleInfo            *damage.VehicleInfo    `json:"vehicle_info,omitempty"`
	HumanDamageDescription string                 `json:"human_damage_description,omitempty"`
	PSSDataUsed            bool                   `json:"pss_data_used"`
	ProcessingTimeSeconds  float64                `json:"processing_time_seconds"`
	Error                  string                 `json:"error,omitempty"`
}

// Estimate runs collect, merge, retrieve and synthesise once each.
func (p *Pipeline) Estimate(ctx context.Context, req EstimateRequest) (EstimateReport, error) {
	if p.synth == nil {
		return EstimateReport{}, ErrNoModel
	}
	start := p.now()
	report := EstimateReport{
		ClaimID:          req.ClaimID,
		RunID:            store.NewRunID(),
		DamageDetections: []damage.ImageResult{},
		VehicleInfo:      req.VehicleInfo,
	}
	if report.ClaimID == "" {
		report.ClaimID = store.NewClaimID()
	}
	logger := log.With().Str("claimId", report.ClaimID).Str("runId", report.RunID).Logger()

	// Collecting findings.
	findings := req.Findings
	switch {
	case len(findings) > 0:
		report.ImagesAnalyzed = len(req.Images)
		report.ImagesWithDamage = len(req.Images)
	case len(req.Images) > 0 || req.BucketURL != "":
		det, err := p.Detect(ctx, DetectRequest{
			BucketURL:        req.BucketURL,
			ImageURLs:        req.Images,
			VehicleInfo:      req.VehicleInfo,
			HumanDescription: req.HumanDescription,
		})
		if err != nil {
			return EstimateReport{}, err
		}
		findings = damage.Findings(det.Detections)
		report.ImagesAnalyzed = det.TotalImages
		report.ImagesWithDamage = det.ImagesWithDamage
		report.DamageDetections = det.Detections
	}

	// Merging.
	query := strings.TrimSpace(req.Narrative)
	if query == "" && len(findings) > 0 {
		query = narrative.Merge(findings, req.VehicleInfo)
	}
	if query == "" {
		return EstimateReport{}, ErrNoDescription
	}
	report.MergedDescription = query

	// Retrieving, best effort.
	cases := []damage.RetrievedCase{}
	if p.cases != nil {
		cases = p.cases.Retrieve(ctx, query, req.TopK, req.MinScore)
	}
	report.RetrievedCases = cases

	doc := p.loadCatalog(ctx, req)
	report.PSSDataUsed = doc != nil

	human := req.HumanDescription
	if human == "" {
		human = req.Narrative
	}
	report.HumanDamageDescription = human

	// Synthesizing.
	res := p.synth.Synthesize(ctx, estimate.Input{
		Findings:         findings,
		Cases:            cases,
		Catalog:          doc,
		Vehicle:          req.VehicleInfo,
		HumanDescription: human,
		CustomTemplate:   req.CustomPrompt,
	})
	report.GeneratedEstimate = GeneratedEstimate{Estimate: res.Estimate}
	report.Success = res.Err == nil
	if res.Err != nil {
		report.Error = "estimate generation failed"
	}
	report.ProcessingTimeSeconds = seconds(p.now().Sub(start))

	metrics.Op("pipeline").
		Count("EstimateRuns").
		Metric("RunFindings", float64(len(findings)), metrics.UnitCount).
		Duration("RunLatencyMs", p.now().Sub(start)).
		Flush()
	logger.Info().
		Bool("success", report.Success).
		Int("findings", len(findings)).
		Int("retrievedCases", len(cases)).
		Bool("catalog", report.PSSDataUsed).
		Int("operations", res.Estimate.OperationCount()).
		Msg("Estimate run complete")

	p.emitEstimate(ctx, report, len(findings))
	p.saveRun(ctx, report, len(findings), res.Err)
	return report, nil
}

// loadCatalog parses the inline catalog or fetches the one at PSSURL. A
// catalog that cannot be loaded is logged and the run continues without.
func (p *Pipeline) loadCatalog(ctx context.Context, req EstimateRequest) *catalog.Document {
	data := []byte(req.PSSData)
	source := "inline"
	if len(data) == 0 || string(data) == "null" {
		if req.PSSURL == "" {
			return nil
		}
		if p.fetcher == nil {
			log.Warn().Str("pssUrl", req.PSSURL).Msg("No fetcher configured, continuing without catalog")
			return nil
		}
		obj, err := p.fetcher.Fetch(ctx, req.PSSURL)
		if err != nil {
			log.Warn().Err(err).Str("pssUrl", req.PSSURL).Msg("Catalog fetch failed, continuing without catalog")
			return nil
		}
		data, source = obj.Data, req.PSSURL
	}
	doc, err := catalog.ParseDocument(data)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Msg("Catalog unreadable, continuing without catalog")
		return nil
	}
	log.Debug().Str("source", source).Int("partDetails", doc.PartDetailCount()).Msg("Catalog loaded")
	return doc
}

func (p *Pipeline) emitEstimate(ctx context.Context, r EstimateReport, findings int) {
	err := p.events.Emit(ctx, rag.EventEstimateGenerated, rag.EstimateEvent{
		RunID:          r.RunID,
		ClaimID:        r.ClaimID,
		Model:          p.model,
		Categories:     r.GeneratedEstimate.Estimate.Categories(),
		Operations:     r.GeneratedEstimate.Estimate.OperationCount(),
		RetrievedCases: len(r.RetrievedCases),
		Findings:       findings,
		Failed:         !r.Success,
		Timestamp:      p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Warn().Err(err).Str("runId", r.RunID).Msg("Estimate event not emitted")
	}
}

func (p *Pipeline) saveRun(ctx context.Context, r EstimateReport, findings int, synthErr error) {
	if p.runs == nil {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("runId", r.RunID).Msg("Failed to encode run report")
		return
	}
	run := &store.Run{
		ClaimID:    r.ClaimID,
		RunID:      r.RunID,
		Kind:       "estimate",
		Status:     store.StatusCompleted,
		Model:      p.model,
		Images:     r.ImagesAnalyzed,
		Findings:   findings,
		Operations: r.GeneratedEstimate.Estimate.OperationCount(),
		CreatedAt:  p.now().Unix(),
		Report:     body,
	}
	if synthErr != nil {
		run.Status = store.StatusFailed
		run.Error = synthErr.Error()
	}
	if err := p.runs.PutRun(ctx, run); err != nil {
		log.Error().Err(err).Str("runId", r.RunID).Msg("Failed to store run")
	}
}
