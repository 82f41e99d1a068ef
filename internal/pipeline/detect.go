package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/analyzer"
	"github.com/fpang/collision-estimator/internal/batch"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/narrative"
)

// DetectRequest names the images to analyse: explicit refs, or every
// image under a bucket prefix.
type DetectRequest struct {
	BucketURL        string              `json:"bucket_url,omitempty"`
	ImageURLs        []string            `json:"image_urls,omitempty"`
	VehicleInfo      *damage.VehicleInfo `json:"vehicle_info,omitempty"`
	HumanDescription string              `json:"human_description,omitempty"`
}

// DetectReport is the batch outcome plus the merged narrative.
type DetectReport struct {
	Success                 bool                 `json:"success"`
	TotalImages             int                  `json:"total_images"`
	ImagesWithDamage        int                  `json:"images_with_damage"`
	ImagesFailed            int                  `json:"images_failed"`
	Detections              []damage.ImageResult `json:"detections"`
	MergedDamageDescription string               `json:"merged_damage_description"`
	ProcessingTimeSeconds   float64              `json:"processing_time_seconds"`
}

// Detect analyses every requested image and merges the findings.
func (p *Pipeline) Detect(ctx context.Context, req DetectRequest) (DetectReport, error) {
	if p.batch == nil {
		return DetectReport{}, ErrNoModel
	}
	start := p.now()
	refs, err := p.batch.Resolve(ctx, req.BucketURL, req.ImageURLs)
	if err != nil {
		return DetectReport{}, err
	}
	res, err := p.batch.Run(ctx, refs, batch.Options{
		Limit:   p.limit,
		Context: analyzer.Context{Vehicle: req.VehicleInfo, HumanDescription: req.HumanDescription},
	})
	if err != nil {
		return DetectReport{}, err
	}

	report := DetectReport{
		Success:                 true,
		TotalImages:             res.Total,
		ImagesWithDamage:        res.WithDamage,
		ImagesFailed:            res.Failed,
		Detections:              res.Results,
		MergedDamageDescription: narrative.Merge(damage.Findings(res.Results), req.VehicleInfo),
		ProcessingTimeSeconds:   seconds(p.now().Sub(start)),
	}
	return report, nil
}

// ClassifyRequest names the images to group by side.
type ClassifyRequest struct {
	BucketURL    string   `json:"bucket_url,omitempty"`
	ImageURLs    []string `json:"image_urls,omitempty"`
	CustomPrompt string   `json:"custom_classification_prompt,omitempty"`
}

// ClassifyReport maps each side to the images that show it.
type ClassifyReport struct {
	Success               bool                `json:"success"`
	ClassifiedImages      map[string][]string `json:"classified_images"`
	TotalImages           int                 `json:"total_images"`
	ProcessingTimeSeconds float64             `json:"processing_time_seconds"`
}

// Classify groups the requested images by the vehicle side they show.
// Images within a group are sorted so reports are stable.
func (p *Pipeline) Classify(ctx context.Context, req ClassifyRequest) (ClassifyReport, error) {
	if p.batch == nil {
		return ClassifyReport{}, ErrNoModel
	}
	start := p.now()
	refs, err := p.batch.Resolve(ctx, req.BucketURL, req.ImageURLs)
	if err != nil {
		return ClassifyReport{}, err
	}
	groups, err := p.batch.Classify(ctx, refs, p.limit, req.CustomPrompt)
	if err != nil {
		return ClassifyReport{}, fmt.Errorf("classify: %w", err)
	}

	out := make(map[string][]string, len(groups))
	for side, imgs := range groups {
		sorted := append([]string(nil), imgs...)
		sort.Strings(sorted)
		out[string(side)] = sorted
	}
	log.Info().Int("images", len(refs)).Int("sides", len(out)).Msg("Images classified")
	return ClassifyReport{
		Success:               true,
		ClassifiedImages:      out,
		TotalImages:           len(refs),
		ProcessingTimeSeconds: seconds(p.now().Sub(start)),
	}, nil
}
