package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/collision-estimator/internal/analyzer"
	"github.com/fpang/collision-estimator/internal/batch"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/narrative"
	"github.com/fpang/collision-estimator/internal/storage"
)

// caseSides are the sides a case may be built for.
var caseSides = []damage.Side{damage.SideFront, damage.SideRear, damage.SideLeft, damage.SideRight, damage.SideRoof}

// SideRequest asks for a case built from the images of one side.
type SideRequest struct {
	Side             string             `json:"side"`
	Images           []string           `json:"images"`
	VehicleInfo      damage.VehicleInfo `json:"vehicle_info"`
	ApprovedEstimate damage.Estimate    `json:"approved_estimate"`
	CustomPrompt     string             `json:"custom_damage_analysis_prompt,omitempty"`
	N8NUUID          string             `json:"n8n_uuid,omitempty"`
	MitchellURLKey   string             `json:"mitchell_url_key,omitempty"`
	AccountID        *int               `json:"account_id,omitempty"`
	// SkipIndex leaves the built case out of the vector index.
	SkipIndex bool `json:"skip_index,omitempty"`
}

func validSide(s string) (damage.Side, bool) {
	side := damage.Side(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range caseSides {
		if v == side {
			return side, true
		}
	}
	return "", false
}

// AnalyzeSide analyses the images of one side together and returns the
// resulting case. Unless SkipIndex is set the case is also indexed; an
// indexing failure is logged and does not fail the call.
func (p *Pipeline) AnalyzeSide(ctx context.Context, req SideRequest) (damage.Case, error) {
	if len(req.Images) == 0 {
		return damage.Case{}, batch.ErrNoImages
	}
	side, ok := validSide(req.Side)
	if !ok {
		return damage.Case{}, ErrInvalidSide
	}
	if p.sides == nil {
		return damage.Case{}, ErrNoModel
	}

	objs := p.fetchAll(ctx, req.Images)
	findings, err := p.sides.AnalyzeSide(ctx, analyzer.SideInput{
		Side:         string(side),
		Images:       objs,
		Vehicle:      req.VehicleInfo,
		Approved:     req.ApprovedEstimate,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		return damage.Case{}, err
	}

	c := damage.Case{
		VehicleInfo:      req.VehicleInfo,
		Side:             string(side),
		Images:           req.Images,
		Findings:         findings,
		Narrative:        narrative.Merge(findings, &req.VehicleInfo),
		ApprovedEstimate: req.ApprovedEstimate,
		N8NUUID:          req.N8NUUID,
		MitchellURLKey:   req.MitchellURLKey,
		AccountID:        req.AccountID,
	}
	if c.ApprovedEstimate == nil {
		c.ApprovedEstimate = damage.Estimate{}
	}

	if !req.SkipIndex && p.cases != nil {
		if id, err := p.cases.Save(ctx, c); err != nil {
			log.Warn().Err(err).Str("side", c.Side).Msg("Failed to index case, returning it anyway")
		} else {
			log.Info().Str("pointId", id).Str("side", c.Side).Msg("Case indexed after side analysis")
		}
	}
	return c, nil
}

// fetchAll downloads refs with bounded concurrency, keeping input order.
// Failed downloads are skipped.
func (p *Pipeline) fetchAll(ctx context.Context, refs []string) []storage.Object {
	slots := make([]storage.Object, len(refs))
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency())
	for i, ref := range refs {
		g.Go(func() error {
			obj, err := p.fetcher.Fetch(ctx, ref)
			if err != nil {
				log.Warn().Err(err).Str("image", ref).Msg("Image fetch failed, skipping")
				return nil
			}
			slots[i] = obj
			return nil
		})
	}
	_ = g.Wait()

	out := make([]storage.Object, 0, len(refs))
	for _, obj := range slots {
		if len(obj.Data) > 0 {
			out = append(out, obj)
		}
	}
	return out
}

// ClaimRequest asks for cases for every side found under a bucket prefix.
type ClaimRequest struct {
	BucketURL            string             `json:"bucket_url"`
	VehicleInfo          damage.VehicleInfo `json:"vehicle_info"`
	ApprovedEstimate     damage.Estimate    `json:"approved_estimate"`
	ClassifyPrompt       string             `json:"custom_classification_prompt,omitempty"`
	DamageAnalysisPrompt string             `json:"custom_damage_analysis_prompt,omitempty"`
	N8NUUID              string             `json:"n8n_uuid,omitempty"`
	MitchellURLKey       string             `json:"mitchell_url_key,omitempty"`
	AccountID            *int               `json:"account_id,omitempty"`
}

// AnalyzeClaim classifies the claim's images and builds one case per side
// that has images. Unknown images are ignored. Sides are processed in a
// fixed order; a side that fails is logged and skipped.
func (p *Pipeline) AnalyzeClaim(ctx context.Context, req ClaimRequest) ([]damage.Case, error) {
	if req.BucketURL == "" {
		return nil, batch.ErrNoImages
	}
	groups, err := p.Classify(ctx, ClassifyRequest{BucketURL: req.BucketURL, CustomPrompt: req.ClassifyPrompt})
	if err != nil {
		return nil, err
	}

	var cases []damage.Case
	for _, side := range caseSides {
		imgs := groups.ClassifiedImages[string(side)]
		if len(imgs) == 0 {
			continue
		}
		c, err := p.AnalyzeSide(ctx, SideRequest{
			Side:             string(side),
			Images:           imgs,
			VehicleInfo:      req.VehicleInfo,
			ApprovedEstimate: req.ApprovedEstimate,
			CustomPrompt:     req.DamageAnalysisPrompt,
			N8NUUID:          req.N8NUUID,
			MitchellURLKey:   req.MitchellURLKey,
			AccountID:        req.AccountID,
		})
		if err != nil {
			log.Warn().Err(err).Str("side", string(side)).Msg("Side analysis failed, skipping side")
			continue
		}
		cases = append(cases, c)
	}
	if len(cases) == 0 {
		return nil, ErrNoSides
	}
	return cases, nil
}

// SaveCase embeds and indexes a prepared case and returns its point id.
func (p *Pipeline) SaveCase(ctx context.Context, c damage.Case) (string, error) {
	if p.cases == nil {
		return "", ErrNoIndex
	}
	id, err := p.cases.Save(ctx, c)
	if err != nil {
		return "", fmt.Errorf("save case: %w", err)
	}
	return id, nil
}
