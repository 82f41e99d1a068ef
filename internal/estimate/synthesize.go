// Package estimate generates a categorised repair estimate from findings,
// similar historical cases and an optional parts catalog.
package estimate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/collision-estimator/internal/assets"
	"github.com/fpang/collision-estimator/internal/catalog"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/inference"
	"github.com/fpang/collision-estimator/internal/metrics"
)

// Input is everything the estimate prompt is built from.
type Input struct {
	Findings         []damage.Finding
	Cases            []damage.RetrievedCase
	Catalog          *catalog.Document
	Vehicle          *damage.VehicleInfo
	HumanDescription string
	// CustomTemplate replaces the built-in prompt. It may use
	// {vehicle_info} {damage_descriptions} {human_description}
	// {retrieved_chunks} {pss_data}.
	CustomTemplate string
}

// Result carries the estimate. On failure Estimate is empty and Err says
// why.
type Result struct {
	Estimate damage.Estimate
	Err      error
}

// Synthesizer turns an Input into an estimate with one model call.
type Synthesizer struct {
	model inference.Model
}

func New(model inference.Model) *Synthesizer {
	return &Synthesizer{model: model}
}

// Prompt renders the estimate prompt for in.
func Prompt(in Input) string {
	tmpl := assets.EstimateTemplate
	if strings.TrimSpace(in.CustomTemplate) != "" {
		tmpl = in.CustomTemplate
	}
	return assets.Fill(tmpl, map[string]string{
		"vehicle_info":        FormatVehicle(in.Vehicle),
		"damage_descriptions": FormatFindings(in.Findings),
		"human_description":   or(in.HumanDescription, notProvided),
		"retrieved_chunks":    FormatCases(in.Cases),
		"pss_data":            FormatCatalog(in.Catalog),
	})
}

func estimateSchema() *genai.Schema {
	op := inference.Object(
		inference.Field{Name: "Description", Schema: inference.String("Part or labor description")},
		inference.Field{Name: "Operation", Schema: inference.String(`"Repair" or "Remove / Replace"`)},
		inference.Field{Name: "LaborHours", Schema: inference.NullableNumber("Labor hours, only for Repair"), Optional: true},
		inference.Field{Name: "PartId", Schema: inference.String("Catalog Id of the part, empty when unknown")},
	)
	group := inference.Object(
		inference.Field{Name: "category", Schema: inference.String("Part category, e.g. Rear Bumper")},
		inference.Field{Name: "operations", Schema: inference.ArrayOf("Operations in this category", op)},
	)
	return inference.Object(
		inference.Field{Name: "estimate", Schema: inference.ArrayOf("Estimate grouped by category", group)},
	)
}

type estimateResponse struct {
	Estimate []struct {
		Category   string             `json:"category"`
		Operations []damage.Operation `json:"operations"`
	} `json:"estimate"`
}

// Synthesize generates the estimate. It never returns an error directly:
// failures leave the estimate empty and set Result.Err.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) Result {
	start := time.Now()
	m := metrics.Op("estimate")

	raw, err := s.model.Generate(ctx, inference.Request{
		Operation: "estimate",
		System:    assets.EstimateSystemPrompt,
		Prompt:    Prompt(in),
		Schema:    estimateSchema(),
	})
	if err == nil {
		var resp estimateResponse
		if resp, err = inference.Decode[estimateResponse](raw); err == nil {
			est := make(damage.Estimate, len(resp.Estimate))
			for _, g := range resp.Estimate {
				cat := strings.TrimSpace(g.Category)
				if cat == "" {
					continue
				}
				est[cat] = append(est[cat], g.Operations...)
			}
			est = PostProcess(est, catalog.BuildIndex(in.Catalog))

			m.Count("EstimatesGenerated").
				Metric("EstimateOperations", float64(est.OperationCount()), metrics.UnitCount).
				Duration("EstimateLatencyMs", time.Since(start)).
				Flush()
			log.Info().
				Int("categories", len(est)).
				Int("operations", est.OperationCount()).
				Int("retrievedCases", len(in.Cases)).
				Bool("catalog", in.Catalog != nil).
				Msg("Estimate generated")
			return Result{Estimate: est}
		}
	}

	m.Count("EstimateFailures").Duration("EstimateLatencyMs", time.Since(start)).Flush()
	log.Error().Err(err).Msg("Estimate generation failed, returning empty estimate")
	return Result{Estimate: damage.Estimate{}, Err: fmt.Errorf("estimate: %w", err)}
}

// PostProcess drops labor hours from non-repair lines and fills missing
// part ids from the catalog: first by description, then by category.
// Unresolved ids are left empty.
func PostProcess(est damage.Estimate, ix *catalog.Index) damage.Estimate {
	out := make(damage.Estimate, len(est))
	for cat, ops := range est {
		lines := make([]damage.Operation, 0, len(ops))
		for _, op := range ops {
			if op.Operation != damage.OperationRepair {
				op.LaborHours = nil
			}
			op.PartID = strings.TrimSpace(op.PartID)
			if op.PartID == "" {
				if id, ok := catalog.Match(op.Description, ix); ok {
					op.PartID = id
				} else if id, ok := catalog.Match(cat, ix); ok {
					op.PartID = id
				}
			}
			lines = append(lines, op)
		}
		out[cat] = lines
	}
	return out
}
