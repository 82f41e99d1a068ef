// Package analyzer turns photographs into structured damage findings with
// one model call per request.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/collision-estimator/internal/assets"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/imageprep"
	"github.com/fpang/collision-estimator/internal/inference"
	"github.com/fpang/collision-estimator/internal/storage"
)

// ErrEmptyImage is carried in Outcome.Err for zero-length input.
var ErrEmptyImage = errors.New("empty image data")

// Context is optional information about the vehicle and claim.
type Context struct {
	Vehicle          *damage.VehicleInfo
	HumanDescription string
}

// Outcome is the result of analysing one image. Result is always usable;
// Err records why it is the sentinel, if it is.
type Outcome struct {
	Result damage.ImageResult
	Err    error
}

// Options tunes image preparation.
type Options struct {
	MaxImageDimension int
}

// Analyzer runs detection, classification and side analysis.
type Analyzer struct {
	model   inference.Model
	maxDim  int
	capture func([]byte) *damage.Capture
}

func New(model inference.Model, opts Options) *Analyzer {
	return &Analyzer{model: model, maxDim: opts.MaxImageDimension, capture: imageprep.ReadCapture}
}

type detection struct {
	Side       string           `json:"side"`
	HasDamage  bool             `json:"has_damage"`
	Damages    []damage.Finding `json:"damages"`
	Confidence float64          `json:"confidence"`
}

// DetectionPrompt selects the prompt for c. The context-aware variant is
// used when any vehicle detail or a human description is present.
func DetectionPrompt(c Context) (string, bool) {
	data := assets.DetectionData{HumanDescription: strings.TrimSpace(c.HumanDescription)}
	if c.Vehicle.Known() {
		data.Vehicle = c.Vehicle.Describe()
	}
	return assets.RenderDetectionPrompt(data), data.HasContext()
}

// Detect analyses one image. It never fails: errors yield the sentinel
// result with Err set.
func (a *Analyzer) Detect(ctx context.Context, ref string, obj storage.Object, c Context) Outcome {
	fail := func(err error) Outcome {
		log.Warn().Err(err).Str("image", ref).Msg("Image analysis failed, using sentinel")
		return Outcome{Result: damage.Sentinel(ref), Err: err}
	}
	if len(obj.Data) == 0 {
		return fail(ErrEmptyImage)
	}

	img, err := imageprep.Prepare(obj.Data, storage.ContentType(ref, obj.ContentType), a.maxDim)
	if err != nil {
		return fail(fmt.Errorf("prepare image: %w", err))
	}

	prompt, contextual := DetectionPrompt(c)
	raw, err := a.model.Generate(ctx, inference.Request{
		Operation: "detect",
		System:    assets.DetectionSystemPrompt,
		Prompt:    prompt,
		Images:    []inference.Image{{Data: img.Data, MIMEType: img.MIMEType}},
		Schema:    detectionSchema(),
	})
	if err != nil {
		return fail(fmt.Errorf("detect %s: %w", ref, err))
	}
	resp, err := inference.Decode[detection](raw)
	if err != nil {
		return fail(fmt.Errorf("detect %s: %w", ref, err))
	}

	result := damage.ImageResult{
		ImageURL:   ref,
		Side:       damage.ParseSide(resp.Side),
		Damages:    normaliseFindings(resp.Damages),
		Confidence: clamp01(resp.Confidence),
		Capture:    a.capture(obj.Data),
	}
	result.HasDamage = resp.HasDamage || len(result.Damages) > 0

	log.Debug().
		Str("image", ref).
		Str("side", string(result.Side)).
		Bool("contextPrompt", contextual).
		Int("damages", len(result.Damages)).
		Float64("confidence", result.Confidence).
		Bool("exif", result.Capture != nil).
		Msg("Image analysed")
	return Outcome{Result: result}
}

type classification struct {
	Side       string  `json:"side"`
	Confidence float64 `json:"confidence"`
}

// Classification is a side guess for one image.
type Classification struct {
	ImageURL   string      `json:"image_url"`
	Side       damage.Side `json:"side"`
	Confidence float64     `json:"confidence"`
	Err        error       `json:"-"`
}

// Classify reports which side an image shows. customPrompt replaces the
// built-in prompt when non-empty. Failures classify as unknown with zero
// confidence.
func (a *Analyzer) Classify(ctx context.Context, ref string, obj storage.Object, customPrompt string) Classification {
	out := Classification{ImageURL: ref, Side: damage.SideUnknown}
	if len(obj.Data) == 0 {
		out.Err = ErrEmptyImage
		return out
	}
	img, err := imageprep.Prepare(obj.Data, storage.ContentType(ref, obj.ContentType), a.maxDim)
	if err != nil {
		out.Err = err
		return out
	}

	prompt := assets.ClassificationPrompt
	if strings.TrimSpace(customPrompt) != "" {
		prompt = customPrompt
	}
	raw, err := a.model.Generate(ctx, inference.Request{
		Operation: "classify",
		Prompt:    prompt,
		Images:    []inference.Image{{Data: img.Data, MIMEType: img.MIMEType}},
		Schema:    classificationSchema(),
	})
	if err == nil {
		var resp classification
		if resp, err = inference.Decode[classification](raw); err == nil {
			out.Side = damage.ParseSide(resp.Side)
			out.Confidence = clamp01(resp.Confidence)
			return out
		}
	}
	log.Warn().Err(err).Str("image", ref).Msg("Classification failed, using unknown")
	out.Err = err
	return out
}

// SideInput is the material for analysing one side of a vehicle.
type SideInput struct {
	Side         string
	Images       []storage.Object
	Vehicle      damage.VehicleInfo
	Approved     damage.Estimate
	CustomPrompt string
}

// AnalyzeSide sends every image of one side in a single call and returns
// the findings. Unlike Detect, failures are returned to the caller.
func (a *Analyzer) AnalyzeSide(ctx context.Context, in SideInput) ([]damage.Finding, error) {
	images := make([]inference.Image, 0, len(in.Images))
	for i, obj := range in.Images {
		if len(obj.Data) == 0 {
			log.Warn().Int("index", i).Str("side", in.Side).Msg("Skipping empty image")
			continue
		}
		img, err := imageprep.Prepare(obj.Data, storage.ContentType("", obj.ContentType), a.maxDim)
		if err != nil {
			return nil, fmt.Errorf("prepare image %d: %w", i, err)
		}
		images = append(images, inference.Image{Data: img.Data, MIMEType: img.MIMEType})
	}
	if len(images) == 0 {
		return nil, ErrEmptyImage
	}

	raw, err := a.model.Generate(ctx, inference.Request{
		Operation: "analyze-side",
		System:    assets.DetectionSystemPrompt,
		Prompt:    SidePrompt(in),
		Images:    images,
		Schema:    sideAnalysisSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s side: %w", in.Side, err)
	}
	resp, err := inference.Decode[struct {
		Damages []damage.Finding `json:"damages"`
	}](raw)
	if err != nil {
		return nil, fmt.Errorf("analyze %s side: %w", in.Side, err)
	}
	findings := normaliseFindings(resp.Damages)
	log.Info().Str("side", in.Side).Int("images", len(images)).Int("damages", len(findings)).Msg("Side analysed")
	return findings, nil
}

// SidePrompt fills the side analysis template, or in.CustomPrompt when
// set, with the vehicle, side and approved estimate.
func SidePrompt(in SideInput) string {
	tmpl := assets.SideAnalysisTemplate
	if strings.TrimSpace(in.CustomPrompt) != "" {
		tmpl = in.CustomPrompt
	}
	year := ""
	if in.Vehicle.Year != 0 {
		year = fmt.Sprint(in.Vehicle.Year)
	}
	return assets.Fill(tmpl, map[string]string{
		"year":              year,
		"make":              in.Vehicle.Make,
		"model":             in.Vehicle.Model,
		"body_type":         in.Vehicle.BodyType,
		"side":              in.Side,
		"approved_estimate": FormatApproved(in.Approved),
	})
}

// FormatApproved lists approved operations by category, or a fixed
// sentence when there are none.
func FormatApproved(e damage.Estimate) string {
	if e.Empty() {
		return "No approved estimate provided"
	}
	var b strings.Builder
	for _, cat := range e.Categories() {
		fmt.Fprintf(&b, "\n%s:\n", cat)
		for _, op := range e[cat] {
			if op.LaborHours != nil && *op.LaborHours != 0 {
				fmt.Fprintf(&b, "  - %s: %s (%g hours)\n", op.Description, op.Operation, *op.LaborHours)
			} else {
				fmt.Fprintf(&b, "  - %s: %s\n", op.Description, op.Operation)
			}
		}
	}
	return b.String()
}

func normaliseFindings(in []damage.Finding) []damage.Finding {
	out := make([]damage.Finding, 0, len(in))
	for _, f := range in {
		f.Severity = damage.ParseSeverity(string(f.Severity))
		f.Part = strings.TrimSpace(f.Part)
		out = append(out, f)
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
