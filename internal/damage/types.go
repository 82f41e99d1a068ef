// Package damage defines the value types shared by every stage of the
// collision analysis pipeline: per-image results, findings, vehicle
// context, historical cases, and the generated estimate.
package damage

import (
	"fmt"
	"strings"
	"time"
)

// Side is the vehicle facet an image shows.
type Side string

const (
	SideFront              Side = "front"
	SideRear               Side = "rear"
	SideLeft               Side = "left"
	SideRight              Side = "right"
	SideRoof               Side = "roof"
	SideInterior           Side = "interior"
	SideEngineElectrical   Side = "engine / electrical"
	SideSteeringSuspension Side = "steering / suspension"
	SideAC                 Side = "a/c"
	SideFrameFloor         Side = "frame / floor"
	SideUnknown            Side = "unknown"
)

// Sides lists every side a detection may report, in display order.
var Sides = []Side{
	SideFront, SideRear, SideLeft, SideRight, SideRoof,
	SideInterior, SideEngineElectrical, SideSteeringSuspension,
	SideAC, SideFrameFloor, SideUnknown,
}

// ExteriorSides are the facets the classifier chooses between.
var ExteriorSides = []Side{SideFront, SideRear, SideLeft, SideRight, SideRoof, SideUnknown}

// ParseSide maps free text to a Side. Anything unrecognised is SideUnknown.
func ParseSide(s string) Side {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, side := range Sides {
		if string(side) == s {
			return side
		}
	}
	return SideUnknown
}

// Severity grades a single finding.
type Severity string

const (
	SeverityMinor  Severity = "Minor"
	SeverityMedium Severity = "Medium"
	SeverityMajor  Severity = "Major"
)

// Rank orders severities Major > Medium > Minor. Unrecognised values rank
// below Minor.
func (s Severity) Rank() int {
	switch s {
	case SeverityMajor:
		return 3
	case SeverityMedium:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// ParseSeverity normalises case and surrounding space. Unrecognised
// values are returned as given so callers can still display them.
func ParseSeverity(s string) Severity {
	t := strings.TrimSpace(s)
	for _, sev := range []Severity{SeverityMinor, SeverityMedium, SeverityMajor} {
		if strings.EqualFold(t, string(sev)) {
			return sev
		}
	}
	return Severity(t)
}

// Finding is one located, described instance of damage.
type Finding struct {
	Location      string   `json:"location"`
	Part          string   `json:"part"`
	Severity      Severity `json:"severity"`
	Type          string   `json:"type"`
	StartPosition string   `json:"start_position"`
	EndPosition   string   `json:"end_position"`
	Description   string   `json:"description"`
}

// VehicleInfo identifies the vehicle under assessment.
type VehicleInfo struct {
	VIN      string `json:"vin"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     int    `json:"year"`
	BodyType string `json:"body_type"`
}

// Complete reports whether year, make, model, and body type are all set.
// Context-aware prompts require all four.
func (v *VehicleInfo) Complete() bool {
	return v != nil && v.Year != 0 && v.Make != "" && v.Model != "" && v.BodyType != ""
}

// Known reports whether any identifying field besides the VIN is set.
func (v *VehicleInfo) Known() bool {
	return v != nil && (v.Year != 0 || v.Make != "" || v.Model != "" || v.BodyType != "")
}

// Describe renders "{year} {make} {model} ({body_type})" with N/A for
// missing fields.
func (v *VehicleInfo) Describe() string {
	if v == nil {
		return "N/A N/A N/A (N/A)"
	}
	year := "N/A"
	if v.Year != 0 {
		year = fmt.Sprint(v.Year)
	}
	return fmt.Sprintf("%s %s %s (%s)", year, orNA(v.Make), orNA(v.Model), orNA(v.BodyType))
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Summary renders "{year} {make} {model}", leaving out fields that are
// not set.
func (v *VehicleInfo) Summary() string {
	if v == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if v.Year != 0 {
		parts = append(parts, fmt.Sprint(v.Year))
	}
	for _, s := range []string{v.Make, v.Model} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// ImageResult is the analysis of a single photograph.
type ImageResult struct {
	ImageURL   string    `json:"image_url"`
	Side       Side      `json:"side"`
	HasDamage  bool      `json:"has_damage"`
	Damages    []Finding `json:"damages"`
	Confidence float64   `json:"confidence"`
	Capture    *Capture  `json:"capture,omitempty"`
}

// Capture holds EXIF details of the device that took a photo.
type Capture struct {
	TakenAt time.Time `json:"taken_at,omitzero"`
	Make    string    `json:"make,omitempty"`
	Model   string    `json:"model,omitempty"`
}

// Sentinel is the result substituted when an image could not be analysed.
func Sentinel(ref string) ImageResult {
	return ImageResult{
		ImageURL:   ref,
		Side:       SideUnknown,
		HasDamage:  false,
		Damages:    []Finding{},
		Confidence: 0,
	}
}

// Findings flattens the findings of every result, preserving result order.
func Findings(results []ImageResult) []Finding {
	var all []Finding
	for _, r := range results {
		all = append(all, r.Damages...)
	}
	return all
}

// RetrievedCase is a historical case returned by similarity search.
type RetrievedCase struct {
	Score            float64     `json:"score"`
	Content          string      `json:"content"`
	VehicleInfo      VehicleInfo `json:"vehicle_info"`
	Side             string      `json:"side"`
	DamageFindings   []Finding   `json:"damage_descriptions,omitempty"`
	ApprovedEstimate Estimate    `json:"approved_estimate,omitempty"`
}

// Case is a per-side record stored in the vector index: the narrative is
// embedded and everything else rides along as payload.
type Case struct {
	VehicleInfo      VehicleInfo `json:"vehicle_info"`
	Side             string      `json:"side"`
	Images           []string    `json:"images"`
	Findings         []Finding   `json:"damage_descriptions"`
	Narrative        string      `json:"merged_damage_description"`
	ApprovedEstimate Estimate    `json:"approved_estimate"`
	N8NUUID          string      `json:"n8n_uuid,omitempty"`
	MitchellURLKey   string      `json:"mitchell_url_key,omitempty"`
	AccountID        *int        `json:"account_id,omitempty"`
}
