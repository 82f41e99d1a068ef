// Package assets provides the prompt templates embedded at compile time.
//
// Detection prompts are Go templates. Side analysis and estimate prompts
// use {placeholder} substitution so callers can supply their own template
// text with the same placeholders.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// --- Static prompts ---

// DetectionSystemPrompt frames per-image damage detection.
//
//go:embed prompts/detection-system.txt
var DetectionSystemPrompt string

// ClassificationPrompt asks which side of the vehicle an image shows.
//
//go:embed prompts/classification.txt
var ClassificationPrompt string

// EstimateSystemPrompt frames estimate synthesis.
//
//go:embed prompts/estimate-system.txt
var EstimateSystemPrompt string

// --- Placeholder templates ---

// SideAnalysisTemplate uses {year} {make} {model} {body_type} {side}
// {approved_estimate}.
//
//go:embed prompts/side-analysis.txt
var SideAnalysisTemplate string

// EstimateTemplate uses {vehicle_info} {damage_descriptions}
// {human_description} {retrieved_chunks} {pss_data}.
//
//go:embed prompts/estimate.txt
var EstimateTemplate string

// --- Go templates ---

//go:embed prompts/detection.txt
var detectionTemplate string

var detectionTmpl = template.Must(template.New("detection").Parse(detectionTemplate))

// DetectionData is injected into the detection template.
type DetectionData struct {
	// Vehicle is the rendered vehicle line, empty when unknown.
	Vehicle          string
	HumanDescription string
}

// HasContext reports whether the context-aware variant applies.
func (d DetectionData) HasContext() bool {
	return d.Vehicle != "" || d.HumanDescription != ""
}

// RenderDetectionPrompt renders the detection prompt.
func RenderDetectionPrompt(d DetectionData) string {
	var buf bytes.Buffer
	// The template only reads strings; execution cannot fail.
	_ = detectionTmpl.Execute(&buf, d)
	return buf.String()
}

// Fill replaces each {key} in tmpl with its value. Placeholders without a
// value are left as written; unrelated braces are untouched.
func Fill(tmpl string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
