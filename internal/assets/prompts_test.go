package assets

import (
	"strings"
	"testing"
)

func TestEmbeddedPromptsPresent(t *testing.T) {
	for name, p := range map[string]string{
		"detection system": DetectionSystemPrompt,
		"classification":   ClassificationPrompt,
		"estimate system":  EstimateSystemPrompt,
		"side analysis":    SideAnalysisTemplate,
		"estimate":         EstimateTemplate,
	} {
		if strings.TrimSpace(p) == "" {
			t.Errorf("%s prompt is empty", name)
		}
	}
	for _, ph := range []string{"{vehicle_info}", "{damage_descriptions}", "{human_description}", "{retrieved_chunks}", "{pss_data}"} {
		if !strings.Contains(EstimateTemplate, ph) {
			t.Errorf("estimate template missing %s", ph)
		}
	}
	for _, ph := range []string{"{year}", "{make}", "{model}", "{body_type}", "{side}", "{approved_estimate}"} {
		if !strings.Contains(SideAnalysisTemplate, ph) {
			t.Errorf("side analysis template missing %s", ph)
		}
	}
}

func TestRenderDetectionPromptBare(t *testing.T) {
	p := RenderDetectionPrompt(DetectionData{})
	if strings.Contains(p, "<context>") {
		t.Errorf("bare prompt should have no context block:\n%s", p)
	}
	if !strings.HasPrefix(p, "<task>") {
		t.Errorf("expected prompt to start with the task, got:\n%s", p)
	}
}

func TestRenderDetectionPromptWithContext(t *testing.T) {
	p := RenderDetectionPrompt(DetectionData{
		Vehicle:          "2021 Honda Civic (Sedan)",
		HumanDescription: "backed into a pole",
	})
	for _, want := range []string{
		"<context>",
		"Vehicle: 2021 Honda Civic (Sedan)",
		`The owner has described the damage as: "backed into a pole"`,
		"</context>\n\n<task>",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}

	onlyDesc := RenderDetectionPrompt(DetectionData{HumanDescription: "scratched door"})
	if strings.Contains(onlyDesc, "Vehicle:") || !strings.Contains(onlyDesc, "scratched door") {
		t.Errorf("unexpected description-only prompt:\n%s", onlyDesc)
	}
}

func TestFill(t *testing.T) {
	got := Fill("The {year} {make} on the {side}; keep {unknown} and {\"json\": 1}", map[string]string{
		"year": "2020",
		"make": "Ford",
		"side": "rear",
	})
	want := `The 2020 Ford on the rear; keep {unknown} and {"json": 1}`
	if got != want {
		t.Errorf("Fill = %q, want %q", got, want)
	}
}
