package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/inference"
	"github.com/fpang/collision-estimator/internal/pipeline"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{65 * time.Second, "1:05"},
		{3723 * time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := Confirm(strings.NewReader(tt.in), &out, "Delete?"); got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if !strings.Contains(out.String(), "Delete? [y/N]") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}

func TestResolveDirectory(t *testing.T) {
	dir := t.TempDir()
	got, err := ResolveDirectory(dir)
	if err != nil || !filepath.IsAbs(got) {
		t.Errorf("ResolveDirectory(%q) = %q, %v", dir, got, err)
	}

	file := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveDirectory(file); err == nil {
		t.Error("expected error for a file")
	}
	if _, err := ResolveDirectory(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for a missing path")
	}
}

func TestExplain(t *testing.T) {
	quota := &inference.CallError{Kind: inference.KindQuota, Message: "rate limited"}
	if got := Explain(quota); !strings.HasPrefix(got, "API quota exceeded") {
		t.Errorf("Explain(quota) = %q", got)
	}
	if got := Explain(errors.New("boom")); got != "boom" {
		t.Errorf("Explain(plain) = %q", got)
	}
}

func TestPrintEstimateReport(t *testing.T) {
	h := 1.5
	r := pipeline.EstimateReport{
		Success:           true,
		ClaimID:           "c-1",
		RunID:             "run-1",
		MergedDescription: "The vehicle shows damage to: Hood (Major Dent).",
		GeneratedEstimate: pipeline.GeneratedEstimate{Estimate: damage.Estimate{
			"Hood":   {{Description: "Hood panel", Operation: "Repair", LaborHours: &h, PartID: "77"}},
			"Bumper": {{Description: "Bumper cover", Operation: "Refinish"}},
		}},
	}
	var buf bytes.Buffer
	PrintEstimateReport(&buf, r)
	out := buf.String()
	for _, want := range []string{"Claim: c-1", "Hood panel (1.5h) #77", "2 operation(s) across 2 categories"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Bumper") > strings.Index(out, "Hood\n") {
		t.Error("categories not sorted")
	}

	buf.Reset()
	PrintEstimateReport(&buf, pipeline.EstimateReport{Error: "estimate generation failed"})
	if !strings.Contains(buf.String(), "Estimate failed: estimate generation failed") {
		t.Errorf("failure not reported:\n%s", buf.String())
	}
}

func TestPrintDetectReport(t *testing.T) {
	var buf bytes.Buffer
	PrintDetectReport(&buf, pipeline.DetectReport{
		TotalImages:      2,
		ImagesWithDamage: 1,
		Detections: []damage.ImageResult{
			{
				ImageURL:   "s3://claims/c1/rear.jpg",
				Side:       damage.SideRear,
				HasDamage:  true,
				Confidence: 0.9,
				Damages:    []damage.Finding{{Part: "Rear Bumper", Severity: damage.SeverityMajor, Type: "Dent"}},
				Capture:    &damage.Capture{TakenAt: time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC), Make: "Apple", Model: "iPhone 15"},
			},
			{ImageURL: "s3://claims/c1/roof.jpg", Side: damage.SideRoof},
		},
		MergedDamageDescription: "The vehicle shows damage to: Rear Bumper (Major Dent).",
	})
	out := buf.String()
	for _, want := range []string{
		"rear.jpg [rear, 0.90] 1 finding(s)",
		"taken 2026-05-04 10:30 Apple iPhone 15",
		"roof.jpg [roof, 0.00] no damage",
		"Rear Bumper: Major Dent",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "taken") != 1 {
		t.Errorf("capture line printed for an image without EXIF:\n%s", out)
	}
}
