package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/inference"
	"github.com/fpang/collision-estimator/internal/storage"
)

type fakeModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []inference.Request
}

func (f *fakeModel) Generate(_ context.Context, req inference.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

var jpegBytes = storage.Object{Data: []byte("not really a jpeg"), ContentType: "image/jpeg"}

func TestDetectNormalisesResponse(t *testing.T) {
	m := &fakeModel{reply: "```json\n" + `{"side":"Front","has_damage":false,"confidence":1.4,
		"damages":[{"location":"lower","part":" front bumper ","severity":"major","type":"dent","description":"d"}]}` + "\n```"}
	a := New(m, Options{})

	out := a.Detect(context.Background(), "s3://b/front.jpg", jpegBytes, Context{})
	if out.Err != nil {
		t.Fatalf("Detect: %v", out.Err)
	}
	r := out.Result
	if r.Side != damage.SideFront {
		t.Errorf("expected front, got %q", r.Side)
	}
	if !r.HasDamage {
		t.Error("expected has_damage forced true when findings exist")
	}
	if r.Confidence != 1 {
		t.Errorf("expected confidence clamped to 1, got %v", r.Confidence)
	}
	if len(r.Damages) != 1 || r.Damages[0].Severity != damage.SeverityMajor || r.Damages[0].Part != "front bumper" {
		t.Errorf("unexpected findings %+v", r.Damages)
	}
	if r.ImageURL != "s3://b/front.jpg" {
		t.Errorf("unexpected image url %q", r.ImageURL)
	}

	req := m.requests[0]
	if req.Operation != "detect" || req.Schema == nil || len(req.Images) != 1 {
		t.Errorf("unexpected request %+v", req)
	}
	if strings.Contains(req.Prompt, "<context>") {
		t.Error("no context supplied, expected bare prompt")
	}
}

func TestDetectCarriesCapture(t *testing.T) {
	taken := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	a := New(&fakeModel{reply: `{"side":"rear","has_damage":false,"confidence":0.8,"damages":[]}`}, Options{})
	var seen []byte
	a.capture = func(data []byte) *damage.Capture {
		seen = data
		return &damage.Capture{TakenAt: taken, Make: "Apple", Model: "iPhone 15"}
	}

	out := a.Detect(context.Background(), "s3://b/rear.jpg", jpegBytes, Context{})
	if out.Err != nil {
		t.Fatalf("Detect: %v", out.Err)
	}
	if string(seen) != string(jpegBytes.Data) {
		t.Error("capture read from prepared bytes instead of the original upload")
	}
	c := out.Result.Capture
	if c == nil || c.Make != "Apple" || !c.TakenAt.Equal(taken) {
		t.Fatalf("unexpected capture %+v", c)
	}
	data, err := json.Marshal(out.Result)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"capture":{"taken_at":"2026-05-04T10:30:00Z","make":"Apple","model":"iPhone 15"}`) {
		t.Errorf("capture missing from result JSON: %s", data)
	}

	a.capture = func([]byte) *damage.Capture { return nil }
	out = a.Detect(context.Background(), "s3://b/rear.jpg", jpegBytes, Context{})
	if data, _ := json.Marshal(out.Result); strings.Contains(string(data), "capture") {
		t.Errorf("expected capture omitted without EXIF: %s", data)
	}
}

func TestDetectSentinelOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		obj   storage.Object
	}{
		{"empty image", &fakeModel{}, storage.Object{}},
		{"model error", &fakeModel{err: &inference.CallError{Kind: inference.KindQuota}}, jpegBytes},
		{"unparseable", &fakeModel{reply: "I cannot help with that"}, jpegBytes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := New(tt.model, Options{}).Detect(context.Background(), "img.jpg", tt.obj, Context{})
			if out.Err == nil {
				t.Fatal("expected error")
			}
			want := damage.Sentinel("img.jpg")
			if out.Result.Side != want.Side || out.Result.HasDamage || out.Result.Confidence != 0 || out.Result.Damages == nil {
				t.Errorf("expected sentinel, got %+v", out.Result)
			}
		})
	}
}

func TestDetectEmptyDamagesNeverNil(t *testing.T) {
	m := &fakeModel{reply: `{"side":"rear","has_damage":false,"confidence":0.9}`}
	out := New(m, Options{}).Detect(context.Background(), "r.jpg", jpegBytes, Context{})
	if out.Result.Damages == nil || len(out.Result.Damages) != 0 {
		t.Errorf("expected empty non-nil damages, got %#v", out.Result.Damages)
	}
	if out.Result.HasDamage {
		t.Error("expected no damage")
	}
}

func TestDetectionPromptVariants(t *testing.T) {
	tests := []struct {
		name        string
		ctx         Context
		wantContext bool
		contains    string
	}{
		{"none", Context{}, false, ""},
		{"vin only", Context{Vehicle: &damage.VehicleInfo{VIN: "1HGCM"}}, false, ""},
		{"partial vehicle", Context{Vehicle: &damage.VehicleInfo{Make: "Honda"}}, true, "N/A Honda N/A (N/A)"},
		{"description only", Context{HumanDescription: "  hit a pole "}, true, `"hit a pole"`},
		{"full", Context{Vehicle: &damage.VehicleInfo{Year: 2021, Make: "Honda", Model: "Civic", BodyType: "Sedan"}}, true, "2021 Honda Civic (Sedan)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ctx := DetectionPrompt(tt.ctx)
			if ctx != tt.wantContext {
				t.Errorf("context variant = %v, want %v", ctx, tt.wantContext)
			}
			if tt.contains != "" && !strings.Contains(p, tt.contains) {
				t.Errorf("prompt missing %q:\n%s", tt.contains, p)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	m := &fakeModel{reply: `{"side":"LEFT","confidence":0.8}`}
	a := New(m, Options{})
	c := a.Classify(context.Background(), "a.png", jpegBytes, "")
	if c.Err != nil || c.Side != damage.SideLeft || c.Confidence != 0.8 {
		t.Errorf("unexpected classification %+v", c)
	}

	a.Classify(context.Background(), "a.png", jpegBytes, "custom words")
	if m.requests[1].Prompt != "custom words" {
		t.Errorf("expected custom prompt, got %q", m.requests[1].Prompt)
	}

	failing := New(&fakeModel{err: errors.New("boom")}, Options{})
	c = failing.Classify(context.Background(), "b.png", jpegBytes, "")
	if c.Side != damage.SideUnknown || c.Confidence != 0 || c.Err == nil {
		t.Errorf("expected unknown on failure, got %+v", c)
	}
}

func TestAnalyzeSide(t *testing.T) {
	m := &fakeModel{reply: `{"side":"rear","damages":[{"part":"rear bumper","severity":"Minor"}]}`}
	a := New(m, Options{})
	hours := 2.5
	findings, err := a.AnalyzeSide(context.Background(), SideInput{
		Side:     "rear",
		Images:   []storage.Object{jpegBytes, {}, jpegBytes},
		Vehicle:  damage.VehicleInfo{Year: 2019, Make: "Toyota", Model: "Camry", BodyType: "Sedan"},
		Approved: damage.Estimate{"Bumper": {{Description: "Rear bumper cover", Operation: "Repair", LaborHours: &hours}}},
	})
	if err != nil {
		t.Fatalf("AnalyzeSide: %v", err)
	}
	if len(findings) != 1 || findings[0].Part != "rear bumper" {
		t.Errorf("unexpected findings %+v", findings)
	}
	req := m.requests[0]
	if len(req.Images) != 2 {
		t.Errorf("expected empty image skipped, got %d images", len(req.Images))
	}
	for _, want := range []string{"2019 Toyota Camry", "rear", "Rear bumper cover: Repair (2.5 hours)"} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, req.Prompt)
		}
	}

	_, err = New(&fakeModel{err: errors.New("boom")}, Options{}).AnalyzeSide(context.Background(), SideInput{Side: "rear", Images: []storage.Object{jpegBytes}})
	if err == nil {
		t.Error("expected side analysis error to propagate")
	}
	if _, err := a.AnalyzeSide(context.Background(), SideInput{Side: "rear"}); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestFormatApproved(t *testing.T) {
	if got := FormatApproved(nil); got != "No approved estimate provided" {
		t.Errorf("unexpected empty format %q", got)
	}
	got := FormatApproved(damage.Estimate{"Lamps": {{Description: "Headlamp", Operation: "Replace"}}})
	if got != "\nLamps:\n  - Headlamp: Replace\n" {
		t.Errorf("unexpected format %q", got)
	}
}
