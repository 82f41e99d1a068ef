package estimate

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fpang/collision-estimator/internal/catalog"
	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/inference"
	"github.com/fpang/collision-estimator/internal/metrics"
)

func init() { metrics.SetOutput(io.Discard) }

type fakeModel struct {
	reply string
	err   error
	req   inference.Request
}

func (f *fakeModel) Generate(_ context.Context, req inference.Request) (string, error) {
	f.req = req
	return f.reply, f.err
}

const catalogJSON = `{"Categories":[{"Id":1,"Description":"Front","SubCategories":[{"Id":2,"Description":"Bumper","Parts":[
  {"Id":3,"Description":"Bumper Cover","PartDetails":[
    {"Id":1001,"FullDescription":"Front Bumper Cover","Part":{"Description":"Bumper Cover"}},
    {"Id":1002,"FullDescription":"Headlamp Assembly","Part":{"Description":"Headlamp"}}
  ]}]}]}]}`

func mustCatalog(t *testing.T) *catalog.Document {
	t.Helper()
	doc, err := catalog.ParseDocument([]byte(catalogJSON))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func hours(h float64) *float64 { return &h }

func TestFormatVehicle(t *testing.T) {
	tests := []struct {
		name string
		v    *damage.VehicleInfo
		want string
	}{
		{"nil", nil, "Not provided"},
		{"empty", &damage.VehicleInfo{}, "Not provided"},
		{"full", &damage.VehicleInfo{Year: 2021, Make: "Honda", Model: "Civic", BodyType: "Sedan", VIN: "1HG"}, "2021 Honda Civic (Sedan)\nVIN: 1HG"},
		{"partial", &damage.VehicleInfo{Make: "Honda"}, "N/A Honda N/A (N/A)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatVehicle(tt.v); got != tt.want {
				t.Errorf("FormatVehicle = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatFindings(t *testing.T) {
	if got := FormatFindings(nil); got != "No damage detected" {
		t.Errorf("unexpected empty format %q", got)
	}
	got := FormatFindings([]damage.Finding{{
		Part: "Rear Bumper", Location: "Rear Left", Severity: damage.SeverityMinor,
		Type: "Scuffing", StartPosition: "corner", Description: "light scuffs",
	}})
	want := "\n1. **Rear Bumper** at Rear Left\n" +
		"   - Severity: Minor\n" +
		"   - Type: Scuffing\n" +
		"   - Position: corner to N/A\n" +
		"   - Description: light scuffs\n"
	if got != want {
		t.Errorf("FormatFindings mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestFormatCases(t *testing.T) {
	if got := FormatCases(nil); got != "No similar historical estimates found" {
		t.Errorf("unexpected empty format %q", got)
	}
	got := FormatCases([]damage.RetrievedCase{{
		Score:       0.876,
		Content:     "rear bumper scuffed",
		VehicleInfo: damage.VehicleInfo{Year: 2019, Make: "Toyota", Model: "Camry"},
		Side:        "rear",
		ApprovedEstimate: damage.Estimate{
			"Rear Bumper": {
				{Description: "Bumper cover", Operation: "Repair", LaborHours: hours(1.5)},
				{Description: "Emblem", Operation: "Remove / Replace"},
			},
		},
	}})
	want := "\n### Historical Estimate 1 (Similarity: 0.88)\n" +
		"**Vehicle**: 2019 Toyota Camry\n" +
		"**Side**: rear\n" +
		"**Damage Description**: rear bumper scuffed\n" +
		"**Approved Operations**:\n" +
		"  - Rear Bumper:\n" +
		"    - Bumper cover: Repair (1.5 hrs)\n" +
		"    - Emblem: Remove / Replace\n"
	if got != want {
		t.Errorf("FormatCases mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestPromptFragments(t *testing.T) {
	doc := mustCatalog(t)
	p := Prompt(Input{Catalog: doc})
	for _, want := range []string{"Not provided", "No damage detected", "No similar historical estimates found", `"FullDescription": "Front Bumper Cover"`} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "{pss_data}") || strings.Contains(p, "{vehicle_info}") {
		t.Error("placeholders left unfilled")
	}

	custom := Prompt(Input{HumanDescription: "hit a pole", CustomTemplate: "V={vehicle_info} H={human_description} C={pss_data}"})
	if custom != "V=Not provided H=hit a pole C=Not provided" {
		t.Errorf("unexpected custom prompt %q", custom)
	}
}

func TestSynthesizePostProcesses(t *testing.T) {
	m := &fakeModel{reply: `{"estimate":[
		{"category":"Front Bumper","operations":[
			{"Description":"Front Bumper Cover","Operation":"Remove / Replace","LaborHours":2.0,"PartId":""},
			{"Description":"Bumper paint","Operation":"Repair","LaborHours":1.5}
		]},
		{"category":"Headlamp","operations":[
			{"Description":"Left lamp lens","Operation":"Remove / Replace","PartId":"999"}
		]},
		{"category":"Trim","operations":[
			{"Description":"Molding clip","Operation":"Remove / Replace"}
		]},
		{"category":"Front Bumper","operations":[
			{"Description":"Bumper bracket","Operation":"Remove / Replace"}
		]}
	]}`}
	res := New(m).Synthesize(context.Background(), Input{Catalog: mustCatalog(t)})
	if res.Err != nil {
		t.Fatalf("Synthesize: %v", res.Err)
	}
	want := damage.Estimate{
		"Front Bumper": {
			{Description: "Front Bumper Cover", Operation: "Remove / Replace", PartID: "1001"},
			{Description: "Bumper paint", Operation: "Repair", LaborHours: hours(1.5), PartID: "1001"},
			{Description: "Bumper bracket", Operation: "Remove / Replace", PartID: "1001"},
		},
		"Headlamp": {
			{Description: "Left lamp lens", Operation: "Remove / Replace", PartID: "999"},
		},
		"Trim": {
			{Description: "Molding clip", Operation: "Remove / Replace", PartID: ""},
		},
	}
	if diff := cmp.Diff(want, res.Estimate); diff != "" {
		t.Errorf("estimate mismatch (-want +got):\n%s", diff)
	}
	if m.req.Operation != "estimate" || m.req.Schema == nil || len(m.req.Images) != 0 {
		t.Errorf("unexpected request %+v", m.req)
	}
}

func TestSynthesizeFailureIsEmpty(t *testing.T) {
	for name, m := range map[string]*fakeModel{
		"model error": {err: errors.New("quota")},
		"bad json":    {reply: "sorry"},
	} {
		t.Run(name, func(t *testing.T) {
			res := New(m).Synthesize(context.Background(), Input{})
			if res.Err == nil {
				t.Error("expected error")
			}
			if res.Estimate == nil || !res.Estimate.Empty() {
				t.Errorf("expected empty estimate, got %+v", res.Estimate)
			}
		})
	}
}

func TestPostProcessWithoutCatalog(t *testing.T) {
	est := PostProcess(damage.Estimate{"Door": {{Description: "Door shell", Operation: "Refinish", LaborHours: hours(3)}}}, nil)
	op := est["Door"][0]
	if op.LaborHours != nil || op.PartID != "" {
		t.Errorf("expected hours dropped and empty id, got %+v", op)
	}
}
