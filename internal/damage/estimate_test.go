package damage

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func hours(f float64) *float64 { return &f }

func TestOperationUnmarshalSpellings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Operation
	}{
		{
			name: "canonical",
			in:   `{"Description":"Rear Bumper Cover","Operation":"Repair","LaborHours":1.5,"PartId":"42"}`,
			want: Operation{Description: "Rear Bumper Cover", Operation: "Repair", LaborHours: hours(1.5), PartID: "42"},
		},
		{
			name: "british spelling",
			in:   `{"Description":"Fender","Operation":"Repair","LabourHours":2}`,
			want: Operation{Description: "Fender", Operation: "Repair", LaborHours: hours(2)},
		},
		{
			name: "numeric part id and lower-case keys",
			in:   `{"description":"Tail Lamp","operation":"Remove / Replace","part_id":1234}`,
			want: Operation{Description: "Tail Lamp", Operation: "Remove / Replace", PartID: "1234"},
		},
		{
			name: "string hours",
			in:   `{"Description":"Door","Operation":"Repair","LaborHours":"0.5"}`,
			want: Operation{Description: "Door", Operation: "Repair", LaborHours: hours(0.5)},
		},
		{
			name: "null hours",
			in:   `{"Description":"Door","Operation":"Repair","LaborHours":null}`,
			want: Operation{Description: "Door", Operation: "Repair"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Operation
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("operation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOperationMarshalAlwaysEmitsPartID(t *testing.T) {
	data, err := json.Marshal(Operation{Description: "Hood", Operation: "Remove / Replace"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"Description":"Hood","Operation":"Remove / Replace","PartId":""}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestEstimateCounts(t *testing.T) {
	e := Estimate{
		"Rear Bumper": {{Description: "Cover"}, {Description: "Absorber"}},
		"Tail Light":  {{Description: "Lamp"}},
	}
	if e.Empty() {
		t.Error("expected non-empty estimate")
	}
	if got := e.OperationCount(); got != 3 {
		t.Errorf("expected 3 operations, got %d", got)
	}
	if diff := cmp.Diff([]string{"Rear Bumper", "Tail Light"}, e.Categories()); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
	if !(Estimate{}).Empty() {
		t.Error("expected empty estimate")
	}
}

func TestParseSide(t *testing.T) {
	tests := map[string]Side{
		"front":               SideFront,
		" Rear ":              SideRear,
		"ENGINE / ELECTRICAL": SideEngineElectrical,
		"a/c":                 SideAC,
		"underside":           SideUnknown,
		"":                    SideUnknown,
	}
	for in, want := range tests {
		if got := ParseSide(in); got != want {
			t.Errorf("ParseSide(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSentinel(t *testing.T) {
	s := Sentinel("s3://b/k.jpg")
	if s.Side != SideUnknown || s.HasDamage || s.Confidence != 0 || len(s.Damages) != 0 {
		t.Errorf("unexpected sentinel: %+v", s)
	}
	if s.Damages == nil {
		t.Error("sentinel damages should be an empty slice, not nil")
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"major":   SeverityMajor,
		" Minor ": SeverityMinor,
		"MEDIUM":  SeverityMedium,
		"Severe":  Severity("Severe"),
	}
	for in, want := range tests {
		if got := ParseSeverity(in); got != want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVehicleDescribe(t *testing.T) {
	v := &VehicleInfo{Year: 2021, Make: "Honda", Model: "Civic"}
	if got := v.Describe(); got != "2021 Honda Civic (N/A)" {
		t.Errorf("unexpected description %q", got)
	}
	if !v.Known() || v.Complete() {
		t.Errorf("expected known but incomplete vehicle")
	}
	var none *VehicleInfo
	if none.Known() || none.Complete() {
		t.Error("nil vehicle should be neither known nor complete")
	}
	if (&VehicleInfo{VIN: "1HGCM"}).Known() {
		t.Error("VIN alone should not count as known")
	}
}
