package narrative

import (
	"strings"
	"testing"

	"github.com/fpang/collision-estimator/internal/damage"
)

func finding(part string, sev damage.Severity, typ string) damage.Finding {
	return damage.Finding{Part: part, Severity: sev, Type: typ, Location: "Rear"}
}

func TestMergeEmpty(t *testing.T) {
	if got := Merge(nil, nil); got != NoDamage {
		t.Errorf("expected %q, got %q", NoDamage, got)
	}
	if got := Merge([]damage.Finding{}, &damage.VehicleInfo{Year: 2020}); got != NoDamage {
		t.Errorf("expected %q, got %q", NoDamage, got)
	}
}

func TestMergeGroupsByPart(t *testing.T) {
	findings := []damage.Finding{
		finding("Rear Bumper Cover", damage.SeverityMinor, "Scuffing"),
		finding("Tail Light", damage.SeverityMedium, "Crack"),
		finding("Rear Bumper Cover", damage.SeverityMajor, "Dent"),
		finding("Rear Bumper Cover", damage.SeverityMinor, "Scuffing"),
	}

	got := Merge(findings, nil)
	want := "The vehicle shows damage to: Rear Bumper Cover (Major Scuffing, Dent); Tail Light (Medium Crack)."
	if got != want {
		t.Errorf("expected\n  %q\ngot\n  %q", want, got)
	}
}

func TestMergeVehiclePrefix(t *testing.T) {
	tests := []struct {
		name    string
		vehicle *damage.VehicleInfo
		want    string
	}{
		{"full", &damage.VehicleInfo{Year: 2020, Make: "SUBARU", Model: "OUTBACK", BodyType: "Sedan"}, "The 2020 SUBARU OUTBACK shows"},
		{"no year", &damage.VehicleInfo{Make: "Honda", Model: "Civic"}, "The Honda Civic shows"},
		{"year only", &damage.VehicleInfo{Year: 2018}, "The 2018 shows"},
		{"vin only", &damage.VehicleInfo{VIN: "4S4BSANC5K3300000"}, "The vehicle shows"},
		{"nil", nil, "The vehicle shows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge([]damage.Finding{finding("Hood", damage.SeverityMedium, "Dent")}, tt.vehicle)
			want := tt.want + " damage to: Hood (Medium Dent)."
			if got != want {
				t.Errorf("expected %q, got %q", want, got)
			}
		})
	}
}

func TestMergeWorstSeverityWins(t *testing.T) {
	tests := []struct {
		name       string
		severities []damage.Severity
		want       string
	}{
		{"minor only", []damage.Severity{"Minor", "Minor"}, "(Minor"},
		{"medium beats minor", []damage.Severity{"Minor", "Medium"}, "(Medium"},
		{"major beats all", []damage.Severity{"Medium", "Major", "Minor"}, "(Major"},
		{"unknown falls back to minor", []damage.Severity{"Severe"}, "(Minor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fs []damage.Finding
			for _, s := range tt.severities {
				fs = append(fs, finding("Door", s, "Dent"))
			}
			if got := Merge(fs, nil); !strings.Contains(got, tt.want) {
				t.Errorf("expected %q in %q", tt.want, got)
			}
		})
	}
}

// Group contents do not depend on finding order, only group emission does.
func TestMergeGroupContentsOrderIndependent(t *testing.T) {
	a := []damage.Finding{
		finding("Fender", damage.SeverityMinor, "Scratches"),
		finding("Fender", damage.SeverityMajor, "Scratches"),
	}
	b := []damage.Finding{a[1], a[0]}

	if Merge(a, nil) != Merge(b, nil) {
		t.Errorf("expected identical output, got %q and %q", Merge(a, nil), Merge(b, nil))
	}
}
