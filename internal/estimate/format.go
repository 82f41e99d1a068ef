package estimate

import (
	"fmt"
	"strings"

	"github.com/fpang/collision-estimator/internal/catalog"
	"github.com/fpang/collision-estimator/internal/damage"
)

const notProvided = "Not provided"

// FormatVehicle renders the vehicle line, with the VIN on its own line
// when known.
func FormatVehicle(v *damage.VehicleInfo) string {
	if v == nil || (!v.Known() && v.VIN == "") {
		return notProvided
	}
	s := v.Describe()
	if v.VIN != "" {
		s += "\nVIN: " + v.VIN
	}
	return s
}

// FormatFindings renders a numbered list of findings.
func FormatFindings(findings []damage.Finding) string {
	if len(findings) == 0 {
		return "No damage detected"
	}
	var b strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&b, "\n%d. **%s** at %s\n", i+1, or(f.Part, "Unknown Part"), or(f.Location, "Unknown Location"))
		fmt.Fprintf(&b, "   - Severity: %s\n", or(string(f.Severity), "Unknown"))
		fmt.Fprintf(&b, "   - Type: %s\n", or(f.Type, "Unknown"))
		fmt.Fprintf(&b, "   - Position: %s to %s\n", or(f.StartPosition, "N/A"), or(f.EndPosition, "N/A"))
		fmt.Fprintf(&b, "   - Description: %s\n", or(f.Description, "N/A"))
	}
	return b.String()
}

// FormatCases renders retrieved historical cases with their approved
// operations.
func FormatCases(cases []damage.RetrievedCase) string {
	if len(cases) == 0 {
		return "No similar historical estimates found"
	}
	var b strings.Builder
	for i, c := range cases {
		year := "N/A"
		if c.VehicleInfo.Year != 0 {
			year = fmt.Sprint(c.VehicleInfo.Year)
		}
		fmt.Fprintf(&b, "\n### Historical Estimate %d (Similarity: %.2f)\n", i+1, c.Score)
		fmt.Fprintf(&b, "**Vehicle**: %s %s %s\n", year, or(c.VehicleInfo.Make, "N/A"), or(c.VehicleInfo.Model, "N/A"))
		fmt.Fprintf(&b, "**Side**: %s\n", or(c.Side, "N/A"))
		fmt.Fprintf(&b, "**Damage Description**: %s\n", or(c.Content, "N/A"))

		if c.ApprovedEstimate.Empty() {
			continue
		}
		b.WriteString("**Approved Operations**:\n")
		for _, cat := range c.ApprovedEstimate.Categories() {
			fmt.Fprintf(&b, "  - %s:\n", cat)
			for _, op := range c.ApprovedEstimate[cat] {
				if op.LaborHours != nil && *op.LaborHours != 0 {
					fmt.Fprintf(&b, "    - %s: %s (%g hrs)\n", or(op.Description, "N/A"), or(op.Operation, "N/A"), *op.LaborHours)
				} else {
					fmt.Fprintf(&b, "    - %s: %s\n", or(op.Description, "N/A"), or(op.Operation, "N/A"))
				}
			}
		}
	}
	return b.String()
}

// FormatCatalog renders the parts catalog as indented JSON.
func FormatCatalog(doc *catalog.Document) string {
	if s := doc.Dump(); s != "" {
		return s
	}
	return notProvided
}

func or(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
