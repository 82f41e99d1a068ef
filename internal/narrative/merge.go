// Package narrative reduces damage findings to the one-line summary used
// both as the human-readable report and as the retrieval query.
package narrative

import (
	"strings"

	"github.com/fpang/collision-estimator/internal/damage"
)

// NoDamage is returned for an empty finding set.
const NoDamage = "No visible damage detected."

// partGroup accumulates the findings for one part.
type partGroup struct {
	part     string
	severity damage.Severity
	types    []string
	seen     map[string]bool
}

// Merge groups findings by part, keeps the worst severity per part and the
// distinct damage types in first-seen order, and renders
//
//	The {year} {make} {model} shows damage to: {part} ({severity} {t1, t2}); ...
//
// Groups are emitted in the order their part first appears.
func Merge(findings []damage.Finding, vehicle *damage.VehicleInfo) string {
	if len(findings) == 0 {
		return NoDamage
	}

	var order []*partGroup
	byPart := make(map[string]*partGroup)
	for _, f := range findings {
		g, ok := byPart[f.Part]
		if !ok {
			g = &partGroup{part: f.Part, seen: make(map[string]bool)}
			byPart[f.Part] = g
			order = append(order, g)
		}
		if f.Severity.Rank() > g.severity.Rank() {
			g.severity = f.Severity
		}
		if !g.seen[f.Type] {
			g.seen[f.Type] = true
			g.types = append(g.types, f.Type)
		}
	}

	groups := make([]string, 0, len(order))
	for _, g := range order {
		groups = append(groups, g.part+" ("+string(maxSeverity(g.severity))+" "+strings.Join(g.types, ", ")+")")
	}

	prefix := "The vehicle shows "
	if name := vehicle.Summary(); name != "" {
		prefix = "The " + name + " shows "
	}
	return prefix + "damage to: " + strings.Join(groups, "; ") + "."
}

// maxSeverity falls back to Minor when no finding carried a recognised
// grade.
func maxSeverity(s damage.Severity) damage.Severity {
	if s.Rank() == 0 {
		return damage.SeverityMinor
	}
	return s
}
