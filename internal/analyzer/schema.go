package analyzer

import (
	"google.golang.org/genai"

	"github.com/fpang/collision-estimator/internal/damage"
	"github.com/fpang/collision-estimator/internal/inference"
)

func sideNames(sides []damage.Side) []string {
	out := make([]string, len(sides))
	for i, s := range sides {
		out[i] = string(s)
	}
	return out
}

func findingSchema() *genai.Schema {
	return inference.Object(
		inference.Field{Name: "location", Schema: inference.String("Specific location on the vehicle")},
		inference.Field{Name: "part", Schema: inference.String("The specific part affected")},
		inference.Field{Name: "severity", Schema: inference.Enum("Damage severity",
			string(damage.SeverityMinor), string(damage.SeverityMedium), string(damage.SeverityMajor))},
		inference.Field{Name: "type", Schema: inference.String("Type of damage")},
		inference.Field{Name: "start_position", Schema: inference.String("Where the damage begins")},
		inference.Field{Name: "end_position", Schema: inference.String("Where the damage ends")},
		inference.Field{Name: "description", Schema: inference.String("Detailed description of the damage")},
	)
}

// detectionSchema constrains a single-image detection response.
func detectionSchema() *genai.Schema {
	return inference.Object(
		inference.Field{Name: "side", Schema: inference.Enum("Side of the vehicle shown", sideNames(damage.Sides)...)},
		inference.Field{Name: "has_damage", Schema: inference.Boolean("Whether any damage is visible")},
		inference.Field{Name: "damages", Schema: inference.ArrayOf("Visible damage", findingSchema())},
		inference.Field{Name: "confidence", Schema: inference.Number("Confidence in the assessment", 0, 1)},
	)
}

// classificationSchema constrains a side classification response.
func classificationSchema() *genai.Schema {
	return inference.Object(
		inference.Field{Name: "side", Schema: inference.Enum("Side of the vehicle shown", sideNames(damage.ExteriorSides)...)},
		inference.Field{Name: "confidence", Schema: inference.Number("Confidence in the classification", 0, 1)},
	)
}

// sideAnalysisSchema constrains a multi-image, single-side response.
func sideAnalysisSchema() *genai.Schema {
	return inference.Object(
		inference.Field{Name: "side", Schema: inference.String("Side of the vehicle analysed")},
		inference.Field{Name: "damages", Schema: inference.ArrayOf("Visible damage", findingSchema())},
	)
}
