package catalog

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// laborOperations names the catalog's numeric labor operation ids.
var laborOperations = map[int]string{
	1:  "Remove/Replace",
	2:  "Remove/Install",
	3:  "Additional Labor",
	4:  "Align",
	5:  "Overhaul",
	6:  "Refinish Only",
	7:  "Access/Inspect",
	8:  "Check/Adjust",
	9:  "Repair",
	10: "Blend",
	16: "Paintless Repair",
}

// excludedPartMarker marks remove-and-install labor lines that are
// already covered by the part they belong to.
const excludedPartMarker = "r&i"

// Image is a catalog illustration with its numbered callouts.
type Image struct {
	Location string    `json:"Location"`
	Callouts []Callout `json:"Callouts"`
}

type Callout struct {
	CalloutNumber json.RawMessage `json:"CalloutNumber"`
	PartID        ID              `json:"PartId"`
}

// Slim reduces a full catalog export to what estimate prompts need:
//   - parts whose description contains "r&i" are dropped
//   - labor operation ids become AvailableOperations names
//   - prices are reduced to the current price
//   - illustrations keep only location and callouts
//   - subcategories and categories left empty are pruned
//
// The result is what BuildIndex expects to receive; the indexer itself
// does not filter.
func Slim(full *Document) *Document {
	out := &Document{SuperCategories: full.SuperCategories}
	dropped := 0

	for _, c := range full.Categories {
		category := Category{ID: c.ID, Description: c.Description}
		for _, s := range c.SubCategories {
			sub := SubCategory{ID: s.ID, Description: s.Description, Images: slimImages(s.Images)}
			for _, p := range s.Parts {
				if strings.Contains(strings.ToLower(p.Description), excludedPartMarker) {
					dropped++
					continue
				}
				part := Part{ID: p.ID, Description: p.Description}
				for _, d := range p.PartDetails {
					part.PartDetails = append(part.PartDetails, slimDetail(d))
				}
				if len(part.PartDetails) > 0 {
					sub.Parts = append(sub.Parts, part)
				}
			}
			if len(sub.Parts) > 0 {
				category.SubCategories = append(category.SubCategories, sub)
			}
		}
		if len(category.SubCategories) > 0 {
			out.Categories = append(out.Categories, category)
		}
	}

	log.Info().
		Int("categories", len(out.Categories)).
		Int("partDetails", out.PartDetailCount()).
		Int("droppedParts", dropped).
		Msg("Catalog slimmed")
	return out
}

func slimDetail(d PartDetail) PartDetail {
	price := 0.0
	if d.Part.Price != nil {
		price = d.Part.Price.CurrentPrice
	}
	ops := []string{}
	for _, lo := range d.LaborOperations {
		if name, ok := laborOperations[lo.LaborOperationID]; ok {
			ops = append(ops, name)
		}
	}
	if len(d.LaborOperations) == 0 && len(d.AvailableOperations) > 0 {
		ops = append(ops, d.AvailableOperations...)
	}
	return PartDetail{
		ID:                  d.ID,
		FullDescription:     d.FullDescription,
		Part:                PartInfo{Description: d.Part.Description, Price: &Price{CurrentPrice: price}},
		AvailableOperations: ops,
	}
}

// slimImages accepts either a single image object or a list of them.
func slimImages(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var images []Image
	if err := json.Unmarshal(raw, &images); err != nil {
		var single Image
		if err := json.Unmarshal(raw, &single); err != nil {
			log.Debug().Err(err).Msg("Dropping unreadable catalog images")
			return nil
		}
		images = []Image{single}
	}
	for i := range images {
		if images[i].Callouts == nil {
			images[i].Callouts = []Callout{}
		}
	}
	out, err := json.Marshal(images)
	if err != nil {
		return nil
	}
	return out
}
