// Package catalog models the hierarchical parts-and-operations document
// (categories → subcategories → parts → part details), flattens it into a
// lookup index, and matches free-text part descriptions against it.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ID is a catalog identifier. Catalog exports carry ids as JSON numbers or
// strings; both decode to the same string form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("catalog id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// Document is a parts catalog.
type Document struct {
	Categories      []Category      `json:"Categories"`
	SuperCategories json.RawMessage `json:"SuperCategories,omitempty"`

	// raw holds the bytes the document was parsed from, used for the
	// verbatim prompt dump.
	raw json.RawMessage
}

type Category struct {
	ID            ID            `json:"Id"`
	Description   string        `json:"Description"`
	SubCategories []SubCategory `json:"SubCategories"`
}

type SubCategory struct {
	ID          ID              `json:"Id"`
	Description string          `json:"Description"`
	Parts       []Part          `json:"Parts"`
	Images      json.RawMessage `json:"Images,omitempty"`
}

type Part struct {
	ID          ID           `json:"Id"`
	Description string       `json:"Description"`
	PartDetails []PartDetail `json:"PartDetails"`
}

type PartDetail struct {
	ID                  ID               `json:"Id"`
	FullDescription     string           `json:"FullDescription"`
	Part                PartInfo         `json:"Part"`
	AvailableOperations []string         `json:"AvailableOperations,omitempty"`
	LaborOperations     []LaborOperation `json:"LaborOperations,omitempty"`
}

type PartInfo struct {
	Description string `json:"Description"`
	Price       *Price `json:"Price,omitempty"`
}

type Price struct {
	CurrentPrice float64 `json:"CurrentPrice"`
}

type LaborOperation struct {
	LaborOperationID int `json:"LaborOperationId"`
}

// Lenient intermediate shapes: children stay raw so one malformed entry
// can be skipped without losing its siblings.
type rawDocument struct {
	Categories      []json.RawMessage `json:"Categories"`
	SuperCategories json.RawMessage   `json:"SuperCategories,omitempty"`
}

type rawCategory struct {
	ID            ID                `json:"Id"`
	Description   string            `json:"Description"`
	SubCategories []json.RawMessage `json:"SubCategories"`
}

type rawSubCategory struct {
	ID          ID                `json:"Id"`
	Description string            `json:"Description"`
	Parts       []json.RawMessage `json:"Parts"`
	Images      json.RawMessage   `json:"Images,omitempty"`
}

type rawPart struct {
	ID          ID                `json:"Id"`
	Description string            `json:"Description"`
	PartDetails []json.RawMessage `json:"PartDetails"`
}

// ParseDocument decodes a catalog. Only a malformed top level is an
// error; malformed categories, subcategories, parts or details are logged
// and skipped.
func ParseDocument(data []byte) (*Document, error) {
	var top rawDocument
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	doc := &Document{SuperCategories: top.SuperCategories, raw: append(json.RawMessage(nil), data...)}
	skipped := 0

	for ci, rc := range top.Categories {
		var cat rawCategory
		if err := json.Unmarshal(rc, &cat); err != nil {
			log.Warn().Err(err).Int("category", ci).Msg("Skipping malformed catalog category")
			skipped++
			continue
		}
		category := Category{ID: cat.ID, Description: cat.Description}

		for si, rs := range cat.SubCategories {
			var sub rawSubCategory
			if err := json.Unmarshal(rs, &sub); err != nil {
				log.Warn().Err(err).Int("category", ci).Int("subcategory", si).Msg("Skipping malformed catalog subcategory")
				skipped++
				continue
			}
			subcategory := SubCategory{ID: sub.ID, Description: sub.Description, Images: sub.Images}

			for pi, rp := range sub.Parts {
				var p rawPart
				if err := json.Unmarshal(rp, &p); err != nil {
					log.Warn().Err(err).Str("subcategory", sub.Description).Int("part", pi).Msg("Skipping malformed catalog part")
					skipped++
					continue
				}
				part := Part{ID: p.ID, Description: p.Description}

				for di, rd := range p.PartDetails {
					var detail PartDetail
					if err := json.Unmarshal(rd, &detail); err != nil {
						log.Warn().Err(err).Str("part", p.Description).Int("detail", di).Msg("Skipping malformed catalog part detail")
						skipped++
						continue
					}
					part.PartDetails = append(part.PartDetails, detail)
				}
				subcategory.Parts = append(subcategory.Parts, part)
			}
			category.SubCategories = append(category.SubCategories, subcategory)
		}
		doc.Categories = append(doc.Categories, category)
	}

	log.Debug().
		Int("categories", len(doc.Categories)).
		Int("skipped", skipped).
		Msg("Catalog parsed")

	return doc, nil
}

// Dump renders the document as indented JSON for inclusion in prompts.
// The bytes the document was parsed from are used when available so no
// field is lost in the round trip.
func (d *Document) Dump() string {
	if d == nil {
		return ""
	}
	if len(d.raw) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, d.raw, "", "  "); err == nil {
			return buf.String()
		}
	}
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return ""
	}
	return string(out)
}

// PartDetailCount counts every part detail in the document.
func (d *Document) PartDetailCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, c := range d.Categories {
		for _, s := range c.SubCategories {
			for _, p := range s.Parts {
				n += len(p.PartDetails)
			}
		}
	}
	return n
}
