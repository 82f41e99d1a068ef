package catalog

import "strings"

// Entry is one flattened part detail.
type Entry struct {
	CatalogID           string   `json:"catalog_id"`
	FullDescription     string   `json:"full_description"`
	ShortDescription    string   `json:"short_description"`
	AvailableOperations []string `json:"available_operations,omitempty"`
}

// Index is an insertion-ordered lookup of catalog entries keyed by
// normalized description text. It is read-only after BuildIndex returns
// and safe for concurrent reads.
type Index struct {
	keys    []string
	entries map[string]Entry
}

func newIndex() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// normalize lower-cases and trims key and query text.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// BuildIndex flattens every part detail in doc. Each detail is keyed by
// its full description; a repeated full description replaces the earlier
// entry in place. Each detail is also keyed by its part's short
// description when that key is not already taken. Details without an id
// are skipped. The indexer applies no domain filtering.
func BuildIndex(doc *Document) *Index {
	ix := newIndex()
	if doc == nil {
		return ix
	}

	for _, c := range doc.Categories {
		for _, s := range c.SubCategories {
			for _, p := range s.Parts {
				for _, d := range p.PartDetails {
					id := strings.TrimSpace(string(d.ID))
					if id == "" {
						continue
					}
					entry := Entry{
						CatalogID:           id,
						FullDescription:     d.FullDescription,
						ShortDescription:    d.Part.Description,
						AvailableOperations: d.AvailableOperations,
					}
					if key := normalize(d.FullDescription); key != "" {
						ix.put(key, entry, true)
					}
					if key := normalize(d.Part.Description); key != "" {
						ix.put(key, entry, false)
					}
				}
			}
		}
	}
	return ix
}

// put inserts key. An existing key keeps its position and is replaced
// only when overwrite is set.
func (ix *Index) put(key string, e Entry, overwrite bool) {
	if _, exists := ix.entries[key]; exists {
		if overwrite {
			ix.entries[key] = e
		}
		return
	}
	ix.keys = append(ix.keys, key)
	ix.entries[key] = e
}

// Len is the number of keys.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.keys)
}

// Lookup returns the entry for an exact (normalized) key.
func (ix *Index) Lookup(text string) (Entry, bool) {
	if ix == nil {
		return Entry{}, false
	}
	e, ok := ix.entries[normalize(text)]
	return e, ok
}

// Keys returns the keys in insertion order.
func (ix *Index) Keys() []string {
	if ix == nil {
		return nil
	}
	out := make([]string, len(ix.keys))
	copy(out, ix.keys)
	return out
}

// each visits entries in insertion order until fn returns false.
func (ix *Index) each(fn func(key string, e Entry) bool) {
	for _, k := range ix.keys {
		if !fn(k, ix.entries[k]) {
			return
		}
	}
}
