package catalog

import "strings"

// minTokenOverlap is the number of shared words that makes a fuzzy match.
const minTokenOverlap = 2

// Match resolves a free-text part description to a catalog id. Rules are
// tried in order and the first hit wins:
//
//  1. exact match on the normalized key
//  2. at least two shared whitespace-separated words
//  3. either text contains the other
//
// Rules 2 and 3 scan keys in insertion order. An empty description or
// index never matches.
func Match(description string, ix *Index) (string, bool) {
	query := normalize(description)
	if query == "" || ix.Len() == 0 {
		return "", false
	}

	if e, ok := ix.entries[query]; ok {
		return e.CatalogID, true
	}

	queryTokens := tokenSet(query)
	var id string
	ix.each(func(key string, e Entry) bool {
		if overlap(queryTokens, tokenSet(key)) >= minTokenOverlap {
			id = e.CatalogID
			return false
		}
		return true
	})
	if id != "" {
		return id, true
	}

	ix.each(func(key string, e Entry) bool {
		if strings.Contains(key, query) || strings.Contains(query, key) {
			id = e.CatalogID
			return false
		}
		return true
	})
	if id != "" {
		return id, true
	}
	return "", false
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}
