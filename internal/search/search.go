// Package search provides the provider implementations that find and fetch
// raw content for the pipeline.
package search

import (
	"context"
	"strings"

	"github.com/mkrause/newsharvest/internal/harvest"
)

// MatchesKeywords reports whether text contains any of the keywords,
// case-insensitively. Empty keyword lists match everything.
func MatchesKeywords(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Multi fans one search out across several providers and merges results.
// Provider failures degrade the merged result instead of failing it.
type Multi struct {
	providers []harvest.Searcher
}

// NewMulti builds a Multi over the given providers.
func NewMulti(providers ...harvest.Searcher) *Multi {
	return &Multi{providers: providers}
}

// Name identifies the merged provider set.
func (m *Multi) Name() string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

// Search queries every provider in order, deduplicating items by URL and
// honoring the overall limit.
func (m *Multi) Search(ctx context.Context, keywords []string, opts harvest.SearchOptions) (harvest.SearchResult, error) {
	merged := harvest.SearchResult{Success: true}
	seen := map[string]bool{}
	var errs []string

	for _, p := range m.providers {
		if opts.Limit > 0 && len(merged.Items) >= opts.Limit {
			break
		}
		res, err := p.Search(ctx, keywords, opts)
		if err != nil {
			errs = append(errs, p.Name()+": "+err.Error())
			continue
		}
		if res.Err != "" {
			errs = append(errs, p.Name()+": "+res.Err)
		}
		for _, item := range res.Items {
			if seen[item.URL] {
				continue
			}
			seen[item.URL] = true
			merged.Items = append(merged.Items, item)
			if opts.Limit > 0 && len(merged.Items) >= opts.Limit {
				break
			}
		}
	}

	if len(errs) > 0 {
		merged.Err = strings.Join(errs, "; ")
	}
	if len(merged.Items) == 0 && len(errs) == len(m.providers) && len(m.providers) > 0 {
		merged.Success = false
	}
	return merged, nil
}
