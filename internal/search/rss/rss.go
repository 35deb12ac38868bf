// Package rss implements a Searcher over configured RSS and Atom feeds.
package rss

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/search"
)

// Config tunes feed fetching.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Searcher parses active RSS sources and returns items matching the
// keywords.
type Searcher struct {
	sources harvest.SourceStore
	parser  *gofeed.Parser
	cfg     Config
	logger  *zap.Logger
}

// New builds a Searcher over the configured feed sources.
func New(sources harvest.SourceStore, cfg Config, logger *zap.Logger) *Searcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := gofeed.NewParser()
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	return &Searcher{
		sources: sources,
		parser:  parser,
		cfg:     cfg,
		logger:  logger,
	}
}

// Name identifies this provider in search events.
func (s *Searcher) Name() string { return "rss" }

// Search parses each active feed and keeps items whose title or description
// matches the keywords. Per-feed failures are collected into the result's
// Err.
func (s *Searcher) Search(ctx context.Context, keywords []string, opts harvest.SearchOptions) (harvest.SearchResult, error) {
	feeds, err := s.resolveFeeds(ctx, opts.Sources)
	if err != nil {
		return harvest.SearchResult{}, err
	}
	if len(feeds) == 0 {
		return harvest.SearchResult{Success: true}, nil
	}

	result := harvest.SearchResult{Success: true}
	var errs []string
	seen := map[string]bool{}

	for _, feedURL := range feeds {
		if opts.Limit > 0 && len(result.Items) >= opts.Limit {
			break
		}
		feedCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		feed, err := s.parser.ParseURLWithContext(feedURL, feedCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", feedURL, err))
			continue
		}
		for _, entry := range feed.Items {
			if opts.Limit > 0 && len(result.Items) >= opts.Limit {
				break
			}
			if entry.Link == "" || seen[entry.Link] {
				continue
			}
			if !search.MatchesKeywords(entry.Title+" "+entry.Description, keywords) {
				continue
			}
			seen[entry.Link] = true
			result.Items = append(result.Items, s.toItem(entry, feedURL))
		}
	}

	if len(errs) > 0 {
		result.Err = strings.Join(errs, "; ")
		if len(result.Items) == 0 && len(errs) == len(feeds) {
			result.Success = false
		}
	}
	return result, nil
}

func (s *Searcher) resolveFeeds(ctx context.Context, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	stored, err := s.sources.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	var out []string
	for _, src := range stored {
		if src.Kind == harvest.SourceKindRSS {
			out = append(out, src.URL)
		}
	}
	return out, nil
}

// toItem maps a feed entry into the pipeline's raw item shape. The richer
// of Content and Description becomes the body.
func (s *Searcher) toItem(entry *gofeed.Item, feedURL string) harvest.RawItem {
	content := entry.Content
	if len(entry.Description) > len(content) {
		content = entry.Description
	}

	meta := map[string]string{}
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		meta["author"] = entry.Authors[0].Name
	}
	if entry.Image != nil && entry.Image.URL != "" {
		meta["image"] = entry.Image.URL
	}
	if entry.PublishedParsed != nil {
		meta["published_at"] = entry.PublishedParsed.UTC().Format(time.RFC3339)
	} else if entry.Published != "" {
		meta["published_at"] = entry.Published
	}

	return harvest.RawItem{
		URL:        entry.Link,
		Title:      entry.Title,
		Content:    content,
		Metadata:   meta,
		SourceHint: feedURL,
	}
}
