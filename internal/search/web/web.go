// Package web implements a Searcher that scrapes configured web sources
// with Colly.
package web

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/search"
)

// Defaults applied when Config fields are zero.
const (
	defaultTimeout      = 15 * time.Second
	defaultLinksPerSite = 10
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	LinksPerSite int
}

// Searcher scrapes active web sources for pages matching the keywords, then
// fetches each candidate page's content.
type Searcher struct {
	sources       harvest.SourceStore
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Searcher over the configured sources.
func New(sources harvest.SourceStore, cfg Config, logger *zap.Logger) *Searcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LinksPerSite <= 0 {
		cfg.LinksPerSite = defaultLinksPerSite
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Searcher{
		sources:       sources,
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Name identifies this provider in search events.
func (s *Searcher) Name() string { return "web" }

// Search visits each source page, collects candidate article links matching
// the keywords, and fetches their content. Per-source failures are collected
// into the result's Err; the call only errors when nothing was reachable.
func (s *Searcher) Search(ctx context.Context, keywords []string, opts harvest.SearchOptions) (harvest.SearchResult, error) {
	sources, err := s.resolveSources(ctx, opts.Sources)
	if err != nil {
		return harvest.SearchResult{}, err
	}
	if len(sources) == 0 {
		return harvest.SearchResult{Success: true}, nil
	}

	result := harvest.SearchResult{Success: true}
	var errs []string
	seen := map[string]bool{}

	for _, src := range sources {
		if opts.Limit > 0 && len(result.Items) >= opts.Limit {
			break
		}
		links, err := s.collectLinks(ctx, src, keywords)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", src, err))
			continue
		}
		for _, link := range links {
			if seen[link] {
				continue
			}
			seen[link] = true
			if opts.Limit > 0 && len(result.Items) >= opts.Limit {
				break
			}
			if !opts.ScrapeContent {
				result.Items = append(result.Items, harvest.RawItem{URL: link, SourceHint: src})
				continue
			}
			item, err := s.fetchItem(ctx, link, src)
			if err != nil {
				s.logger.Debug("fetch candidate failed", zap.String("url", link), zap.Error(err))
				continue
			}
			result.Items = append(result.Items, item)
		}
	}

	if len(errs) > 0 {
		result.Err = strings.Join(errs, "; ")
		if len(result.Items) == 0 && len(errs) == len(sources) {
			result.Success = false
		}
	}
	return result, nil
}

// resolveSources uses the explicit URL list when given, otherwise the active
// web sources from the store.
func (s *Searcher) resolveSources(ctx context.Context, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	stored, err := s.sources.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	var out []string
	for _, src := range stored {
		if src.Kind == harvest.SourceKindWeb {
			out = append(out, src.URL)
		}
	}
	return out, nil
}

// collectLinks scrapes one source page for anchors whose text or href
// matches the keywords.
func (s *Searcher) collectLinks(ctx context.Context, sourceURL string, keywords []string) ([]string, error) {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}

	var links []string
	collector := s.baseCollector.Clone()
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(links) >= s.cfg.LinksPerSite {
			return
		}
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if href == "" || !sameHost(base, href) {
			return
		}
		if !search.MatchesKeywords(e.Text+" "+href, keywords) {
			return
		}
		links = append(links, href)
	})

	if err := s.visit(ctx, collector, sourceURL); err != nil {
		return nil, err
	}
	return links, nil
}

// fetchItem downloads one candidate page and extracts its content and
// metadata.
func (s *Searcher) fetchItem(ctx context.Context, pageURL, sourceHint string) (harvest.RawItem, error) {
	var body []byte
	collector := s.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})

	if err := s.visit(ctx, collector, pageURL); err != nil {
		return harvest.RawItem{}, err
	}

	item := harvest.RawItem{
		URL:        pageURL,
		Content:    string(body),
		SourceHint: sourceHint,
		Metadata:   map[string]string{},
	}
	s.extractMetadata(body, &item)
	return item, nil
}

// extractMetadata pulls title, author, image and publish date from standard
// meta tags. Extraction failures leave the bag partially filled.
func (s *Searcher) extractMetadata(body []byte, item *harvest.RawItem) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}
	item.Title = strings.TrimSpace(doc.Find("title").First().Text())

	metaContent := func(selector string) string {
		val, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(val)
	}
	if v := metaContent(`meta[name="author"]`); v != "" {
		item.Metadata["author"] = v
	}
	if v := metaContent(`meta[property="og:image"]`); v != "" {
		item.Metadata["og_image"] = v
	}
	if v := metaContent(`meta[property="article:published_time"]`); v != "" {
		item.Metadata["published_at"] = v
	}
	if v := metaContent(`meta[name="description"]`); v != "" {
		item.Metadata["description"] = v
	}
}

// visit runs one collector visit with context cancellation.
func (s *Searcher) visit(ctx context.Context, collector *colly.Collector, target string) error {
	var fetchErr error
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", target, err)
		}
		if fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", target, fetchErr)
		}
		return nil
	}
}

func sameHost(base *url.URL, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host == base.Host
}
