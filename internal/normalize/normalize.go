// Package normalize provides pure content normalization functions: markup
// stripping, title/keyword/summary extraction and relevance scoring. No I/O.
package normalize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Untitled is the fallback title for content without a usable heading.
const Untitled = "Untitled"

// DefaultSummaryLength caps generated summaries.
const DefaultSummaryLength = 300

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	markdownH1Re = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	wordRe       = regexp.MustCompile(`\w{3,}`)
	sentenceRe   = regexp.MustCompile(`[.!?]+`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&hellip;", "...",
	)
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "as": {},
	"is": {}, "was": {}, "are": {}, "were": {}, "be": {}, "been": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "may": {},
	"might": {}, "must": {}, "shall": {}, "can": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "a": {}, "an": {}, "it": {}, "he": {},
	"she": {}, "we": {}, "you": {}, "they": {}, "them": {}, "their": {},
	"there": {}, "here": {}, "where": {}, "when": {}, "why": {}, "how": {},
	"what": {}, "which": {}, "who": {}, "whom": {}, "whose": {},
}

// Content is the normalized projection of one raw fetched item. Derived
// data only; it feeds the stored article, never persisted itself.
type Content struct {
	CleanText string
	Title     string
	Summary   string
	Keywords  []string
	WordCount int
}

// CleanText strips markup tags, collapses whitespace and decodes common
// HTML entities.
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}
	text := tagRe.ReplaceAllString(raw, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(entityReplacer.Replace(text))
}

// ExtractTitle tries, in order, a markdown level-1 heading, an HTML <h1>,
// an HTML <title>, then the first short line. Falls back to "Untitled".
func ExtractTitle(raw string) string {
	if raw == "" {
		return Untitled
	}
	if m := markdownH1Re.FindStringSubmatch(raw); m != nil {
		if title := CleanText(m[1]); title != "" {
			return title
		}
	}
	if strings.Contains(raw, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			for _, sel := range []string{"h1", "title"} {
				if title := CleanText(doc.Find(sel).First().Text()); title != "" {
					return title
				}
			}
		}
	}
	firstLine := strings.TrimSpace(strings.SplitN(raw, "\n", 2)[0])
	if firstLine != "" && len(firstLine) < 200 {
		if title := CleanText(firstLine); title != "" {
			return title
		}
	}
	return Untitled
}

// Summarize greedily accumulates whole sentences until the next would exceed
// maxLen, falling back to hard truncation if no sentence fits.
func Summarize(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultSummaryLength
	}
	clean := CleanText(text)
	if len(clean) <= maxLen {
		return clean
	}
	var summary strings.Builder
	for _, sentence := range sentenceRe.Split(clean, -1) {
		if summary.Len()+len(sentence) > maxLen {
			break
		}
		summary.WriteString(sentence)
		summary.WriteString(".")
	}
	if out := strings.TrimSpace(summary.String()); out != "" && out != "." {
		return out
	}
	return clean[:maxLen] + "..."
}

// ExtractKeywords tokenizes to words of at least three characters, drops
// stop words, ranks by frequency (frequency must exceed one), keeps the top
// ten, and prepends any query keyword literally present in the text.
func ExtractKeywords(raw string, queryKeywords []string) []string {
	clean := strings.ToLower(CleanText(raw))
	counts := map[string]int{}
	var order []string
	for _, word := range wordRe.FindAllString(clean, -1) {
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	var ranked []string
	for _, word := range order {
		if _, stop := stopWords[word]; stop {
			continue
		}
		if counts[word] > 1 {
			ranked = append(ranked, word)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}

	seen := map[string]struct{}{}
	var out []string
	for _, kw := range queryKeywords {
		lower := strings.ToLower(kw)
		if !strings.Contains(clean, lower) {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	for _, word := range ranked {
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}

// RelevanceScore measures how strongly content matches the query keywords
// on a 0-100 scale. Title occurrences weigh 25 each, content occurrences 5,
// with presence bonuses plus content-quality bonuses.
func RelevanceScore(content, title string, queryKeywords []string, url string) float64 {
	if content == "" || len(queryKeywords) == 0 {
		return 0
	}
	cleanContent := strings.ToLower(CleanText(content))
	cleanTitle := strings.ToLower(title)
	score := 0.0

	for _, keyword := range queryKeywords {
		kw := strings.ToLower(keyword)
		if kw == "" {
			continue
		}
		score += float64(strings.Count(cleanTitle, kw)) * 25
		score += float64(strings.Count(cleanContent, kw)) * 5
		if strings.Contains(cleanContent, kw) {
			score += 10
		}
		if strings.Contains(cleanTitle, kw) {
			score += 20
		}
	}

	wordCount := len(strings.Fields(cleanContent))
	if wordCount > 100 && wordCount < 10000 {
		score += 10
	}
	if title != "" && title != Untitled && len(title) > 10 {
		score += 5
	}
	if strings.Contains(url, "news") || strings.Contains(url, "article") {
		score += 5
	}

	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// Process runs the full normalization pass over one raw item.
func Process(raw string, queryKeywords []string) Content {
	clean := CleanText(raw)
	return Content{
		CleanText: clean,
		Title:     ExtractTitle(raw),
		Summary:   Summarize(clean, DefaultSummaryLength),
		Keywords:  ExtractKeywords(raw, queryKeywords),
		WordCount: len(strings.Fields(clean)),
	}
}

// Words returns the set of distinct words of at least three characters.
func Words(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range wordRe.FindAllString(text, -1) {
		out[w] = struct{}{}
	}
	return out
}
