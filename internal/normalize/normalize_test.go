package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain text untouched", "hello world", "hello world"},
		{"strips tags", "<p>hello <b>world</b></p>", "hello world"},
		{"collapses whitespace", "hello\n\n\t  world", "hello world"},
		{"decodes entities", "fish &amp; chips &hellip;", "fish & chips ..."},
		{"nbsp becomes space", "a&nbsp;b", "a b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanText(tc.in))
		})
	}
}

func TestExtractTitle(t *testing.T) {
	t.Parallel()

	t.Run("markdown heading wins", func(t *testing.T) {
		raw := "# Market Update\nsome body text"
		assert.Equal(t, "Market Update", ExtractTitle(raw))
	})

	t.Run("html h1 before title tag", func(t *testing.T) {
		raw := "<html><head><title>Page Title</title></head><body><h1>Real Headline</h1></body></html>"
		assert.Equal(t, "Real Headline", ExtractTitle(raw))
	})

	t.Run("title tag when no h1", func(t *testing.T) {
		raw := "<html><head><title>Page Title</title></head><body><p>text</p></body></html>"
		assert.Equal(t, "Page Title", ExtractTitle(raw))
	})

	t.Run("first short line fallback", func(t *testing.T) {
		raw := "A headline on the first line\nand then the body"
		assert.Equal(t, "A headline on the first line", ExtractTitle(raw))
	})

	t.Run("long first line rejected", func(t *testing.T) {
		raw := strings.Repeat("x", 250) + "\nbody"
		assert.Equal(t, Untitled, ExtractTitle(raw))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, Untitled, ExtractTitle(""))
	})
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	t.Run("short text returned whole", func(t *testing.T) {
		assert.Equal(t, "short text", Summarize("short text", 300))
	})

	t.Run("accumulates whole sentences", func(t *testing.T) {
		text := "First sentence here. Second sentence here. " + strings.Repeat("filler ", 100)
		got := Summarize(text, 50)
		assert.Contains(t, got, "First sentence here")
		assert.LessOrEqual(t, len(got), 53)
	})

	t.Run("hard truncation fallback", func(t *testing.T) {
		text := strings.Repeat("word ", 200)
		got := Summarize(text, 40)
		require.True(t, strings.HasSuffix(got, "..."))
		assert.Len(t, got, 43)
	})
}

func TestExtractKeywords(t *testing.T) {
	t.Parallel()

	t.Run("frequency ranked, stop words dropped", func(t *testing.T) {
		raw := "bitcoin bitcoin bitcoin market market the the the and trading"
		got := ExtractKeywords(raw, nil)
		require.NotEmpty(t, got)
		assert.Equal(t, "bitcoin", got[0])
		assert.Contains(t, got, "market")
		assert.NotContains(t, got, "the")
		// "trading" appears once, below the frequency floor.
		assert.NotContains(t, got, "trading")
	})

	t.Run("query keywords prepended when present", func(t *testing.T) {
		raw := "ethereum gas fees rise as ethereum network activity grows grows"
		got := ExtractKeywords(raw, []string{"ethereum", "solana"})
		require.NotEmpty(t, got)
		assert.Equal(t, "ethereum", got[0])
		assert.NotContains(t, got, "solana")
	})

	t.Run("ranked list capped at ten", func(t *testing.T) {
		var b strings.Builder
		words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot",
			"golf", "hotel", "india", "juliet", "kilo", "lima"}
		for _, w := range words {
			b.WriteString(w + " " + w + " ")
		}
		got := ExtractKeywords(b.String(), nil)
		assert.Len(t, got, 10)
	})
}

func TestRelevanceScore(t *testing.T) {
	t.Parallel()

	t.Run("empty content scores zero", func(t *testing.T) {
		assert.Zero(t, RelevanceScore("", "title", []string{"kw"}, ""))
	})

	t.Run("no keywords scores zero", func(t *testing.T) {
		assert.Zero(t, RelevanceScore("content", "title", nil, ""))
	})

	t.Run("component weights", func(t *testing.T) {
		// One content occurrence: 5 (occurrence) + 10 (contains) = 15.
		got := RelevanceScore("the bitcoin report", "x", []string{"bitcoin"}, "")
		assert.InDelta(t, 15.0, got, 0.001)
	})

	t.Run("title match adds occurrence and presence bonuses", func(t *testing.T) {
		// Title: 25 + 20, content: 5 + 10, title quality: 5 = 65.
		got := RelevanceScore("bitcoin rally", "bitcoin news today", []string{"bitcoin"}, "")
		assert.InDelta(t, 65.0, got, 0.001)
	})

	t.Run("news url bonus", func(t *testing.T) {
		base := RelevanceScore("bitcoin rally", "x", []string{"bitcoin"}, "https://example.com/page")
		news := RelevanceScore("bitcoin rally", "x", []string{"bitcoin"}, "https://example.com/news/page")
		assert.InDelta(t, base+5, news, 0.001)
	})

	t.Run("clamped at one hundred", func(t *testing.T) {
		content := strings.Repeat("bitcoin ", 200)
		got := RelevanceScore(content, "bitcoin bitcoin bitcoin", []string{"bitcoin"}, "news")
		assert.Equal(t, 100.0, got)
	})
}

func TestProcess(t *testing.T) {
	t.Parallel()

	raw := "# Crypto Weekly\n<p>bitcoin markets rallied this week as bitcoin adoption grew. " +
		"Institutions bought more bitcoin than ever before.</p>"
	got := Process(raw, []string{"bitcoin"})

	assert.Equal(t, "Crypto Weekly", got.Title)
	assert.NotContains(t, got.CleanText, "<p>")
	assert.Positive(t, got.WordCount)
	require.NotEmpty(t, got.Keywords)
	assert.Equal(t, "bitcoin", got.Keywords[0])
	assert.NotEmpty(t, got.Summary)
}
