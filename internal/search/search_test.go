package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrause/newsharvest/internal/harvest"
)

type stubSearcher struct {
	name   string
	result harvest.SearchResult
	err    error
}

func (s *stubSearcher) Name() string { return s.name }

func (s *stubSearcher) Search(_ context.Context, _ []string, _ harvest.SearchOptions) (harvest.SearchResult, error) {
	return s.result, s.err
}

func item(url string) harvest.RawItem {
	return harvest.RawItem{URL: url, Title: url, Content: "body for " + url}
}

func TestMatchesKeywords(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		text     string
		keywords []string
		want     bool
	}{
		{"empty list matches all", "anything at all", nil, true},
		{"case insensitive match", "Bitcoin hits a new high", []string{"bitcoin"}, true},
		{"any keyword suffices", "ethereum staking rewards", []string{"bitcoin", "ethereum"}, true},
		{"no match", "weather forecast for tuesday", []string{"bitcoin"}, false},
		{"blank keywords are skipped", "weather forecast", []string{""}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, MatchesKeywords(tc.text, tc.keywords))
		})
	}
}

func TestMultiName(t *testing.T) {
	t.Parallel()

	m := NewMulti(&stubSearcher{name: "web"}, &stubSearcher{name: "rss"})
	assert.Equal(t, "multi(web,rss)", m.Name())
}

func TestMultiMergesAndDeduplicates(t *testing.T) {
	t.Parallel()

	m := NewMulti(
		&stubSearcher{name: "web", result: harvest.SearchResult{
			Success: true,
			Items:   []harvest.RawItem{item("https://a.example/1"), item("https://a.example/2")},
		}},
		&stubSearcher{name: "rss", result: harvest.SearchResult{
			Success: true,
			Items:   []harvest.RawItem{item("https://a.example/2"), item("https://b.example/3")},
		}},
	)

	res, err := m.Search(context.Background(), []string{"bitcoin"}, harvest.SearchOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Err)

	urls := make([]string, len(res.Items))
	for i, it := range res.Items {
		urls[i] = it.URL
	}
	assert.Equal(t, []string{"https://a.example/1", "https://a.example/2", "https://b.example/3"}, urls)
}

func TestMultiHonorsLimit(t *testing.T) {
	t.Parallel()

	second := &stubSearcher{name: "rss", result: harvest.SearchResult{
		Success: true,
		Items:   []harvest.RawItem{item("https://b.example/1")},
	}}
	m := NewMulti(
		&stubSearcher{name: "web", result: harvest.SearchResult{
			Success: true,
			Items: []harvest.RawItem{
				item("https://a.example/1"),
				item("https://a.example/2"),
				item("https://a.example/3"),
			},
		}},
		second,
	)

	res, err := m.Search(context.Background(), nil, harvest.SearchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "https://a.example/1", res.Items[0].URL)
	assert.Equal(t, "https://a.example/2", res.Items[1].URL)
}

func TestMultiCollectsProviderErrors(t *testing.T) {
	t.Parallel()

	m := NewMulti(
		&stubSearcher{name: "web", err: errors.New("connection refused")},
		&stubSearcher{name: "rss", result: harvest.SearchResult{
			Success: true,
			Items:   []harvest.RawItem{item("https://b.example/1")},
			Err:     "feed truncated",
		}},
	)

	res, err := m.Search(context.Background(), []string{"bitcoin"}, harvest.SearchOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Items, 1)
	assert.Contains(t, res.Err, "web: connection refused")
	assert.Contains(t, res.Err, "rss: feed truncated")
}

func TestMultiFailsWhenAllProvidersFail(t *testing.T) {
	t.Parallel()

	m := NewMulti(
		&stubSearcher{name: "web", err: errors.New("connection refused")},
		&stubSearcher{name: "rss", err: errors.New("dns failure")},
	)

	res, err := m.Search(context.Background(), []string{"bitcoin"}, harvest.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Items)
	assert.Contains(t, res.Err, "web: connection refused")
	assert.Contains(t, res.Err, "rss: dns failure")
}
