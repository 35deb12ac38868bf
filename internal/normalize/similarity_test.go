package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	t.Parallel()

	t.Run("empty content", func(t *testing.T) {
		got := Similarity("", "anything")
		assert.False(t, got.IsSimilar)
		assert.Equal(t, "Empty content", got.Reason)
	})

	t.Run("exact duplicate", func(t *testing.T) {
		text := "Bitcoin surges past record highs amid institutional buying"
		got := Similarity(text, text)
		assert.True(t, got.IsSimilar)
		assert.Equal(t, 1.0, got.Score)
		assert.Equal(t, "Exact duplicate", got.Reason)
	})

	t.Run("exact duplicate ignores markup", func(t *testing.T) {
		got := Similarity("<p>same body</p>", "same body")
		assert.True(t, got.IsSimilar)
		assert.Equal(t, "Exact duplicate", got.Reason)
	})

	t.Run("same title different body", func(t *testing.T) {
		a := "Market Report Today\nStocks climbed on strong earnings reports."
		b := "Market Report Today\nBonds slipped while commodities held steady overall."
		got := Similarity(a, b)
		assert.True(t, got.IsSimilar)
		assert.Equal(t, 0.95, got.Score)
		assert.Equal(t, "Same title", got.Reason)
	})

	t.Run("similar title", func(t *testing.T) {
		a := "Bitcoin hits new record high today\ncompletely different body one"
		b := "Bitcoin hits new record high toda\nunrelated second body entirely"
		got := Similarity(a, b)
		assert.True(t, got.IsSimilar)
		assert.Equal(t, "Similar title", got.Reason)
		assert.Greater(t, got.Score, 0.8)
	})

	t.Run("high content similarity", func(t *testing.T) {
		shared := "markets rallied strongly investors cheered robust earnings results across multiple key sectors"
		a := "Morning briefing\n" + shared
		b := "Nightly recap\n" + shared
		got := Similarity(a, b)
		assert.True(t, got.IsSimilar)
		assert.Equal(t, "High content similarity", got.Reason)
	})

	t.Run("different content", func(t *testing.T) {
		a := "quantum computing breakthrough announced by researchers"
		b := "local bakery wins regional sourdough championship"
		got := Similarity(a, b)
		assert.False(t, got.IsSimilar)
		assert.Equal(t, "Different content", got.Reason)
	})
}

func TestStringSimilarity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, stringSimilarity("same", "same"))
	assert.Zero(t, stringSimilarity("", "x"))
	// One edit across ten characters.
	assert.InDelta(t, 0.9, stringSimilarity("abcdefghij", "abcdefghix"), 0.001)
}

func TestJaccardSimilarity(t *testing.T) {
	t.Parallel()

	a := Words("one two three")
	b := Words("two three four")
	// Intersection 2, union 4.
	assert.InDelta(t, 0.5, jaccardSimilarity(a, b), 0.001)
	assert.Zero(t, jaccardSimilarity(Words(""), Words("")))
}
