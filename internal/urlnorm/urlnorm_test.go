package urlnorm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStripsTrackingParams(t *testing.T) {
	normalized, hash := Normalize("http://Example.com:80/news/story?utm_source=tw&b=2&a=1&fbclid=xyz#frag")

	assert.Equal(t, "http://example.com/news/story?a=1&b=2", normalized)
	assert.Len(t, hash, 64)
}

func TestNormalizeDefaultsToHTTPS(t *testing.T) {
	normalized, _ := Normalize("example.com/article")
	assert.Equal(t, "https://example.com/article", normalized)
}

func TestNormalizeStripsDefaultHTTPSPort(t *testing.T) {
	normalized, _ := Normalize("https://example.com:443/a")
	assert.Equal(t, "https://example.com/a", normalized)
}

func TestNormalizeEmptyPathBecomesRoot(t *testing.T) {
	normalized, _ := Normalize("https://example.com")
	assert.Equal(t, "https://example.com/", normalized)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"http://Example.com/news?utm_campaign=x&z=1&y=2",
		"example.com/path?a=1&a=0",
		"https://www.straitstimes.com/world/story?utm_source=rss",
		"https://example.com/搜索?q=ニュース",
	}
	for _, input := range inputs {
		first, firstHash := Normalize(input)
		second, secondHash := Normalize(first)
		assert.Equal(t, first, second, "input %q", input)
		assert.Equal(t, firstHash, secondHash, "input %q", input)
	}
}

func TestNormalizeKeepsTrackingParamsForExemptHost(t *testing.T) {
	normalized, _ := Normalize("https://www.straitstimes.com/world/story?utm_source=rss")
	assert.Contains(t, normalized, "utm_source=rss")
}

func TestEnsureSourceLinkAddsReferralParams(t *testing.T) {
	link := EnsureSourceLink("straits-times", "https://www.straitstimes.com/world/story")
	assert.Contains(t, link, "utm_source=rss")
	assert.Contains(t, link, "utm_medium=referral")
}

func TestEnsureSourceLinkKeepsExistingParams(t *testing.T) {
	original := "https://www.straitstimes.com/world/story?utm_source=feed&utm_medium=rss"
	assert.Equal(t, original, EnsureSourceLink("straits-times", original))
}

func TestEnsureSourceLinkIgnoresOtherSources(t *testing.T) {
	original := "https://www.bbc.com/news/world-1234"
	assert.Equal(t, original, EnsureSourceLink("bbc-world", original))
}

func TestEnsureSourceLinkIgnoresForeignHost(t *testing.T) {
	original := "https://example.com/story"
	assert.Equal(t, original, EnsureSourceLink("straits-times", original))
}

func TestItemIDIsDeterministic(t *testing.T) {
	first, _ := Normalize("https://x/a?utm_source=tw")
	second, _ := Normalize("https://x/a")

	require.Equal(t, first, second)
	assert.Equal(t, ItemID("src", first, ""), ItemID("src", second, ""))
	assert.True(t, strings.HasPrefix(ItemID("src", first, ""), "src-"))
}

func TestItemIDFallsBackToRawLink(t *testing.T) {
	assert.Equal(t, ItemID("src", "", "https://x/a"), ItemID("src", "", "https://x/a"))
	assert.NotEqual(t, ItemID("src", "", "https://x/a"), ItemID("src", "", "https://x/b"))
}
