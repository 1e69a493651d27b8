package extract

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shiranui/newsdigest/internal/feed"
	"github.com/shiranui/newsdigest/internal/logger"
)

// looseURLKey reduces a URL to host+path for entry matching: host lowercased
// with a leading www. removed, trailing slash dropped. Feeds often publish
// links with different schemes or tracking params than the article page.
func looseURLKey(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	return host + strings.TrimRight(parsed.Path, "/")
}

func urlPath(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimRight(parsed.Path, "/")
}

// FeedEntryBody finds the feed entry matching targetLink and returns its
// embedded body as plain text. Matching relaxes in stages: full host+path,
// path only, then the target link as a substring of the entry link. Returns
// "" when no entry with content matches.
func FeedEntryBody(entries []feed.Entry, targetLink string) string {
	targetKey := looseURLKey(targetLink)
	targetPath := urlPath(targetLink)

	for _, entry := range entries {
		if entry.Link == "" || entry.Content == "" {
			continue
		}
		if targetKey != "" && looseURLKey(entry.Link) == targetKey {
			logger.Debug("feed entry matched by url", "link", targetLink)
			return HTMLToText(entry.Content)
		}
		if targetPath != "" && urlPath(entry.Link) == targetPath {
			logger.Debug("feed entry matched by path", "link", targetLink)
			return HTMLToText(entry.Content)
		}
	}
	for _, entry := range entries {
		if entry.Link == "" || entry.Content == "" {
			continue
		}
		if targetLink != "" && strings.Contains(entry.Link, targetLink) {
			logger.Debug("feed entry matched by substring", "link", targetLink)
			return HTMLToText(entry.Content)
		}
	}
	return ""
}

// BodyWithFallback combines page extraction with the feed-entry fallback: the
// feed body substitutes a missing page body outright and replaces one that
// stayed below the substantial-length bar when the feed has more to offer.
func BodyWithFallback(pageURL, page string, entries []feed.Entry) string {
	var body string
	if page != "" {
		body = ArticleBody(pageURL, page)
	}

	feedBody := FeedEntryBody(entries, pageURL)
	if feedBody != "" {
		if body == "" {
			logger.Info("using feed body, article content missing", "url", pageURL)
			return feedBody
		}
		if !Substantial(body) && utf8.RuneCountInString(feedBody) > utf8.RuneCountInString(body) {
			logger.Info("replacing short article body with feed content", "url", pageURL)
			return feedBody
		}
	}
	return body
}
