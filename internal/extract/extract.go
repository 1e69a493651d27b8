// Package extract turns fetched article pages into plain text. Extraction is
// a chain: site-specific selectors first, then schema.org ld+json metadata,
// then a generic HTML-to-text pass.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/shiranui/newsdigest/internal/logger"
)

// substantialBodyLen is the minimum length in characters for an extracted
// body to be trusted over the cruder fallbacks.
const substantialBodyLen = 200

var (
	spaceRunRe   = regexp.MustCompile(`[ \t\f\r\v]+`)
	newlinePadRe = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
	shareTrailRe = regexp.MustCompile(`(?is)Share this page.*`)
)

var skipTags = map[string]bool{"script": true, "style": true, "noscript": true}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"header": true, "footer": true, "main": true, "aside": true,
	"li": true, "ul": true, "ol": true, "br": true, "hr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// HTMLToText converts an HTML fragment to plain text. Block-level tags become
// line breaks and script/style content is dropped. A payload without markup,
// or one that yields no text, is returned unchanged.
func HTMLToText(payload string) string {
	if !strings.Contains(payload, "<") || !strings.Contains(payload, ">") {
		return payload
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload))
	if err != nil {
		logger.Warn("HTML parsing failed, returning raw payload", "error", err)
		return payload
	}

	var parts []string
	for _, root := range doc.Nodes {
		collectText(root, &parts)
	}
	text := strings.Join(parts, " ")
	if strings.TrimSpace(text) == "" {
		return payload
	}

	text = spaceRunRe.ReplaceAllString(text, " ")
	text = newlinePadRe.ReplaceAllString(text, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.ElementNode {
		if skipTags[n.Data] {
			return
		}
		if blockTags[n.Data] && len(*parts) > 0 {
			*parts = append(*parts, "\n")
		}
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			*parts = append(*parts, text)
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, parts)
	}
	// br and hr have no closing tag, so no trailing break for them.
	if n.Type == html.ElementNode && blockTags[n.Data] && n.Data != "br" && n.Data != "hr" && len(*parts) > 0 {
		*parts = append(*parts, "\n")
	}
}

// extractSiteBlocks handles pages that mark article paragraphs with
// data-component="text-block" wrappers. Related-story links repeat paragraphs
// back to back, so immediately repeated lines are collapsed, and the share
// widget trailer is cut off.
func extractSiteBlocks(doc *goquery.Document) string {
	var paragraphs []string
	doc.Find(`div[data-component="text-block"]`).Each(func(i int, s *goquery.Selection) {
		block, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		if text := HTMLToText(block); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return ""
	}

	article := strings.Join(paragraphs, "\n\n")
	article = shareTrailRe.ReplaceAllString(article, "")

	var cleaned []string
	for _, line := range strings.Split(article, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			cleaned = append(cleaned, "")
			continue
		}
		if len(cleaned) > 0 && stripped == cleaned[len(cleaned)-1] {
			continue
		}
		cleaned = append(cleaned, stripped)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

var articleTypes = map[string]bool{
	"Article":              true,
	"NewsArticle":          true,
	"ReportageNewsArticle": true,
	"AnalysisNewsArticle":  true,
	"LiveBlogPosting":      true,
}

func isArticleType(obj map[string]any) bool {
	raw, ok := obj["@type"]
	if !ok {
		return false
	}
	var types []string
	switch v := raw.(type) {
	case string:
		types = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				types = append(types, s)
			}
		}
	}
	for _, t := range types {
		if articleTypes[t] || strings.HasSuffix(strings.ToLower(t), "article") {
			return true
		}
	}
	return false
}

func coerceText(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		var parts []string
		for _, item := range v {
			if text := coerceText(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

var bodyKeys = []string{"articleBody", "text", "body", "description"}
var nestedKeys = []string{"mainEntityOfPage", "articleSection", "hasPart", "isPartOf", "@graph"}

func bodyFromObject(obj any) string {
	switch v := obj.(type) {
	case []any:
		for _, item := range v {
			if text := bodyFromObject(item); text != "" {
				return text
			}
		}
	case map[string]any:
		for _, key := range bodyKeys {
			if raw, ok := v[key]; ok {
				if text := coerceText(raw); text != "" {
					return text
				}
			}
		}
		for _, key := range nestedKeys {
			if raw, ok := v[key]; ok {
				if text := bodyFromObject(raw); text != "" {
					return text
				}
			}
		}
	}
	return ""
}

// loadLDJSONObjects decodes a ld+json payload. Some publishers concatenate
// several JSON documents inside one script tag, so after a failed single
// decode the payload is re-read object by object.
func loadLDJSONObjects(payload string) []any {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}

	var single any
	if err := json.Unmarshal([]byte(payload), &single); err == nil {
		if list, ok := single.([]any); ok {
			return list
		}
		return []any{single}
	}

	var items []any
	dec := json.NewDecoder(strings.NewReader(payload))
	for {
		var obj any
		if err := dec.Decode(&obj); err != nil {
			break
		}
		items = append(items, obj)
	}
	return items
}

// extractStructured pulls the article body out of schema.org metadata.
// Objects typed as articles win; any object with a body field is a fallback.
func extractStructured(doc *goquery.Document) string {
	var objects []any
	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		objects = append(objects, loadLDJSONObjects(s.Text())...)
	})

	for _, obj := range objects {
		if m, ok := obj.(map[string]any); ok && isArticleType(m) {
			if text := bodyFromObject(m); text != "" {
				return text
			}
		}
	}
	for _, obj := range objects {
		if text := bodyFromObject(obj); text != "" {
			return text
		}
	}
	return ""
}

// ArticleBody extracts plain text from a fetched page. Site-specific blocks
// win outright; a structured body must pass the substantial-length bar after
// markup cleanup or the whole page is flattened as a last resort.
func ArticleBody(pageURL, page string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		logger.Warn("page parsing failed", "url", pageURL, "error", err)
		return HTMLToText(page)
	}

	if strings.Contains(pageURL, "bbc.com/news/") {
		if article := extractSiteBlocks(doc); article != "" {
			return article
		}
	}

	if structured := extractStructured(doc); structured != "" {
		normalized := HTMLToText(structured)
		if Substantial(normalized) {
			return normalized
		}
		fallback := HTMLToText(page)
		if Substantial(fallback) {
			return fallback
		}
		return normalized
	}

	return HTMLToText(page)
}

// Substantial reports whether extracted text clears the length bar used to
// judge a body usable on its own. The bar counts characters, not bytes, so
// CJK text is measured the same as Latin text.
func Substantial(text string) bool {
	return utf8.RuneCountInString(text) >= substantialBodyLen
}

// TruncateBytes limits text to max bytes without splitting a rune.
func TruncateBytes(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
