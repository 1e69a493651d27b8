package summary

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shiranui/newsdigest/internal/logger"
)

// maxOverlapTokens bounds the lexical check so huge summaries stay cheap.
const maxOverlapTokens = 40

var tokenSplitRe = regexp.MustCompile("[\\s、。・,;:!?（）()\\[\\]{}\"'`]+")

// tokenize splits text for the overlap check. Japanese tokens pass through
// verbatim; Latin tokens are lowercased and short ones dropped.
func tokenize(text string) []string {
	var tokens []string
	for _, raw := range tokenSplitRe.Split(text, -1) {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if ContainsJapanese(token) {
			tokens = append(tokens, token)
			continue
		}
		lowered := strings.ToLower(token)
		if utf8.RuneCountInString(lowered) < 3 {
			continue
		}
		tokens = append(tokens, lowered)
	}
	return tokens
}

// HasArticleOverlap reports whether enough summary tokens occur in the
// article text. The bar is one sixth of the sampled tokens, at least one.
func HasArticleOverlap(article, summaryText string) bool {
	if article == "" || summaryText == "" {
		return false
	}
	articleLower := strings.ToLower(article)
	tokens := tokenize(summaryText)
	if len(tokens) > maxOverlapTokens {
		tokens = tokens[:maxOverlapTokens]
	}
	if len(tokens) == 0 {
		return false
	}

	matches := 0
	for _, token := range tokens {
		if strings.Contains(articleLower, token) {
			matches++
		}
	}
	threshold := len(tokens) / 6
	if threshold < 1 {
		threshold = 1
	}
	return matches >= threshold
}

// EnforceQuality rejects summaries that drifted away from the article. The
// overlap check only runs when article and summary share a script family;
// a Japanese summary of an English article legitimately shares no tokens.
func EnforceQuality(article string, result Result) Result {
	if article == "" {
		return result
	}

	summaryText := strings.TrimSpace(result.SummaryLong)
	articleHasJP := ContainsJapanese(article)
	summaryHasJP := summaryText != "" && ContainsJapanese(summaryText)

	if articleHasJP == summaryHasJP {
		if !HasArticleOverlap(article, summaryText) {
			logger.Warn("summary content appears unrelated to article, using fallback")
			return Fallback()
		}
	}
	return result
}
