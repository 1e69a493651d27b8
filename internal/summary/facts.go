package summary

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shiranui/newsdigest/internal/logger"
)

// Fact extraction anchors summaries to checkable values: numbers and named
// entities that must literally appear in the source article.
var (
	numberRe       = regexp.MustCompile(`\b\d{1,4}(?:[,.]\d{3})*(?:\.\d+)?\b`)
	enProperNounRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+)*\b`)
	jpProperNounRe = regexp.MustCompile(`[一-龥々〆ヵヶ][\p{L}\p{N}_ー々〆ヵヶ]*`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

const (
	maxCandidateFacts = 20
	backfillFacts     = 5
)

// ExtractCandidateFacts returns up to maxCandidateFacts unique numeric values
// and named entities, shortest first.
func ExtractCandidateFacts(text string) []string {
	if text == "" {
		return nil
	}

	unique := make(map[string]bool)
	for _, re := range []*regexp.Regexp{numberRe, enProperNounRe, jpProperNounRe} {
		for _, match := range re.FindAllString(text, -1) {
			cleaned := whitespaceRe.ReplaceAllString(strings.TrimSpace(match), " ")
			if cleaned != "" {
				unique[cleaned] = true
			}
		}
	}

	facts := make([]string, 0, len(unique))
	for fact := range unique {
		facts = append(facts, fact)
	}
	sort.Slice(facts, func(i, j int) bool {
		li, lj := len([]rune(facts[i])), len([]rune(facts[j]))
		if li != lj {
			return li < lj
		}
		return strings.ToLower(facts[i]) < strings.ToLower(facts[j])
	})

	logger.Debug("extracted candidate facts", "count", len(facts))
	if len(facts) > maxCandidateFacts {
		facts = facts[:maxCandidateFacts]
	}
	return facts
}

// FactCheck records whether one diff point is literally present in the
// article.
type FactCheck struct {
	Value   string `json:"value"`
	Present bool   `json:"present_in_article"`
}

// Validation is the outcome of checking all diff points against the article.
type Validation struct {
	Points  []FactCheck `json:"points"`
	Missing []string    `json:"missing"`
	Status  string      `json:"status"`
}

// ValidateFacts checks each diff point for case-insensitive presence in the
// article. Any absent point flips the status to needs_review.
func ValidateFacts(points []string, article string) Validation {
	articleLower := strings.ToLower(article)
	validation := Validation{
		Points:  []FactCheck{},
		Missing: []string{},
		Status:  "ok",
	}
	for _, point := range points {
		normalized := strings.TrimSpace(point)
		if normalized == "" {
			continue
		}
		present := strings.Contains(articleLower, strings.ToLower(normalized))
		validation.Points = append(validation.Points, FactCheck{Value: normalized, Present: present})
		if !present {
			validation.Missing = append(validation.Missing, normalized)
			validation.Status = "needs_review"
		}
	}
	return validation
}

// EnsureDiffPoints fills in diff points from article facts when the model
// omitted them.
func EnsureDiffPoints(article string, result Result) []string {
	var points []string
	for _, point := range result.DiffPoints {
		if trimmed := strings.TrimSpace(point); trimmed != "" {
			points = append(points, trimmed)
		}
	}
	if len(points) > 0 {
		return points
	}

	extracted := ExtractCandidateFacts(article)
	if len(extracted) > backfillFacts {
		extracted = extracted[:backfillFacts]
	}
	logger.Info("populating diff points from article facts", "count", len(extracted))
	return extracted
}
