// Package summary turns raw LLM output into validated summary records.
// Models are asked for strict JSON but drift into markdown, labeled sections
// or plain prose, so parsing degrades through several recovery stages and
// never fails outright.
package summary

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shiranui/newsdigest/internal/logger"
)

// FallbackMessage replaces a summary that could not be produced in the target
// language.
const FallbackMessage = "本文から要約を生成できませんでした。"

// Result is the normalized summarization outcome.
type Result struct {
	SummaryLong string   `json:"summary_long"`
	DiffPoints  []string `json:"diff_points"`
}

// Fallback is the neutral result used when parsing or validation rejects the
// model output.
func Fallback() Result {
	return Result{DiffPoints: []string{}}
}

var (
	jsonFenceRe       = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	japaneseCharRe    = regexp.MustCompile(`[\x{3040}-\x{30ff}\x{3400}-\x{4dbf}\x{4e00}-\x{9fff}]`)
	markdownSectionRe = regexp.MustCompile(`^\*\*\s*([^*]+?)\s*\*\*\s*[:：]\s*(.*)`)
	plainSectionRe    = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z _()\-]*?)\s*[:：]\s*(.*)`)
	bulletPrefixRe    = regexp.MustCompile(`^\s*(?:[-*・•●◎◦]|[0-9]+[.)])\s*`)
	boldSummaryRe     = regexp.MustCompile(`(?i)\*\*\s*summary(?:\s+long)?\s*\*\*\s*[:：]\s*`)
	labelSummaryRe    = regexp.MustCompile(`(?i)^\s*summary(?:_long|\s+long)?[^:：]*[:：]\s*`)
)

var summaryKeywords = []string{
	"summary_long",
	"summary long",
	"long summary",
	"summary (500",
	"summary (120",
}

var diffKeywords = []string{
	"diff_points",
	"diff points",
	"differences",
	"diffs",
}

var bulletRunes = "-*・•●◎◦"

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// ContainsJapanese reports whether the text has at least one kana or kanji
// character.
func ContainsJapanese(text string) bool {
	return japaneseCharRe.MatchString(text)
}

// findJSONCandidates returns fenced JSON blocks, or failing that every
// balanced top-level brace group in the text.
func findJSONCandidates(text string) []string {
	var candidates []string
	for _, m := range jsonFenceRe.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if len(candidates) > 0 {
		return candidates
	}

	depth := 0
	start := -1
	for idx, char := range text {
		switch char {
		case '{':
			if depth == 0 {
				start = idx
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, strings.TrimSpace(text[start:idx+1]))
					start = -1
				}
			}
		}
	}
	return candidates
}

type section struct {
	key     string
	content string
}

// parseStructuredSections splits labeled model output ("**Summary**: ..." or
// "diff_points: ...") into ordered sections. Plain-text labels are accepted
// only when the header mentions a known summary or diff keyword.
func parseStructuredSections(text string) []section {
	var sections []section
	var buffer []string
	currentKey := ""
	hasKey := false

	flush := func() {
		if hasKey {
			var kept []string
			for _, line := range buffer {
				if strings.TrimSpace(line) != "" {
					kept = append(kept, line)
				}
			}
			sections = append(sections, section{key: currentKey, content: strings.TrimSpace(strings.Join(kept, "\n"))})
		}
		hasKey = false
		buffer = nil
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimRight(rawLine, " \t\r")

		if m := markdownSectionRe.FindStringSubmatch(line); m != nil {
			flush()
			currentKey = strings.ToLower(strings.TrimSpace(m[1]))
			hasKey = true
			if remainder := strings.TrimSpace(m[2]); remainder != "" {
				buffer = []string{remainder}
			}
			continue
		}

		trimmed := strings.TrimSpace(line)
		isBullet := trimmed != "" && strings.ContainsRune(bulletRunes, []rune(trimmed)[0])
		if m := plainSectionRe.FindStringSubmatch(line); m != nil && !isBullet {
			header := strings.ToLower(strings.TrimSpace(m[1]))
			if containsAny(header, summaryKeywords) || containsAny(header, diffKeywords) {
				flush()
				currentKey = header
				hasKey = true
				if remainder := strings.TrimSpace(m[2]); remainder != "" {
					buffer = []string{remainder}
				}
				continue
			}
		}

		if hasKey {
			buffer = append(buffer, line)
		}
	}
	flush()
	return sections
}

// cleanSummaryText strips section labels, bullets and repeated lines from a
// summary candidate.
func cleanSummaryText(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}

	for _, sec := range parseStructuredSections(text) {
		if containsAny(sec.key, summaryKeywords) {
			text = sec.content
			break
		}
	}

	var lines []string
	for _, rawLine := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(rawLine)
		if stripped == "" {
			continue
		}
		if bulletPrefixRe.MatchString(stripped) {
			continue
		}
		lowered := strings.ToLower(stripped)
		if strings.HasPrefix(lowered, "summary") || strings.HasPrefix(lowered, "diff") {
			continue
		}
		if markdownSectionRe.MatchString(stripped) {
			continue
		}
		lines = append(lines, stripped)
	}

	if len(lines) > 0 {
		seen := make(map[string]bool, len(lines))
		var deduped []string
		for _, line := range lines {
			if !seen[line] {
				deduped = append(deduped, line)
				seen[line] = true
			}
		}
		text = strings.Join(deduped, "\n")
	}

	text = boldSummaryRe.ReplaceAllString(text, "")
	text = labelSummaryRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// parseDiffPointsText recovers bullet-style diff points from free text.
func parseDiffPointsText(value string) []string {
	text := strings.TrimSpace(value)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "[") {
		var parsed []any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			var points []string
			for _, item := range parsed {
				if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
					points = append(points, s)
				}
			}
			return points
		}
	}

	for _, sec := range parseStructuredSections(text) {
		if containsAny(sec.key, diffKeywords) {
			text = sec.content
			break
		}
	}

	var points []string
	for _, rawLine := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(rawLine)
		if stripped == "" {
			continue
		}
		hadPrefix := bulletPrefixRe.MatchString(stripped)
		cleaned := strings.TrimSpace(bulletPrefixRe.ReplaceAllString(stripped, ""))
		if cleaned != "" && (hadPrefix || containsAny(strings.ToLower(stripped), diffKeywords)) {
			points = append(points, cleaned)
		}
	}
	return points
}

func diffPointsFromValue(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case []any:
		var points []string
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				points = append(points, s)
			}
		}
		return points, nil
	case string:
		return parseDiffPointsText(v), nil
	}
	return nil, fmt.Errorf("diff_points must be a string or a list of strings, got %T", value)
}

// extractJapaneseLines keeps only lines containing Japanese script. When no
// line qualifies, the trimmed input is returned as-is so purely foreign
// output can still be inspected downstream.
func extractJapaneseLines(text string) string {
	if text == "" {
		return ""
	}
	var segments []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && ContainsJapanese(trimmed) {
			segments = append(segments, trimmed)
		}
	}
	if len(segments) > 0 {
		return strings.Join(segments, "\n")
	}
	return strings.TrimSpace(text)
}

// JapaneseLines keeps only the Japanese-bearing lines of text, falling back
// to the whole trimmed input when none qualify. Used for cheap extractive
// summaries where dropping everything would be worse than keeping the
// original.
func JapaneseLines(text string) string {
	return extractJapaneseLines(text)
}

// ExtractJapaneseText keeps Japanese-bearing lines and trims any leading
// non-Japanese characters from each. Returns "" when the text carries no
// Japanese at all, letting the caller pick a fallback.
func ExtractJapaneseText(value string) string {
	if value == "" {
		return ""
	}
	var segments []string
	for _, line := range strings.Split(value, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		loc := japaneseCharRe.FindStringIndex(stripped)
		if loc == nil {
			continue
		}
		if cleaned := strings.TrimSpace(stripped[loc[0]:]); cleaned != "" {
			segments = append(segments, cleaned)
		}
	}
	if len(segments) > 0 {
		return strings.TrimSpace(strings.Join(segments, "\n"))
	}
	if loc := japaneseCharRe.FindStringIndex(value); loc != nil {
		return strings.TrimSpace(value[loc[0]:])
	}
	return ""
}

func pickString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := data[key].(string); ok {
			if text := strings.TrimSpace(value); text != "" {
				return text
			}
		}
	}
	return ""
}

// normalizeSchema coerces a decoded JSON object into a Result. diff_points of
// an unexpected type is the one hard schema error.
func normalizeSchema(data map[string]any) (Result, error) {
	raw := pickString(data, "summary_long", "summary")
	cleaned := cleanSummaryText(raw)

	points, err := diffPointsFromValue(data["diff_points"])
	if err != nil {
		return Result{}, err
	}
	if points == nil {
		points = []string{}
	}
	return Result{
		SummaryLong: extractJapaneseLines(cleaned),
		DiffPoints:  points,
	}, nil
}

// ParseModelOutput converts whatever the model returned into a Result. JSON
// candidates are tried first; when none normalizes, section and bullet
// heuristics recover what they can. Never returns an error: a hopeless
// payload degrades to the raw text head.
func ParseModelOutput(text string) Result {
	for _, candidate := range findJSONCandidates(text) {
		var data map[string]any
		if err := json.Unmarshal([]byte(candidate), &data); err != nil {
			continue
		}
		result, err := normalizeSchema(data)
		if err != nil {
			logger.Warn("invalid summary schema", "error", err)
			continue
		}
		return result
	}

	logger.Warn("no structured JSON in model output, recovering heuristically")
	result := Fallback()
	summarySection := cleanSummaryText(text)
	if summarySection == "" {
		first, _, _ := strings.Cut(text, "\n")
		summarySection = cleanSummaryText(first)
	}
	if summarySection == "" {
		summarySection = truncateRunes(text, 600)
	}
	result.SummaryLong = extractJapaneseLines(summarySection)
	if points := parseDiffPointsText(text); len(points) > 0 {
		result.DiffPoints = points
	}
	return result
}

func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// FinalizeForStore applies the Japanese-output policy right before
// persistence: the summary keeps only its Japanese lines, and an entirely
// foreign-language summary becomes the fallback message.
func FinalizeForStore(result Result) Result {
	summaryLong := strings.TrimSpace(result.SummaryLong)
	if summaryLong != "" {
		if filtered := ExtractJapaneseText(summaryLong); filtered != "" {
			summaryLong = filtered
		} else if !ContainsJapanese(summaryLong) {
			summaryLong = FallbackMessage
		}
	}
	result.SummaryLong = summaryLong
	if result.DiffPoints == nil {
		result.DiffPoints = []string{}
	}
	return result
}
